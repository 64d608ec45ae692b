// Package idgen issues record ids.
package idgen

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Epoch is 2023-01-01T00:00:00Z in milliseconds.
const Epoch int64 = 1672531200000

var epochOnce sync.Once

// Generator hands out time-ordered 63-bit ids (41-bit ms timestamp,
// 10-bit node, 12-bit sequence).
type Generator struct {
	node *snowflake.Node
}

// New creates a generator for node (0-1023).
func New(node int64) (*Generator, error) {
	epochOnce.Do(func() { snowflake.Epoch = Epoch })
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node %d: %w", node, err)
	}
	return &Generator{node: n}, nil
}

// Next returns a new id. Safe for concurrent use.
func (g *Generator) Next() int64 {
	return g.node.Generate().Int64()
}
