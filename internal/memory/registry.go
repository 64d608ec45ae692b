package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/lexiqai/voice-interview/internal/llm"
)

// ErrNotFound is returned by Visit for ids the registry does not hold.
var ErrNotFound = errors.New("conversation not found")

// Conversation is anything the maintenance sweep can keep in shape.
type Conversation interface {
	Maintain(ctx context.Context, c llm.Completer) error
}

// Factory creates or loads the conversation for an id on first reference.
type Factory[T Conversation] func(id int64) (T, error)

type entry[T Conversation] struct {
	mu       sync.Mutex // serializes every use of conv
	conv     T
	refs     int
	lastUsed time.Time
}

// Registry owns the live conversations of one kind, keyed by id. Every
// access to a conversation goes through the entry lock, so a live turn and
// the maintenance sweep never touch the same record at once.
type Registry[T Conversation] struct {
	name    string
	factory Factory[T]
	now     func() time.Time

	mu      sync.Mutex
	entries map[int64]*entry[T]
	loading map[int64]*sync.Mutex
}

// NewRegistry creates a registry. name labels it in logs and metrics.
func NewRegistry[T Conversation](name string, factory Factory[T]) *Registry[T] {
	return &Registry[T]{
		name:    name,
		factory: factory,
		now:     time.Now,
		entries: make(map[int64]*entry[T]),
		loading: make(map[int64]*sync.Mutex),
	}
}

func (r *Registry[T]) Name() string {
	return r.name
}

// Lease pins one conversation in memory until Release.
type Lease[T Conversation] struct {
	id       int64
	registry *Registry[T]
	entry    *entry[T]
	once     sync.Once
}

func (l *Lease[T]) ID() int64 {
	return l.id
}

// With runs fn holding the conversation lock.
func (l *Lease[T]) With(fn func(T) error) error {
	l.entry.mu.Lock()
	defer l.entry.mu.Unlock()
	return fn(l.entry.conv)
}

// Release unpins the conversation. Further calls are no-ops.
func (l *Lease[T]) Release() {
	l.once.Do(func() {
		l.registry.mu.Lock()
		l.entry.refs--
		l.entry.lastUsed = l.registry.now()
		l.registry.mu.Unlock()
	})
}

// Acquire returns a lease on id, creating the conversation through the
// factory if it is not held yet.
func (r *Registry[T]) Acquire(id int64) (*Lease[T], error) {
	e, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return &Lease[T]{id: id, registry: r, entry: e}, nil
}

// Do acquires id, runs fn under the conversation lock and releases it.
func (r *Registry[T]) Do(id int64, fn func(T) error) error {
	lease, err := r.Acquire(id)
	if err != nil {
		return err
	}
	defer lease.Release()
	return lease.With(fn)
}

// get returns the entry with its ref count raised. The factory runs outside
// the registry lock, once per id.
func (r *Registry[T]) get(id int64) (*entry[T], error) {
	r.mu.Lock()
	if e, ok := r.entries[id]; ok {
		e.refs++
		r.mu.Unlock()
		return e, nil
	}
	load, ok := r.loading[id]
	if !ok {
		load = &sync.Mutex{}
		r.loading[id] = load
	}
	r.mu.Unlock()

	load.Lock()
	defer load.Unlock()

	r.mu.Lock()
	if e, ok := r.entries[id]; ok {
		e.refs++
		r.mu.Unlock()
		return e, nil
	}
	r.mu.Unlock()

	conv, err := r.factory(id)
	if err != nil {
		r.mu.Lock()
		delete(r.loading, id)
		r.mu.Unlock()
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e := &entry[T]{conv: conv, refs: 1, lastUsed: r.now()}
	r.entries[id] = e
	delete(r.loading, id)
	return e, nil
}

// Visit runs fn under the lock of an already-held conversation.
func (r *Registry[T]) Visit(id int64, fn func(T) error) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		e.refs++
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	defer func() {
		r.mu.Lock()
		e.refs--
		r.mu.Unlock()
	}()
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.conv)
}

// IDs lists held conversations in ascending order.
func (r *Registry[T]) IDs() []int64 {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Maintain runs the periodic upkeep of one conversation.
func (r *Registry[T]) Maintain(ctx context.Context, id int64, c llm.Completer) error {
	return r.Visit(id, func(conv T) error {
		return conv.Maintain(ctx, c)
	})
}

// EvictIdle drops conversations nobody has leased for longer than ttl and
// returns their ids.
func (r *Registry[T]) EvictIdle(ttl time.Duration) []int64 {
	if ttl <= 0 {
		return nil
	}
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []int64
	for id, e := range r.entries {
		if e.refs == 0 && e.lastUsed.Before(cutoff) {
			delete(r.entries, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}
