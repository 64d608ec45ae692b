package session

import "github.com/lexiqai/voice-interview/internal/audio"

// Decision is the outcome of one endpoint evaluation.
type Decision int

const (
	// DecisionWait keeps buffering: too little audio, or the speaker is still talking.
	DecisionWait Decision = iota
	// DecisionDiscard drops the buffer as silence or start-up noise.
	DecisionDiscard
	// DecisionCommit hands the buffer to recognition.
	DecisionCommit
)

func (d Decision) String() string {
	switch d {
	case DecisionWait:
		return "wait"
	case DecisionDiscard:
		return "discard"
	case DecisionCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// EndpointPolicy decides from voiced intervals whether an utterance has ended.
type EndpointPolicy struct {
	MinBufferMs int64 // no evaluation below this much audio
	SilenceMs   int64 // trailing silence that ends an utterance
	NoiseMs     int64 // a lone interval at offset 0 shorter than this is noise
}

// DefaultEndpointPolicy returns the 500ms floor and 200ms gap policy.
func DefaultEndpointPolicy() EndpointPolicy {
	return EndpointPolicy{MinBufferMs: 500, SilenceMs: 200, NoiseMs: 250}
}

// Evaluate reports whether the buffer should be evaluated at all.
func (p EndpointPolicy) Evaluate(bufferMs int64) bool {
	return bufferMs >= p.MinBufferMs
}

// Decide classifies a buffer of bufferMs with the given voiced intervals.
func (p EndpointPolicy) Decide(bufferMs int64, intervals []audio.Interval) Decision {
	if !p.Evaluate(bufferMs) {
		return DecisionWait
	}
	if len(intervals) == 0 {
		return DecisionDiscard
	}
	if len(intervals) == 1 && intervals[0].StartMs == 0 && intervals[0].EndMs-intervals[0].StartMs < p.NoiseMs {
		return DecisionDiscard
	}

	last := intervals[len(intervals)-1]
	if bufferMs-last.EndMs > p.SilenceMs {
		return DecisionCommit
	}
	return DecisionWait
}
