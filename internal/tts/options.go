package tts

import "github.com/lexiqai/voice-interview/internal/resilience"

// Options configures a synthesizer. Empty fields fall back to provider defaults.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	Voice      string
	Language   string
	SampleRate int
	Breaker    *resilience.CircuitBreaker
}
