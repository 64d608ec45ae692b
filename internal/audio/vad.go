package audio

import "fmt"

// Interval is a voiced span of a buffer, in milliseconds from its first sample.
type Interval struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // consecutive silent frames that end a voiced interval
	FrameMs         int     // analysis frame length
	MinSpeechFrames int     // shorter voiced runs are treated as clicks and dropped
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   5, // 100ms at 20ms frames, below the 200ms endpoint gap
		FrameMs:         20,
		MinSpeechFrames: 2,
	}
}

// VADDetector is the frame-by-frame speech state tracker.
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// ProcessFrame feeds one frame and returns (isSpeaking, speechStarted, speechEnded).
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	frameHasSpeech := CalculateRMS(samples) > v.config.EnergyThreshold

	var speechStarted, speechEnded bool
	if frameHasSpeech {
		v.silenceCounter = 0
		if !v.isSpeaking {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
}

// EnergyVAD finds voiced intervals in a whole buffer by replaying it through a VADDetector.
type EnergyVAD struct {
	config *VADConfig
}

// NewEnergyVAD creates an interval detector. A nil config uses DefaultVADConfig.
func NewEnergyVAD(config *VADConfig) *EnergyVAD {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &EnergyVAD{config: config}
}

// Detect returns the voiced intervals of samples, in order. Interval ends are the end
// of the last voiced frame, so trailing silence never counts as speech.
func (e *EnergyVAD) Detect(samples []int16, sampleRate int) ([]Interval, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	frame := sampleRate * e.config.FrameMs / 1000
	if frame <= 0 {
		return nil, fmt.Errorf("frame of %dms is empty at %dHz", e.config.FrameMs, sampleRate)
	}

	toMs := func(sample int) int64 { return int64(sample) * 1000 / int64(sampleRate) }

	detector := NewVADDetector(e.config)
	var intervals []Interval
	startFrame, lastVoiced := -1, -1

	flush := func() {
		if startFrame < 0 {
			return
		}
		if lastVoiced-startFrame+1 >= e.config.MinSpeechFrames {
			intervals = append(intervals, Interval{
				StartMs: toMs(startFrame * frame),
				EndMs:   toMs(min((lastVoiced+1)*frame, len(samples))),
			})
		}
		startFrame = -1
	}

	for i := 0; i*frame < len(samples); i++ {
		chunk := samples[i*frame : min((i+1)*frame, len(samples))]
		_, started, ended := detector.ProcessFrame(chunk)
		if started {
			startFrame = i
		}
		if CalculateRMS(chunk) > e.config.EnergyThreshold {
			lastVoiced = i
		}
		if ended {
			flush()
		}
	}
	flush()

	return intervals, nil
}
