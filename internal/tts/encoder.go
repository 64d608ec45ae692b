package tts

import (
	"fmt"

	"github.com/lexiqai/voice-interview/internal/audio"
)

const (
	EncodingPCM16 = "pcm16"
	EncodingMulaw = "mulaw"
)

// Encoder converts synthesizer PCM16 into the client's wire format.
type Encoder struct {
	encoding string
	inRate   int
	outRate  int
}

// NewEncoder returns an encoder from inRate PCM16 to encoding at outRate.
// outRate <= 0 keeps the input rate.
func NewEncoder(encoding string, inRate, outRate int) (*Encoder, error) {
	if outRate <= 0 {
		outRate = inRate
	}
	switch encoding {
	case EncodingPCM16, EncodingMulaw:
	default:
		return nil, fmt.Errorf("unsupported output encoding %q", encoding)
	}
	return &Encoder{encoding: encoding, inRate: inRate, outRate: outRate}, nil
}

func (e *Encoder) Encoding() string { return e.encoding }
func (e *Encoder) SampleRate() int  { return e.outRate }

// Encode converts one chunk. Chunks are converted independently.
func (e *Encoder) Encode(pcm []byte) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, nil
	}
	if e.encoding == EncodingMulaw {
		return audio.ConvertPCMToPCMU(pcm, e.inRate, e.outRate)
	}
	return audio.ResamplePCM16(pcm, e.inRate, e.outRate), nil
}
