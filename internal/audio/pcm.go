package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// BytesPerSample is the frame size of mono PCM16.
const BytesPerSample = 2

// DecodePCM16 converts little-endian PCM16 bytes to samples.
// A trailing odd byte (a sample split across chunks) is ignored.
func DecodePCM16(data []byte) []int16 {
	samples := make([]int16, len(data)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// EncodePCM16 converts samples to little-endian PCM16 bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DurationMs is the playback length of n PCM16 mono bytes at sampleRate.
func DurationMs(n int, sampleRate int) int64 {
	if sampleRate <= 0 {
		return 0
	}
	return int64(n/BytesPerSample) * 1000 / int64(sampleRate)
}

// ResamplePCM16 changes the rate of a PCM16 byte stream.
func ResamplePCM16(pcm []byte, inputRate, outputRate int) []byte {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 {
		return pcm
	}
	return EncodePCM16(resample(DecodePCM16(pcm), inputRate, outputRate))
}

// WAV wraps mono PCM16 in a RIFF container, for providers that want a file upload.
func WAV(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	header := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36 + len(pcm)),
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),                          // fmt chunk size
		uint16(1),                           // PCM
		uint16(1),                           // mono
		uint32(sampleRate),                  // sample rate
		uint32(sampleRate * BytesPerSample), // byte rate
		uint16(BytesPerSample),              // block align
		uint16(16),                          // bits per sample
		[4]byte{'d', 'a', 't', 'a'},
		uint32(len(pcm)),
	}
	for _, field := range header {
		if err := binary.Write(&buf, binary.LittleEndian, field); err != nil {
			return nil, fmt.Errorf("failed to write wav header: %w", err)
		}
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}
