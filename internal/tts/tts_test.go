package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lexiqai/voice-interview/internal/resilience"
)

func TestStreamPCMAlignsChunks(t *testing.T) {
	body := bytes.NewReader(make([]byte, chunkBytes+5))
	var sizes []int
	err := streamPCM(context.Background(), body, func(pcm []byte) error {
		sizes = append(sizes, len(pcm))
		return nil
	})
	if err != nil {
		t.Fatalf("streamPCM failed: %v", err)
	}
	if len(sizes) != 2 || sizes[0] != chunkBytes || sizes[1] != 4 {
		t.Errorf("Expected chunks [%d 4], got %v", chunkBytes, sizes)
	}
}

func TestStreamPCMSinkError(t *testing.T) {
	stop := errors.New("stop")
	err := streamPCM(context.Background(), bytes.NewReader(make([]byte, 3*chunkBytes)), func([]byte) error {
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("Expected sink error, got %v", err)
	}
}

func TestStreamPCMCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := streamPCM(ctx, bytes.NewReader(make([]byte, 100)), func([]byte) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestCartesiaSynthesize(t *testing.T) {
	var got cartesiaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tts/bytes" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "key" || r.Header.Get("Cartesia-Version") == "" {
			t.Errorf("Missing auth headers")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write(make([]byte, 960))
	}))
	defer server.Close()

	c := NewCartesiaClient(Options{APIKey: "key", BaseURL: server.URL, Voice: "v1", SampleRate: 16000})
	var total int
	err := c.Synthesize(context.Background(), "你好。", func(pcm []byte) error {
		total += len(pcm)
		return nil
	})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if total != 960 {
		t.Errorf("Expected 960 bytes, got %d", total)
	}
	if got.Transcript != "你好。" || got.Voice.ID != "v1" || got.OutputFormat.SampleRate != 16000 || got.OutputFormat.Encoding != "pcm_s16le" {
		t.Errorf("Unexpected request %+v", got)
	}
	if c.SampleRate() != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", c.SampleRate())
	}
}

func TestCartesiaErrorStatusTripsBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer server.Close()

	breaker := resilience.NewCircuitBreaker("cartesia-test", 1, time.Minute)
	c := NewCartesiaClient(Options{BaseURL: server.URL, Breaker: breaker})
	sink := func([]byte) error { return nil }

	if err := c.Synthesize(context.Background(), "x", sink); err == nil {
		t.Fatal("Expected error status to fail")
	}
	if err := c.Synthesize(context.Background(), "x", sink); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestOpenAISynthesize(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write(make([]byte, 480))
	}))
	defer server.Close()

	c := NewOpenAIClient(Options{APIKey: "k", BaseURL: server.URL + "/v1"})
	var total int
	if err := c.Synthesize(context.Background(), "hello", func(pcm []byte) error {
		total += len(pcm)
		return nil
	}); err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if total != 480 {
		t.Errorf("Expected 480 bytes, got %d", total)
	}
	if got["response_format"] != "pcm" || got["input"] != "hello" || got["voice"] != "alloy" {
		t.Errorf("Unexpected request %v", got)
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New("polly", Options{}); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestEncoder(t *testing.T) {
	pcm := make([]byte, 480) // 240 samples at 24kHz

	enc, err := NewEncoder(EncodingPCM16, 24000, 0)
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	out, _ := enc.Encode(pcm)
	if len(out) != 480 || enc.SampleRate() != 24000 {
		t.Errorf("Expected passthrough, got %d bytes at %d", len(out), enc.SampleRate())
	}

	enc, _ = NewEncoder(EncodingMulaw, 24000, 8000)
	out, err = enc.Encode(pcm)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(out) != 80 {
		t.Errorf("Expected 80 mu-law bytes, got %d", len(out))
	}

	if _, err := NewEncoder("opus", 24000, 0); err == nil {
		t.Error("Expected error for unsupported encoding")
	}
}
