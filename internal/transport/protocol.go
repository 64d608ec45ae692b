// Package transport serves the streaming voice protocol over WebSocket.
//
// Inbound text frames are JSON: {"action":"init","sampleRate":16000},
// {"action":"record","audio":"<base64 PCM16>"} and {"action":"finish"}.
// Binary frames are raw audio and count as record. Init may carry
// "encoding":"mulaw" for G.711 input; the session decodes it once the init
// is accepted.
// Outbound text frames are orchestrator events; outbound binary frames are
// reply audio.
package transport

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/voice-interview/internal/session"
)

type inboundMessage struct {
	Action     string `json:"action"`
	SampleRate int    `json:"sampleRate"`
	Encoding   string `json:"encoding"`
	Audio      []byte `json:"audio"`
}

// decodeRequest turns one websocket frame into a session request.
func decodeRequest(kind int, data []byte) (session.Request, error) {
	switch kind {
	case websocket.BinaryMessage:
		return session.Request{Action: session.ActionRecord, Audio: data}, nil
	case websocket.TextMessage:
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return session.Request{}, fmt.Errorf("invalid message: %w", err)
		}
		switch msg.Action {
		case session.ActionInit, session.ActionRecord, session.ActionFinish:
		default:
			return session.Request{}, fmt.Errorf("unknown action %q", msg.Action)
		}
		return session.Request{
			Action:     msg.Action,
			SampleRate: msg.SampleRate,
			Encoding:   msg.Encoding,
			Audio:      msg.Audio,
		}, nil
	default:
		return session.Request{}, fmt.Errorf("unsupported frame type %d", kind)
	}
}
