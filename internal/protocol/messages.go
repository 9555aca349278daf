package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeCaptureStarted MessageType = "capture_started"
	TypeCaptureResult  MessageType = "capture_result"
	TypeCaptureError   MessageType = "capture_error"
	TypeCaptureEnded   MessageType = "capture_ended"
	TypePlaybackError  MessageType = "playback_error"

	TypeTranscriptMessage MessageType = "transcript_message"
	TypeSpeak             MessageType = "speak"
	TypeNavigate          MessageType = "navigate"
	TypeStatus            MessageType = "status"
	TypeState             MessageType = "state"
	TypeErrorEvent        MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Client to server.

type CaptureStarted struct {
	Type MessageType `json:"type"`
}

type CaptureResult struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type CaptureError struct {
	Type MessageType `json:"type"`
	Code string      `json:"code"`
}

type CaptureEnded struct {
	Type MessageType `json:"type"`
}

type PlaybackError struct {
	Type   MessageType `json:"type"`
	Detail string      `json:"detail,omitempty"`
}

// Server to client.

type TranscriptMessage struct {
	Type    MessageType `json:"type"`
	Text    string      `json:"text"`
	Speaker string      `json:"speaker"`
	TurnID  string      `json:"turn_id,omitempty"`
}

type Speak struct {
	Type    MessageType `json:"type"`
	Text    string      `json:"text"`
	VoiceID string      `json:"voice_id,omitempty"`
	Rate    float64     `json:"rate"`
	Pitch   float64     `json:"pitch"`
	Volume  float64     `json:"volume"`
	TurnID  string      `json:"turn_id,omitempty"`
}

type Navigate struct {
	Type MessageType `json:"type"`
	URL  string      `json:"url"`
}

type Status struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type State struct {
	Type  MessageType `json:"type"`
	Phase string      `json:"phase"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

// ParseClientMessage decodes one inbound frame into its typed message.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeCaptureStarted:
		return CaptureStarted{Type: env.Type}, nil
	case TypeCaptureEnded:
		return CaptureEnded{Type: env.Type}, nil
	case TypeCaptureResult:
		var msg CaptureResult
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid capture_result: empty text")
		}
		return msg, nil
	case TypeCaptureError:
		var msg CaptureError
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Code) == "" {
			return nil, errors.New("invalid capture_error: missing code")
		}
		return msg, nil
	case TypePlaybackError:
		var msg PlaybackError
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
