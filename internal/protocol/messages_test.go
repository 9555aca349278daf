package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseClientMessageCaptureResult(t *testing.T) {
	raw := []byte(`{"type":"capture_result","text":"Привет, Джарвис"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	result, ok := msg.(CaptureResult)
	if !ok {
		t.Fatalf("message type = %T, want CaptureResult", msg)
	}
	if result.Text != "Привет, Джарвис" {
		t.Fatalf("Text = %q, want %q", result.Text, "Привет, Джарвис")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsInvalidEnvelope(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{not json`)); err == nil {
		t.Fatalf("expected envelope error")
	}
}

func TestParseClientMessageCaptureLifecycle(t *testing.T) {
	cases := []struct {
		raw  string
		want any
	}{
		{`{"type":"capture_started"}`, CaptureStarted{Type: TypeCaptureStarted}},
		{`{"type":"capture_ended"}`, CaptureEnded{Type: TypeCaptureEnded}},
		{`{"type":"capture_error","code":"no-speech"}`, CaptureError{Type: TypeCaptureError, Code: "no-speech"}},
		{`{"type":"playback_error","detail":"synthesis-failed"}`, PlaybackError{Type: TypePlaybackError, Detail: "synthesis-failed"}},
		{`{"type":"playback_error"}`, PlaybackError{Type: TypePlaybackError}},
	}
	for _, tc := range cases {
		got, err := ParseClientMessage([]byte(tc.raw))
		if err != nil {
			t.Fatalf("ParseClientMessage(%s) error = %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseClientMessage(%s) = %#v, want %#v", tc.raw, got, tc.want)
		}
	}
}

func TestParseClientMessageRejectsInvalidPayloads(t *testing.T) {
	for _, raw := range []string{
		`{"type":"capture_result","text":"   "}`,
		`{"type":"capture_result"}`,
		`{"type":"capture_error","code":""}`,
	} {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) expected validation error", raw)
		}
	}
}

func TestSpeakEncoding(t *testing.T) {
	raw, err := json.Marshal(Speak{Type: TypeSpeak, Text: "Сейчас 09:05", Rate: 1, Pitch: 1, Volume: 0.5, TurnID: "t1"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"type":"speak","text":"Сейчас 09:05","rate":1,"pitch":1,"volume":0.5,"turn_id":"t1"}`
	if string(raw) != want {
		t.Fatalf("Marshal() = %s, want %s", raw, want)
	}
}

func BenchmarkParseClientMessageCaptureResult(b *testing.B) {
	raw := []byte(`{"type":"capture_result","text":"Расскажи анекдот про Тони Старка"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(CaptureResult); !ok {
			b.Fatalf("message type = %T, want CaptureResult", msg)
		}
	}
}
