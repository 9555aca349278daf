package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ent0n29/jarvis/internal/voice"
)

// terminal renders a session on a line-oriented writer. open is nil when
// navigation should only be printed.
type terminal struct {
	mu   sync.Mutex
	w    io.Writer
	open func(url string) error
}

func (t *terminal) Outputs() voice.Outputs {
	return voice.Outputs{Transcript: t, Speaker: t, Navigator: t, Status: t}
}

func (t *terminal) Append(_ context.Context, msg voice.Message) {
	who := "Джарвис"
	if msg.Speaker == voice.RoleUser {
		who = "Вы"
	}
	t.printf("%s: %s\n", who, msg.Text)
}

func (t *terminal) Speak(_ context.Context, req voice.SpeakRequest) error {
	t.printf("[speak rate=%.1f pitch=%.1f volume=%.1f] %s\n", req.Voice.Rate, req.Voice.Pitch, req.Voice.Volume, req.Text)
	return nil
}

func (t *terminal) Open(_ context.Context, url string) error {
	t.printf("[navigate] %s\n", url)
	if t.open == nil {
		return nil
	}
	return t.open(url)
}

func (t *terminal) Phase(context.Context, voice.Phase) {}

func (t *terminal) Status(_ context.Context, code, detail string) {
	if detail == "" {
		t.printf("[%s]\n", code)
		return
	}
	t.printf("[%s] %s\n", code, detail)
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, format, args...)
}
