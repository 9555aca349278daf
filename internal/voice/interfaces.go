package voice

import (
	"context"

	"github.com/ent0n29/jarvis/internal/provider"
	"github.com/ent0n29/jarvis/internal/settings"
)

// Role identifies who authored a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript line. Messages are append-only.
type Message struct {
	Text    string
	Speaker Role
	TurnID  string
}

// SpeakRequest asks the client to play text aloud.
type SpeakRequest struct {
	Text   string
	Voice  settings.Voice
	TurnID string
}

// Transcript receives every user and assistant message in order.
type Transcript interface {
	Append(ctx context.Context, msg Message)
}

// Speaker plays responses. An error means playback could not be started.
type Speaker interface {
	Speak(ctx context.Context, req SpeakRequest) error
}

// Navigator opens URLs requested by local commands.
type Navigator interface {
	Open(ctx context.Context, url string) error
}

// StatusSink is told about phase changes and short status codes. Optional.
type StatusSink interface {
	Phase(ctx context.Context, p Phase)
	Status(ctx context.Context, code, detail string)
}

// Completer answers passthrough queries.
type Completer interface {
	Complete(ctx context.Context, query string, cfg provider.Config) (string, error)
}

// Outputs bundles the collaborators a turn writes to.
type Outputs struct {
	Transcript Transcript
	Speaker    Speaker
	Navigator  Navigator
	Status     StatusSink
}

func (o Outputs) phase(ctx context.Context, p Phase) {
	if o.Status != nil {
		o.Status.Phase(ctx, p)
	}
}

func (o Outputs) status(ctx context.Context, code, detail string) {
	if o.Status != nil {
		o.Status.Status(ctx, code, detail)
	}
}
