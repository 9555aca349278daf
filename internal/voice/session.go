package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ent0n29/jarvis/internal/logging"
	"github.com/ent0n29/jarvis/internal/observability"
	"github.com/ent0n29/jarvis/internal/settings"
)

// EventType names the inbound events a Session accepts.
type EventType string

const (
	EventCaptureStarted  EventType = "capture_started"
	EventCaptureResult   EventType = "capture_result"
	EventCaptureError    EventType = "capture_error"
	EventCaptureEnded    EventType = "capture_ended"
	EventPlaybackError   EventType = "playback_error"
	EventSettingsChanged EventType = "settings_changed"
)

// Event is one inbound occurrence. Only the field matching Type is read.
type Event struct {
	Type     EventType
	Text     string
	Code     string
	Detail   string
	Settings *settings.Settings
}

// Session owns the phase machine for one client. Handle is its only inbound
// entry point; at most one turn runs at a time. Connections come and go with
// Rebind while the session, and its busy guard, stays.
type Session struct {
	id      string
	orch    *Orchestrator
	out     Outputs
	metrics *observability.Metrics
	log     *slog.Logger
	onStart func(turnID string)
	onTurn  func(Turn)

	mu      sync.Mutex
	state   State
	binding uint64
	turns   sync.WaitGroup
}

type SessionOption func(*Session)

// WithTurnObserver registers callbacks for turn start and finish. Either may
// be nil.
func WithTurnObserver(start func(turnID string), finish func(Turn)) SessionOption {
	return func(s *Session) {
		s.onStart = start
		s.onTurn = finish
	}
}

func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

func NewSession(id string, orch *Orchestrator, out Outputs, initial settings.Settings, opts ...SessionOption) *Session {
	s := &Session{
		id:      id,
		orch:    orch,
		out:     out,
		metrics: orch.metrics,
		log:     logging.Discard(),
		state:   State{Phase: PhaseIdle, Settings: initial},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("session_id", id)
	return s
}

func (s *Session) ID() string { return s.id }

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Phase
}

// Rebind sends future output to out. A running turn keeps the outputs it
// started with, but its final phase change goes to out. The returned release
// detaches out again unless a later Rebind has replaced it.
func (s *Session) Rebind(out Outputs) (release func()) {
	s.mu.Lock()
	s.out = out
	s.binding++
	gen := s.binding
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.binding == gen {
			s.out = DiscardOutputs()
		}
	}
}

func (s *Session) outputs() Outputs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out
}

// Settings returns the settings the next turn will use.
func (s *Session) Settings() settings.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Settings
}

// Handle applies one inbound event. A capture_result starts a turn in the
// background; use Wait to block until it finishes.
func (s *Session) Handle(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventCaptureStarted:
		return s.captureStarted(ctx)
	case EventCaptureResult:
		snapshot, err := s.begin(ctx, ev.Text)
		if err != nil {
			return err
		}
		out := s.outputs()
		s.turns.Add(1)
		go func() {
			defer s.turns.Done()
			s.run(ctx, snapshot, out, ev.Text)
		}()
		return nil
	case EventCaptureError:
		s.captureError(ctx, ev.Code)
		return nil
	case EventCaptureEnded:
		s.transition(ctx, PhaseListening, PhaseIdle)
		return nil
	case EventPlaybackError:
		detail := strings.TrimSpace(ev.Detail)
		if detail == "" {
			detail = "playback failed"
		}
		s.orch.PlaybackFailed(ctx, s.outputs(), "", errors.New(detail))
		return nil
	case EventSettingsChanged:
		if ev.Settings == nil {
			return errors.New("settings_changed without settings")
		}
		s.mu.Lock()
		s.state.Settings = *ev.Settings
		s.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("unknown session event %q", ev.Type)
	}
}

// RunTurn runs a turn for text on the caller's goroutine.
func (s *Session) RunTurn(ctx context.Context, text string) (Turn, error) {
	return s.RunTurnTo(ctx, text, s.outputs())
}

// RunTurnTo is RunTurn with the turn's messages, playback and navigation sent
// to out instead of the session outputs. Phase changes still go to the
// session, and the busy guard is shared.
func (s *Session) RunTurnTo(ctx context.Context, text string, out Outputs) (Turn, error) {
	snapshot, err := s.begin(ctx, text)
	if err != nil {
		return Turn{}, err
	}
	s.turns.Add(1)
	defer s.turns.Done()
	return s.run(ctx, snapshot, out, text), nil
}

// Wait blocks until the outstanding turn, if any, has finished. Turns started
// through other bindings count too.
func (s *Session) Wait() {
	s.turns.Wait()
}

func (s *Session) captureStarted(ctx context.Context) error {
	s.mu.Lock()
	out := s.out
	switch {
	case !s.state.Settings.Provider.HasCredential():
		s.mu.Unlock()
		out.status(ctx, "no_credential", "")
		out.Transcript.Append(ctx, Message{Text: NoCredentialText, Speaker: RoleAssistant})
		return nil
	case s.state.Phase == PhaseProcessing:
		s.mu.Unlock()
		out.status(ctx, "busy", "")
		return ErrTurnInProgress
	}
	changed := s.state.Phase != PhaseListening
	s.state.Phase = PhaseListening
	s.mu.Unlock()
	if changed {
		out.phase(ctx, PhaseListening)
	}
	return nil
}

func (s *Session) captureError(ctx context.Context, code string) {
	code = strings.TrimSpace(code)
	s.metrics.CaptureErrors.WithLabelValues(CaptureErrorLabel(code)).Inc()
	s.log.Debug("capture error", "code", code)

	text := CaptureErrorText(code)
	out := s.outputs()
	out.status(ctx, "capture_error", text)
	out.Transcript.Append(ctx, Message{Text: text, Speaker: RoleAssistant})
	s.transition(ctx, PhaseListening, PhaseIdle)
}

// begin claims the session for a turn and returns the state the turn runs on.
func (s *Session) begin(ctx context.Context, text string) (State, error) {
	if strings.TrimSpace(text) == "" {
		return State{}, errors.New("empty utterance")
	}
	s.mu.Lock()
	out := s.out
	if s.state.Phase == PhaseProcessing {
		s.mu.Unlock()
		s.metrics.BusyRejections.Inc()
		s.metrics.ObserveTurnIndicator("busy_rejected")
		s.log.Info("utterance rejected while processing")
		out.status(ctx, "busy", "")
		return State{}, ErrTurnInProgress
	}
	snapshot := s.state
	s.state.Phase = PhaseProcessing
	s.mu.Unlock()

	out.phase(ctx, PhaseProcessing)
	return snapshot, nil
}

func (s *Session) run(ctx context.Context, snapshot State, out Outputs, text string) Turn {
	turnID := uuid.NewString()
	if s.onStart != nil {
		s.onStart(turnID)
	}
	_, turn, err := s.orch.runTurn(ctx, snapshot, out, text, turnID)
	if err != nil {
		s.log.Warn("turn not started", "err", err)
	}

	s.mu.Lock()
	s.state.Phase = PhaseIdle
	idleOut := s.out
	s.mu.Unlock()
	idleOut.phase(ctx, PhaseIdle)

	if s.onTurn != nil && err == nil {
		s.onTurn(turn)
	}
	return turn
}

func (s *Session) transition(ctx context.Context, from, to Phase) {
	s.mu.Lock()
	if s.state.Phase != from {
		s.mu.Unlock()
		return
	}
	s.state.Phase = to
	out := s.out
	s.mu.Unlock()
	out.phase(ctx, to)
}
