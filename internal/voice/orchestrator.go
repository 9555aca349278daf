package voice

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/jarvis/internal/intent"
	"github.com/ent0n29/jarvis/internal/logging"
	"github.com/ent0n29/jarvis/internal/observability"
	"github.com/ent0n29/jarvis/internal/policy"
	"github.com/ent0n29/jarvis/internal/provider"
	"github.com/ent0n29/jarvis/internal/settings"
)

// Phase is the capture/turn state of a session.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseListening  Phase = "listening"
	PhaseProcessing Phase = "processing"
)

// State is what a turn reads from its session. Settings is a snapshot: later
// changes do not reach a running turn.
type State struct {
	Phase    Phase
	Settings settings.Settings
}

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeLocalError    Outcome = "local-error"
	OutcomeProviderError Outcome = "provider-error"
)

// Turn is the record of one utterance and its response.
type Turn struct {
	ID           string
	Utterance    string
	Intent       intent.Intent
	Response     string
	Outcome      Outcome
	NavigateURL  string
	ProviderKind provider.Kind
	StartedAt    time.Time
	Duration     time.Duration
}

// ErrTurnInProgress rejects an utterance while another turn is processing.
var ErrTurnInProgress = errors.New("turn already in progress")

// Orchestrator runs one utterance through routing, the optional provider call
// and playback.
type Orchestrator struct {
	router  *intent.Router
	gateway Completer
	metrics *observability.Metrics
	log     *slog.Logger
}

func NewOrchestrator(router *intent.Router, gateway Completer, metrics *observability.Metrics, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = logging.Discard()
	}
	return &Orchestrator{
		router:  router,
		gateway: gateway,
		metrics: metrics,
		log:     log,
	}
}

// RunTurn handles one utterance end to end and returns the state with the
// phase back at idle. Every failure is turned into a response message, so the
// only error is ErrTurnInProgress.
func (o *Orchestrator) RunTurn(ctx context.Context, st State, out Outputs, utterance string) (State, Turn, error) {
	return o.runTurn(ctx, st, out, utterance, uuid.NewString())
}

func (o *Orchestrator) runTurn(ctx context.Context, st State, out Outputs, utterance, turnID string) (State, Turn, error) {
	if st.Phase == PhaseProcessing {
		return st, Turn{}, ErrTurnInProgress
	}
	st.Phase = PhaseProcessing

	turn := Turn{
		ID:        turnID,
		Utterance: utterance,
		StartedAt: time.Now(),
	}
	log := o.log.With("turn_id", turn.ID)

	out.Transcript.Append(ctx, Message{Text: utterance, Speaker: RoleUser, TurnID: turn.ID})

	routeStart := time.Now()
	res := o.router.Route(utterance)
	o.metrics.ObserveTurnStage("route", time.Since(routeStart))
	turn.Intent = res.Intent
	log.Debug("utterance routed", "intent", res.Intent, "utterance", policy.RedactString(utterance))

	if res.Intent.Local() {
		turn.Response = res.Response
		turn.Outcome = OutcomeSuccess
		if res.NavigateURL != "" {
			turn.NavigateURL = res.NavigateURL
			if out.Navigator != nil {
				if err := out.Navigator.Open(ctx, res.NavigateURL); err != nil {
					log.Warn("navigation failed", "url", res.NavigateURL, "err", err)
				}
			}
		}
	} else {
		o.ask(ctx, log, st.Settings.Provider, out, res.Query, &turn)
	}

	out.Transcript.Append(ctx, Message{Text: turn.Response, Speaker: RoleAssistant, TurnID: turn.ID})
	if err := out.Speaker.Speak(ctx, SpeakRequest{Text: speechText(turn.Response), Voice: st.Settings.Voice, TurnID: turn.ID}); err != nil {
		o.PlaybackFailed(ctx, out, turn.ID, err)
	}

	turn.Duration = time.Since(turn.StartedAt)
	o.metrics.ObserveTurn(string(turn.Intent), string(turn.Outcome))
	o.metrics.ObserveTurnStage("turn_total", turn.Duration)
	log.Info("turn completed",
		"intent", turn.Intent,
		"outcome", turn.Outcome,
		"elapsed", turn.Duration,
	)

	st.Phase = PhaseIdle
	return st, turn, nil
}

func (o *Orchestrator) ask(ctx context.Context, log *slog.Logger, cfg provider.Config, out Outputs, query string, turn *Turn) {
	if !cfg.HasCredential() {
		turn.Response = NoCredentialText
		turn.Outcome = OutcomeLocalError
		out.status(ctx, "no_credential", "")
		return
	}

	out.Transcript.Append(ctx, Message{Text: ThinkingText, Speaker: RoleAssistant, TurnID: turn.ID})

	start := time.Now()
	answer, err := o.gateway.Complete(ctx, query, cfg)
	elapsed := time.Since(start)
	if err != nil {
		kind := provider.KindOf(err)
		o.metrics.ObserveProviderCall(string(cfg.Provider), string(kind), elapsed)
		log.Warn("provider call failed", "provider", cfg.Provider, "kind", kind, "err", policy.RedactString(err.Error()))

		turn.Response = ApologyFor(err)
		turn.Outcome = OutcomeProviderError
		turn.ProviderKind = kind
		out.status(ctx, "provider_error", string(kind))
		return
	}

	o.metrics.ObserveProviderCall(string(cfg.Provider), "success", elapsed)
	turn.Response = answer
	turn.Outcome = OutcomeSuccess
}

// PlaybackFailed records a playback failure and leaves an unspoken apology in
// the transcript.
func (o *Orchestrator) PlaybackFailed(ctx context.Context, out Outputs, turnID string, err error) {
	o.metrics.PlaybackErrors.Inc()
	o.log.Warn("playback failed", "turn_id", turnID, "err", err)
	out.status(ctx, "playback_error", errorDetail(err))
	out.Transcript.Append(ctx, Message{Text: PlaybackFailedText, Speaker: RoleAssistant, TurnID: turnID})
}

func errorDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
