package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/jarvis/internal/config"
	"github.com/ent0n29/jarvis/internal/logging"
	"github.com/ent0n29/jarvis/internal/observability"
	"github.com/ent0n29/jarvis/internal/protocol"
	"github.com/ent0n29/jarvis/internal/provider"
	"github.com/ent0n29/jarvis/internal/session"
	"github.com/ent0n29/jarvis/internal/settings"
	"github.com/ent0n29/jarvis/internal/voice"
)

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	orchestrator *voice.Orchestrator
	settings     *settings.Service
	registry     *provider.Registry
	metrics      *observability.Metrics
	log          *slog.Logger
	upgrader     websocket.Upgrader
	static       http.Handler

	mu    sync.Mutex
	voice map[string]*voice.Session
	adhoc *voice.Session
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

func New(cfg config.Config, sessions *session.Manager, orchestrator *voice.Orchestrator, settingsService *settings.Service, registry *provider.Registry, metrics *observability.Metrics, opts ...Option) *Server {
	s := &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orchestrator,
		settings:     settingsService,
		registry:     registry,
		metrics:      metrics,
		log:          logging.Discard(),
		static:       newStaticHandler(),
		voice:        make(map[string]*voice.Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser pages may drive a session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/providers", s.handleListProviders)
	r.Get("/v1/settings", s.handleGetSettings)
	r.Put("/v1/settings/credential", s.handleSaveCredential)
	r.Put("/v1/settings/voice", s.handleSaveVoice)
	r.Get("/v1/onboarding/status", s.handleOnboardingStatus)
	r.Get("/v1/ui/settings", s.handleUISettings)

	r.Post("/v1/voice/session", s.handleCreateSession)
	r.Post("/v1/voice/session/{id}/end", s.handleEndSession)
	r.Get("/v1/voice/session/ws", s.handleSessionWS)
	r.Post("/v1/voice/test", s.handleVoiceTest)
	r.Post("/v1/turn", s.handleTurn)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"settings_store": s.cfg.SettingsStore,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.settings.Load(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "settings_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"settings_store":  s.cfg.SettingsStore,
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ClientID) == "" {
		req.ClientID = "browser"
	}

	sess := s.sessions.Create(req.ClientID)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		ClientID:        sess.ClientID,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.Forget(id)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusGone, "session_ended", "session has ended")
		return
	}
	current, err := s.settings.Load(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "settings_unavailable", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	log := s.log.With("session_id", sessionID)
	log.Info("websocket connected")

	// Turns outlive a dropped read loop; the writer stops with ctx.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	outbound := make(chan any, 256)
	out := voice.NewChannelOutputs(outbound, s.metrics).Outputs()
	vs := s.voiceSession(sessionID, current)
	if err := vs.Handle(ctx, voice.Event{Type: voice.EventSettingsChanged, Settings: &current}); err != nil {
		log.Warn("settings refresh failed", "err", err)
	}
	release := vs.Rebind(out)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.SessionEvents.WithLabelValues("ws_write_error").Inc()
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	out.Status.Phase(ctx, vs.Phase())
	if current.Provider.HasCredential() {
		out.Transcript.Append(ctx, voice.Message{Text: voice.CredentialReadyText, Speaker: voice.RoleAssistant})
	}

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		_ = s.sessions.Touch(sessionID)

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.sendError(outbound, "invalid_client_message", err.Error())
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		ev, ok := eventFor(parsed)
		if !ok {
			continue
		}
		if err := vs.Handle(ctx, ev); err != nil && !errors.Is(err, voice.ErrTurnInProgress) {
			s.sendError(outbound, "invalid_event", err.Error())
		}
	}

	release()
	vs.Wait()
	cancel()
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	log.Info("websocket disconnected")
}

func (s *Server) sendError(outbound chan<- any, code, detail string) {
	msg := protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: code, Detail: detail}
	select {
	case outbound <- msg:
		s.metrics.ObserveOutboundMessage(string(protocol.TypeErrorEvent), "delivered")
	default:
		// Keep websocket writes single-threaded; drop if the queue is saturated.
		s.metrics.ObserveOutboundMessage(string(protocol.TypeErrorEvent), "dropped")
	}
}

// newVoiceSession builds the phase machine for a registered session and
// keeps the manager's turn bookkeeping in step with it.
func (s *Server) newVoiceSession(sessionID string, current settings.Settings) *voice.Session {
	return voice.NewSession(sessionID, s.orchestrator, voice.DiscardOutputs(), current,
		voice.WithSessionLogger(s.log),
		voice.WithTurnObserver(
			func(turnID string) { _ = s.sessions.StartTurn(sessionID, turnID) },
			func(turn voice.Turn) { _ = s.sessions.FinishTurn(sessionID, turn.ID) },
		),
	)
}

// voiceSession returns the voice session registered for sessionID, creating
// it with current settings on first use. Websockets and synchronous turns for
// the same id share it, so they share one busy guard. It stays registered
// across reconnects until Forget.
func (s *Server) voiceSession(sessionID string, current settings.Settings) *voice.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if vs, ok := s.voice[sessionID]; ok {
		return vs
	}
	vs := s.newVoiceSession(sessionID, current)
	s.voice[sessionID] = vs
	return vs
}

// adhocSession is the voice session for turns sent without a session id.
// There is one per server.
func (s *Server) adhocSession(current settings.Settings) *voice.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adhoc == nil {
		s.adhoc = voice.NewSession("adhoc", s.orchestrator, voice.DiscardOutputs(), current, voice.WithSessionLogger(s.log))
	}
	return s.adhoc
}

// Forget drops the voice session registered for id. The session manager's
// expire hook calls it.
func (s *Server) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.voice, id)
}

// broadcastSettings pushes changed settings to every live session. Running
// turns keep their snapshot.
func (s *Server) broadcastSettings(ctx context.Context, changed settings.Settings) {
	s.mu.Lock()
	live := make([]*voice.Session, 0, len(s.voice)+1)
	for _, vs := range s.voice {
		live = append(live, vs)
	}
	if s.adhoc != nil {
		live = append(live, s.adhoc)
	}
	s.mu.Unlock()

	for _, vs := range live {
		next := changed
		if err := vs.Handle(ctx, voice.Event{Type: voice.EventSettingsChanged, Settings: &next}); err != nil {
			s.log.Warn("settings broadcast failed", "session_id", vs.ID(), "err", err)
		}
	}
}

func eventFor(msg any) (voice.Event, bool) {
	switch m := msg.(type) {
	case protocol.CaptureStarted:
		return voice.Event{Type: voice.EventCaptureStarted}, true
	case protocol.CaptureResult:
		return voice.Event{Type: voice.EventCaptureResult, Text: m.Text}, true
	case protocol.CaptureError:
		return voice.Event{Type: voice.EventCaptureError, Code: m.Code}, true
	case protocol.CaptureEnded:
		return voice.Event{Type: voice.EventCaptureEnded}, true
	case protocol.PlaybackError:
		return voice.Event{Type: voice.EventPlaybackError, Detail: m.Detail}, true
	default:
		return voice.Event{}, false
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.CaptureStarted:
		return m.Type, true
	case protocol.CaptureResult:
		return m.Type, true
	case protocol.CaptureError:
		return m.Type, true
	case protocol.CaptureEnded:
		return m.Type, true
	case protocol.PlaybackError:
		return m.Type, true
	case protocol.TranscriptMessage:
		return m.Type, true
	case protocol.Speak:
		return m.Type, true
	case protocol.Navigate:
		return m.Type, true
	case protocol.Status:
		return m.Type, true
	case protocol.State:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
