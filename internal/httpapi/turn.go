package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ent0n29/jarvis/internal/protocol"
	"github.com/ent0n29/jarvis/internal/voice"
)

type turnRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

type turnResponse struct {
	TurnID      string                       `json:"turn_id"`
	Intent      string                       `json:"intent"`
	Outcome     string                       `json:"outcome"`
	Messages    []protocol.TranscriptMessage `json:"messages"`
	Speak       *protocol.Speak              `json:"speak,omitempty"`
	Navigations []string                     `json:"navigations"`
	ElapsedMS   int64                        `json:"elapsed_ms"`
}

// handleTurn runs one utterance synchronously. With a session_id the turn
// shares that session's busy guard; a live websocket still sees the phase
// changes but the turn output is returned in the response.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "empty_text", "text is required")
		return
	}

	vs, status, code, err := s.turnSession(r, strings.TrimSpace(req.SessionID))
	if err != nil {
		respondError(w, status, code, err.Error())
		return
	}

	rec := &voice.Recorder{}
	turn, err := vs.RunTurnTo(r.Context(), req.Text, rec.Outputs())
	if errors.Is(err, voice.ErrTurnInProgress) {
		respondError(w, http.StatusConflict, "turn_in_progress", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_turn", err.Error())
		return
	}

	messages, speaks, navigated := rec.Snapshot()
	res := turnResponse{
		TurnID:      turn.ID,
		Intent:      string(turn.Intent),
		Outcome:     string(turn.Outcome),
		Messages:    make([]protocol.TranscriptMessage, 0, len(messages)),
		Navigations: navigated,
		ElapsedMS:   turn.Duration.Milliseconds(),
	}
	if res.Navigations == nil {
		res.Navigations = []string{}
	}
	for _, m := range messages {
		res.Messages = append(res.Messages, protocol.TranscriptMessage{
			Type:    protocol.TypeTranscriptMessage,
			Text:    m.Text,
			Speaker: string(m.Speaker),
			TurnID:  m.TurnID,
		})
	}
	if len(speaks) > 0 {
		sp := speakMessage(speaks[0])
		res.Speak = &sp
	}
	respondJSON(w, http.StatusOK, res)
}

// turnSession resolves the voice session a synchronous turn runs on. A turn
// for a known session shares the voice session its websocket uses, if any.
func (s *Server) turnSession(r *http.Request, sessionID string) (*voice.Session, int, string, error) {
	current, err := s.settings.Load(r.Context())
	if err != nil {
		return nil, http.StatusServiceUnavailable, "settings_unavailable", err
	}
	if sessionID == "" {
		return s.adhocSession(current), 0, "", nil
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, http.StatusNotFound, "session_not_found", err
	}
	_ = s.sessions.Touch(sess.ID)
	return s.voiceSession(sess.ID, current), 0, "", nil
}

func speakMessage(req voice.SpeakRequest) protocol.Speak {
	return protocol.Speak{
		Type:    protocol.TypeSpeak,
		Text:    req.Text,
		VoiceID: req.Voice.VoiceID,
		Rate:    req.Voice.Rate,
		Pitch:   req.Voice.Pitch,
		Volume:  req.Voice.Volume,
		TurnID:  req.TurnID,
	}
}
