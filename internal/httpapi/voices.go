package httpapi

import (
	"errors"
	"net/http"

	"github.com/ent0n29/jarvis/internal/settings"
	"github.com/ent0n29/jarvis/internal/voice"
)

type voiceTestRequest struct {
	Voice *settings.Voice `json:"voice,omitempty"`
}

// handleVoiceTest returns the speak request for the fixed test phrase. An
// explicit voice previews unsaved settings.
func (s *Server) handleVoiceTest(w http.ResponseWriter, r *http.Request) {
	var req voiceTestRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var v settings.Voice
	if req.Voice != nil {
		var verr *settings.ValidationError
		if err := settings.ValidateVoice(*req.Voice); errors.As(err, &verr) {
			respondError(w, http.StatusBadRequest, "invalid_"+verr.Field, verr.Message)
			return
		}
		v = *req.Voice
	} else {
		current, err := s.settings.Load(r.Context())
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, "settings_unavailable", err.Error())
			return
		}
		v = current.Voice
	}

	s.metrics.SessionEvents.WithLabelValues("voice_test").Inc()
	respondJSON(w, http.StatusOK, speakMessage(voice.SpeakRequest{Text: voice.VoiceTestPhrase, Voice: v}))
}
