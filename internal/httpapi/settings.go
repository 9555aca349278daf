package httpapi

import (
	"errors"
	"net/http"

	"github.com/ent0n29/jarvis/internal/provider"
	"github.com/ent0n29/jarvis/internal/settings"
	"github.com/ent0n29/jarvis/internal/voice"
)

type settingsResponse struct {
	Provider      provider.ID    `json:"provider"`
	Credential    string         `json:"credential"`
	HasCredential bool           `json:"has_credential"`
	Voice         settings.Voice `json:"voice"`
}

type saveCredentialRequest struct {
	Provider   provider.ID `json:"provider"`
	Credential string      `json:"credential"`
}

type saveCredentialResponse struct {
	Provider provider.ID `json:"provider"`
	Message  string      `json:"message"`
}

func (s *Server) handleListProviders(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"default":   s.cfg.DefaultProvider,
		"providers": s.registry.List(),
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	current, err := s.settings.Load(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "settings_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, settingsView(current))
}

func (s *Server) handleSaveCredential(w http.ResponseWriter, r *http.Request) {
	var req saveCredentialRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	backend, err := s.settings.SaveCredential(r.Context(), req.Provider, req.Credential)
	if err != nil {
		var verr *settings.ValidationError
		var perr *provider.Error
		switch {
		case errors.As(err, &verr):
			respondError(w, http.StatusBadRequest, "invalid_"+verr.Field, verr.Message)
		case errors.As(err, &perr):
			respondError(w, http.StatusBadGateway, "provider_"+string(perr.Kind), voice.ApologyFor(err))
		default:
			respondError(w, http.StatusInternalServerError, "settings_write_failed", err.Error())
		}
		return
	}

	s.reloadAndBroadcast(r)
	respondJSON(w, http.StatusOK, saveCredentialResponse{
		Provider: backend.ID,
		Message:  voice.CredentialSavedText(backend.DisplayName),
	})
}

func (s *Server) handleSaveVoice(w http.ResponseWriter, r *http.Request) {
	var req settings.Voice
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.settings.SaveVoice(r.Context(), req); err != nil {
		var verr *settings.ValidationError
		if errors.As(err, &verr) {
			respondError(w, http.StatusBadRequest, "invalid_"+verr.Field, verr.Message)
			return
		}
		respondError(w, http.StatusInternalServerError, "settings_write_failed", err.Error())
		return
	}
	s.reloadAndBroadcast(r)
	respondJSON(w, http.StatusOK, req)
}

func (s *Server) reloadAndBroadcast(r *http.Request) {
	current, err := s.settings.Load(r.Context())
	if err != nil {
		s.log.Warn("settings reload failed", "err", err)
		return
	}
	s.broadcastSettings(r.Context(), current)
}

func settingsView(st settings.Settings) settingsResponse {
	return settingsResponse{
		Provider:      st.Provider.Provider,
		Credential:    settings.MaskCredential(st.Provider.Credential),
		HasCredential: st.Provider.HasCredential(),
		Voice:         st.Voice,
	}
}
