package httpapi

import (
	"net/http"

	"github.com/ent0n29/jarvis/internal/voice"
)

type uiSettingsResponse struct {
	RecognitionLang    string `json:"recognition_lang"`
	Continuous         bool   `json:"continuous"`
	InterimResults     bool   `json:"interim_results"`
	MaxAlternatives    int    `json:"max_alternatives"`
	PreferredVoiceLang string `json:"preferred_voice_lang"`
	VoiceTestPhrase    string `json:"voice_test_phrase"`
	NoCredentialText   string `json:"no_credential_text"`
	DefaultProvider    string `json:"default_provider"`
}

// handleUISettings tells the browser how to configure speech capture.
func (s *Server) handleUISettings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, uiSettingsResponse{
		RecognitionLang:    "ru-RU",
		Continuous:         false,
		InterimResults:     false,
		MaxAlternatives:    1,
		PreferredVoiceLang: "ru",
		VoiceTestPhrase:    voice.VoiceTestPhrase,
		NoCredentialText:   voice.NoCredentialText,
		DefaultProvider:    s.cfg.DefaultProvider,
	})
}
