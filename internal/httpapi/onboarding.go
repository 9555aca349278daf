package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/jarvis/internal/provider"
)

type onboardingCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type onboardingStatusResponse struct {
	Provider      provider.ID       `json:"provider"`
	HasCredential bool              `json:"has_credential"`
	SettingsStore string            `json:"settings_store"`
	KeyValidation string            `json:"key_validation"`
	Checks        []onboardingCheck `json:"checks"`
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, r *http.Request) {
	checks := make([]onboardingCheck, 0, 6)

	current, err := s.settings.Load(r.Context())
	if err != nil {
		checks = append(checks, onboardingCheck{
			ID:     "settings_store",
			Status: "error",
			Label:  "Settings store",
			Detail: err.Error(),
			Fix:    "Check DATABASE_URL, REDIS_URL or JARVIS_SETTINGS_FILE.",
		})
		respondJSON(w, http.StatusOK, onboardingStatusResponse{
			SettingsStore: s.cfg.SettingsStore,
			KeyValidation: s.cfg.KeyValidation,
			Checks:        checks,
		})
		return
	}
	checks = append(checks, onboardingCheck{
		ID:     "settings_store",
		Status: "ok",
		Label:  "Settings store",
		Detail: s.cfg.SettingsStore,
	})

	backend, err := s.registry.Lookup(current.Provider.Provider)
	if err != nil {
		checks = append(checks, onboardingCheck{
			ID:     "provider",
			Status: "error",
			Label:  "AI provider",
			Detail: err.Error(),
			Fix:    "Save a credential for mistral or openai.",
		})
	} else {
		checks = append(checks, onboardingCheck{
			ID:     "provider",
			Status: "ok",
			Label:  "AI provider",
			Detail: fmt.Sprintf("%s (%s)", backend.DisplayName, backend.Model),
		})
	}

	if current.Provider.HasCredential() {
		checks = append(checks, onboardingCheck{
			ID:     "credential",
			Status: "ok",
			Label:  "API key",
			Detail: "present",
		})
	} else {
		fix := "Save an API key in the settings panel."
		if backend.KeysURL != "" {
			fix = "Create a key at " + backend.KeysURL + " and save it in the settings panel."
		}
		checks = append(checks, onboardingCheck{
			ID:     "credential",
			Status: "error",
			Label:  "API key",
			Detail: "not set; only local commands will work",
			Fix:    fix,
		})
	}

	if s.cfg.KeyValidation != "remote" {
		checks = append(checks, onboardingCheck{
			ID:     "key_validation",
			Status: "warn",
			Label:  "Key validation",
			Detail: "keys are checked on first use",
			Fix:    "Set JARVIS_KEY_VALIDATION=remote to check keys when they are saved.",
		})
	}

	if proxy := strings.TrimSpace(s.cfg.ProxyAddr); proxy != "" {
		if err := probeTCP(proxy); err != nil {
			checks = append(checks, onboardingCheck{
				ID:     "proxy",
				Status: "error",
				Label:  "SOCKS5 proxy",
				Detail: err.Error(),
				Fix:    "Start the proxy or unset JARVIS_PROXY_ADDR.",
			})
		} else {
			checks = append(checks, onboardingCheck{
				ID:     "proxy",
				Status: "ok",
				Label:  "SOCKS5 proxy",
				Detail: proxy,
			})
		}
	}

	respondJSON(w, http.StatusOK, onboardingStatusResponse{
		Provider:      current.Provider.Provider,
		HasCredential: current.Provider.HasCredential(),
		SettingsStore: s.cfg.SettingsStore,
		KeyValidation: s.cfg.KeyValidation,
		Checks:        checks,
	})
}

func probeTCP(addr string) error {
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, "1080")
	}
	c, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
	if err != nil {
		return err
	}
	_ = c.Close()
	return nil
}
