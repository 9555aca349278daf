package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ent0n29/jarvis/internal/logging"
	"github.com/ent0n29/jarvis/internal/provider"
)

// Voice holds playback preferences forwarded with every speak request.
type Voice struct {
	VoiceID string  `json:"voice_id"`
	Rate    float64 `json:"rate"`
	Pitch   float64 `json:"pitch"`
	Volume  float64 `json:"volume"`
}

// DefaultVoice is used for values that were never saved.
func DefaultVoice() Voice {
	return Voice{Rate: 1, Pitch: 1, Volume: 1}
}

// Allowed voice ranges.
const (
	MinRate   = 0.1
	MaxRate   = 10
	MinPitch  = 0
	MaxPitch  = 2
	MinVolume = 0
	MaxVolume = 1
)

// Settings is the typed view of the store.
type Settings struct {
	Provider provider.Config
	Voice    Voice
}

// ValidationError rejects user input at the settings boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// ValidationPolicy decides whether a credential is checked against the
// backend when it is saved.
type ValidationPolicy string

const (
	ValidateNone   ValidationPolicy = "none"
	ValidateRemote ValidationPolicy = "remote"
)

// KeyValidator confirms a credential with the backend.
type KeyValidator interface {
	ValidateKey(ctx context.Context, cfg provider.Config) error
}

type ServiceOption func(*Service)

func WithDefaultProvider(id provider.ID) ServiceOption {
	return func(s *Service) {
		if id != "" {
			s.defaultProvider = id
		}
	}
}

// WithKeyValidation enables the remote policy when v is non-nil.
func WithKeyValidation(policy ValidationPolicy, v KeyValidator) ServiceOption {
	return func(s *Service) {
		s.policy = policy
		s.validator = v
	}
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// Service gives typed, validated access to a Store.
type Service struct {
	store           Store
	registry        *provider.Registry
	defaultProvider provider.ID
	policy          ValidationPolicy
	validator       KeyValidator
	log             *slog.Logger
}

func NewService(store Store, registry *provider.Registry, opts ...ServiceOption) *Service {
	s := &Service{
		store:           store,
		registry:        registry,
		defaultProvider: provider.Mistral,
		policy:          ValidateNone,
		log:             logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the stored settings, filling defaults for missing or unreadable
// values.
func (s *Service) Load(ctx context.Context) (Settings, error) {
	out := Settings{
		Provider: provider.Config{Provider: s.defaultProvider},
		Voice:    DefaultVoice(),
	}

	cred, err := s.get(ctx, KeyCredential)
	if err != nil {
		return Settings{}, err
	}
	out.Provider.Credential = cred

	id, err := s.get(ctx, KeyProvider)
	if err != nil {
		return Settings{}, err
	}
	if id != "" {
		if s.registry.Has(provider.ID(id)) {
			out.Provider.Provider = provider.ID(strings.ToLower(strings.TrimSpace(id)))
		} else {
			s.log.Warn("ignoring stored provider", "provider", id)
		}
	}

	if out.Voice.VoiceID, err = s.get(ctx, KeyVoice); err != nil {
		return Settings{}, err
	}
	for _, f := range []struct {
		key      string
		dst      *float64
		min, max float64
	}{
		{KeyRate, &out.Voice.Rate, MinRate, MaxRate},
		{KeyPitch, &out.Voice.Pitch, MinPitch, MaxPitch},
		{KeyVolume, &out.Voice.Volume, MinVolume, MaxVolume},
	} {
		raw, err := s.get(ctx, f.key)
		if err != nil {
			return Settings{}, err
		}
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < f.min || v > f.max {
			s.log.Warn("ignoring stored voice value", "key", f.key, "value", raw)
			continue
		}
		*f.dst = v
	}
	return out, nil
}

// SaveCredential stores a trimmed credential together with its provider and
// returns the backend it belongs to.
func (s *Service) SaveCredential(ctx context.Context, id provider.ID, credential string) (provider.Backend, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return provider.Backend{}, &ValidationError{Field: "credential", Message: "Введите действительный API ключ"}
	}
	if id == "" {
		id = s.defaultProvider
	}
	backend, err := s.registry.Lookup(id)
	if err != nil {
		return provider.Backend{}, &ValidationError{Field: "provider", Message: err.Error()}
	}

	if s.policy == ValidateRemote && s.validator != nil {
		if err := s.validator.ValidateKey(ctx, provider.Config{Provider: backend.ID, Credential: credential}); err != nil {
			if provider.KindOf(err) == provider.KindUnauthorized {
				return provider.Backend{}, &ValidationError{Field: "credential", Message: "Неверный API ключ. Проверьте и введите корректный ключ."}
			}
			return provider.Backend{}, fmt.Errorf("validate credential: %w", err)
		}
	}

	// The pair is written together: a failed provider write puts the old
	// credential back so a key is never sent to another backend.
	previous, err := s.get(ctx, KeyCredential)
	if err != nil {
		return provider.Backend{}, err
	}
	if err := s.store.Set(ctx, KeyCredential, credential); err != nil {
		return provider.Backend{}, err
	}
	if err := s.store.Set(ctx, KeyProvider, string(backend.ID)); err != nil {
		if rerr := s.store.Set(context.WithoutCancel(ctx), KeyCredential, previous); rerr != nil {
			s.log.Error("credential rollback failed", "provider", backend.ID, "err", rerr)
			return provider.Backend{}, errors.Join(err, fmt.Errorf("restore credential: %w", rerr))
		}
		return provider.Backend{}, err
	}
	s.log.Info("credential saved", "provider", backend.ID)
	return backend, nil
}

// SaveVoice validates and stores playback preferences.
func (s *Service) SaveVoice(ctx context.Context, v Voice) error {
	if err := ValidateVoice(v); err != nil {
		return err
	}
	pairs := [][2]string{
		{KeyVoice, strings.TrimSpace(v.VoiceID)},
		{KeyRate, formatFloat(v.Rate)},
		{KeyPitch, formatFloat(v.Pitch)},
		{KeyVolume, formatFloat(v.Volume)},
	}
	for _, p := range pairs {
		if err := s.store.Set(ctx, p[0], p[1]); err != nil {
			return err
		}
	}
	return nil
}

// ValidateVoice checks every value against its allowed range.
func ValidateVoice(v Voice) error {
	switch {
	case v.Rate < MinRate || v.Rate > MaxRate:
		return &ValidationError{Field: "rate", Message: fmt.Sprintf("must be between %g and %g", float64(MinRate), float64(MaxRate))}
	case v.Pitch < MinPitch || v.Pitch > MaxPitch:
		return &ValidationError{Field: "pitch", Message: fmt.Sprintf("must be between %g and %g", float64(MinPitch), float64(MaxPitch))}
	case v.Volume < MinVolume || v.Volume > MaxVolume:
		return &ValidationError{Field: "volume", Message: fmt.Sprintf("must be between %g and %g", float64(MinVolume), float64(MaxVolume))}
	}
	return nil
}

// MaskCredential keeps the last four characters visible.
func MaskCredential(credential string) string {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ""
	}
	r := []rune(credential)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}

func (s *Service) get(ctx context.Context, key string) (string, error) {
	v, err := s.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}
	return v, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
