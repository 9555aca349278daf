package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ent0n29/jarvis/internal/config"
	"github.com/ent0n29/jarvis/internal/httpapi"
	"github.com/ent0n29/jarvis/internal/intent"
	"github.com/ent0n29/jarvis/internal/logging"
	"github.com/ent0n29/jarvis/internal/observability"
	"github.com/ent0n29/jarvis/internal/provider"
	"github.com/ent0n29/jarvis/internal/session"
	"github.com/ent0n29/jarvis/internal/settings"
	"github.com/ent0n29/jarvis/internal/voice"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *voice.Orchestrator
	Settings     *settings.Service
	Gateway      *provider.Gateway
	Registry     *provider.Registry
	Metrics      *observability.Metrics

	// Cleanup should be called on shutdown to release the settings store.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*BuildResult, error) {
	if log == nil {
		log = logging.Discard()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := settings.NewStore(ctx, settings.StoreOptions{
		Kind:        cfg.SettingsStore,
		FilePath:    cfg.SettingsFile,
		DatabaseURL: cfg.DatabaseURL,
		RedisURL:    cfg.RedisURL,
		RedisKey:    cfg.RedisSettingsKey,
	})
	if err != nil {
		return nil, fmt.Errorf("settings store init failed: %w", err)
	}

	httpClient, err := provider.NewHTTPClient(cfg.ProxyAddr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("provider http client init failed: %w", err)
	}
	registry := provider.NewRegistry(provider.DefaultBackends(provider.BackendOptions{
		MistralBaseURL: cfg.MistralBaseURL,
		MistralModel:   cfg.MistralModel,
		OpenAIBaseURL:  cfg.OpenAIBaseURL,
		OpenAIModel:    cfg.OpenAIModel,
	})...)
	gateway := provider.NewGateway(registry,
		provider.WithHTTPClient(httpClient),
		provider.WithLogger(log.With("component", "provider")),
	)

	settingsService := settings.NewService(store, registry,
		settings.WithDefaultProvider(provider.ID(cfg.DefaultProvider)),
		settings.WithKeyValidation(settings.ValidationPolicy(cfg.KeyValidation), gateway),
		settings.WithLogger(log.With("component", "settings")),
	)

	loc, err := cfg.Location()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	router := intent.NewRouter(intent.Options{
		SearchURL:           cfg.SearchURL,
		ChatURL:             cfg.ChatURL,
		EncyclopediaBaseURL: cfg.EncyclopediaBaseURL,
		Location:            loc,
	})
	orchestrator := voice.NewOrchestrator(router, gateway, metrics, log.With("component", "voice"))

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	api := httpapi.New(cfg, sessions, orchestrator, settingsService, registry, metrics,
		httpapi.WithLogger(log.With("component", "httpapi")),
	)
	sessions.SetExpireHook(func(s *session.Session) {
		api.Forget(s.ID)
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	log.Info("jarvis assembled",
		"settings_store", cfg.SettingsStore,
		"provider", cfg.DefaultProvider,
		"key_validation", cfg.KeyValidation,
		"proxy", cfg.ProxyAddr != "",
	)

	cleanup := func() error {
		if err := store.Close(); err != nil {
			return fmt.Errorf("settings store close: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Settings:     settingsService,
		Gateway:      gateway,
		Registry:     registry,
		Metrics:      metrics,
		Cleanup:      cleanup,
	}, nil
}
