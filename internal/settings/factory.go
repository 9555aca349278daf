package settings

import (
	"context"
	"fmt"
	"strings"
)

// StoreOptions selects and configures a backend.
type StoreOptions struct {
	Kind        string
	FilePath    string
	DatabaseURL string
	RedisURL    string
	RedisKey    string
}

// NewStore creates the configured backend. "auto" picks postgres when a
// database URL is set, then redis, otherwise in-memory.
func NewStore(ctx context.Context, opts StoreOptions) (Store, error) {
	kind := strings.ToLower(strings.TrimSpace(opts.Kind))
	if kind == "" || kind == "auto" {
		switch {
		case strings.TrimSpace(opts.DatabaseURL) != "":
			kind = "postgres"
		case strings.TrimSpace(opts.RedisURL) != "":
			kind = "redis"
		default:
			kind = "memory"
		}
	}

	switch kind {
	case "memory":
		return NewInMemoryStore(), nil
	case "file":
		if strings.TrimSpace(opts.FilePath) == "" {
			return nil, fmt.Errorf("file settings store requires a path")
		}
		return NewFileStore(opts.FilePath)
	case "postgres":
		return NewPostgresStore(ctx, opts.DatabaseURL)
	case "redis":
		return NewRedisStore(ctx, opts.RedisURL, opts.RedisKey)
	default:
		return nil, fmt.Errorf("unknown settings store %q", opts.Kind)
	}
}
