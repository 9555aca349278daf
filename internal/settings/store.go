// Package settings persists the user's provider credential and voice
// preferences behind a small key-value contract.
package settings

import (
	"context"
	"errors"
)

// Keys kept in the store. They match what browser clients already keep in
// local storage so values can be copied across verbatim.
const (
	KeyCredential = "jarvisApiKey"
	KeyProvider   = "aiProvider"
	KeyVoice      = "jarvisVoice"
	KeyRate       = "jarvisRate"
	KeyPitch      = "jarvisPitch"
	KeyVolume     = "jarvisVolume"
)

// ErrNotFound is returned by Get when the key has never been set.
var ErrNotFound = errors.New("settings key not found")

// Store is a string key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}
