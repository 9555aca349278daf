// Package provider wraps the remote chat-completion backends behind a single
// call shape and translates their failures into a small error taxonomy.
package provider

import (
	"fmt"
	"sort"
	"strings"
)

// ID names a completion backend.
type ID string

const (
	Mistral ID = "mistral"
	OpenAI  ID = "openai"
)

// Generation parameters are fixed for every call.
const (
	MaxTokens   = 500
	Temperature = 0.7
)

// Persona is the system instruction sent with every completion request.
const Persona = "Ты JARVIS - голосовой ассистент из вселенной Marvel. Отвечай кратко, официально и по делу, " +
	"как настоящий помощник Тони Старка. Будь полезным и дружелюбным. Отвечай на русском языке."

// Config selects a backend and carries the user's credential. It is a value:
// a turn works on the copy it was handed.
type Config struct {
	Provider   ID     `json:"provider"`
	Credential string `json:"-"`
}

// HasCredential reports whether a non-blank credential is present.
func (c Config) HasCredential() bool {
	return strings.TrimSpace(c.Credential) != ""
}

// Backend describes one chat-completion endpoint.
type Backend struct {
	ID          ID     `json:"id"`
	DisplayName string `json:"display_name"`
	BaseURL     string `json:"-"`
	Model       string `json:"model"`
	AuthHeader  string `json:"-"`
	AuthScheme  string `json:"-"`
	KeysURL     string `json:"keys_url"`
}

// BackendOptions overrides base URLs and models of the built-in backends.
type BackendOptions struct {
	MistralBaseURL string
	MistralModel   string
	OpenAIBaseURL  string
	OpenAIModel    string
}

// DefaultBackends returns the two built-in backends with any overrides applied.
func DefaultBackends(opts BackendOptions) []Backend {
	return []Backend{
		{
			ID:          Mistral,
			DisplayName: "Mistral AI",
			BaseURL:     firstNonEmpty(opts.MistralBaseURL, "https://api.mistral.ai/v1/"),
			Model:       firstNonEmpty(opts.MistralModel, "mistral-small-latest"),
			AuthHeader:  "Authorization",
			AuthScheme:  "Bearer",
			KeysURL:     "https://console.mistral.ai/api-keys/",
		},
		{
			ID:          OpenAI,
			DisplayName: "OpenAI",
			BaseURL:     firstNonEmpty(opts.OpenAIBaseURL, "https://api.openai.com/v1/"),
			Model:       firstNonEmpty(opts.OpenAIModel, "gpt-3.5-turbo"),
			AuthHeader:  "Authorization",
			AuthScheme:  "Bearer",
			KeysURL:     "https://platform.openai.com/api-keys",
		},
	}
}

// Registry resolves backends by id.
type Registry struct {
	backends map[ID]Backend
}

func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[ID]Backend, len(backends))}
	for _, b := range backends {
		if !strings.HasSuffix(b.BaseURL, "/") {
			b.BaseURL += "/"
		}
		r.backends[b.ID] = b
	}
	return r
}

// Lookup returns the backend registered for id.
func (r *Registry) Lookup(id ID) (Backend, error) {
	b, ok := r.backends[ID(strings.ToLower(strings.TrimSpace(string(id))))]
	if !ok {
		return Backend{}, fmt.Errorf("unknown provider %q", id)
	}
	return b, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id ID) bool {
	_, err := r.Lookup(id)
	return err == nil
}

// List returns all backends ordered by id.
func (r *Registry) List() []Backend {
	out := make([]Backend, 0, len(r.backends))
	for _, b := range r.backends {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
