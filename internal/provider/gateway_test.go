package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

type capturedRequest struct {
	Path          string
	Authorization string
	Header        http.Header
	Body          map[string]any
}

func newTestServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32, chan capturedRequest) {
	t.Helper()
	var calls atomic.Int32
	captured := make(chan capturedRequest, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		raw, _ := io.ReadAll(r.Body)
		var parsed map[string]any
		_ = json.Unmarshal(raw, &parsed)
		captured <- capturedRequest{
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			Header:        r.Header.Clone(),
			Body:          parsed,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, captured
}

func testGateway(baseURL string) *Gateway {
	return NewGateway(NewRegistry(DefaultBackends(BackendOptions{
		MistralBaseURL: baseURL + "/v1",
		OpenAIBaseURL:  baseURL + "/openai/v1/",
	})...))
}

const okCompletion = `{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"К вашим услугам, сэр."}}]}`

func TestGatewayCompleteSendsFixedRequest(t *testing.T) {
	srv, calls, captured := newTestServer(t, http.StatusOK, okCompletion)
	g := testGateway(srv.URL)

	got, err := g.Complete(context.Background(), "Кто такой Тони Старк?", Config{Provider: Mistral, Credential: " key-1 "})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "К вашим услугам, сэр." {
		t.Fatalf("Complete() = %q", got)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}

	req := <-captured
	if req.Path != "/v1/chat/completions" {
		t.Fatalf("path = %q, want /v1/chat/completions", req.Path)
	}
	if req.Authorization != "Bearer key-1" {
		t.Fatalf("Authorization = %q, want %q", req.Authorization, "Bearer key-1")
	}
	if req.Body["model"] != "mistral-small-latest" {
		t.Fatalf("model = %v", req.Body["model"])
	}
	if req.Body["max_tokens"] != float64(500) {
		t.Fatalf("max_tokens = %v, want 500", req.Body["max_tokens"])
	}
	if req.Body["temperature"] != 0.7 {
		t.Fatalf("temperature = %v, want 0.7", req.Body["temperature"])
	}
	if _, ok := req.Body["stream"]; ok {
		t.Fatalf("request should not ask for streaming: %v", req.Body)
	}
	msgs, ok := req.Body["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("messages = %#v, want two entries", req.Body["messages"])
	}
	system := msgs[0].(map[string]any)
	user := msgs[1].(map[string]any)
	if system["role"] != "system" || system["content"] != Persona {
		t.Fatalf("system message = %#v", system)
	}
	if user["role"] != "user" || user["content"] != "Кто такой Тони Старк?" {
		t.Fatalf("user message = %#v", user)
	}
}

func TestGatewaySelectsBackendByConfig(t *testing.T) {
	srv, _, captured := newTestServer(t, http.StatusOK, okCompletion)
	g := testGateway(srv.URL)

	if _, err := g.Complete(context.Background(), "hi", Config{Provider: OpenAI, Credential: "sk-1"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	req := <-captured
	if req.Path != "/openai/v1/chat/completions" {
		t.Fatalf("path = %q", req.Path)
	}
	if req.Body["model"] != "gpt-3.5-turbo" {
		t.Fatalf("model = %v", req.Body["model"])
	}
}

func TestGatewayStatusTaxonomySingleAttempt(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`, KindUnauthorized},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, KindRateLimited},
		{"server error", http.StatusInternalServerError, `{}`, KindServerUnavailable},
		{"bad gateway without body", http.StatusBadGateway, ``, KindServerUnavailable},
		{"unauthorized malformed body", http.StatusUnauthorized, `<html>nope`, KindUnauthorized},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad"}}`, KindMalformedResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, calls, _ := newTestServer(t, tc.status, tc.body)
			g := testGateway(srv.URL)

			_, err := g.Complete(context.Background(), "вопрос", Config{Provider: Mistral, Credential: "k"})
			var perr *Error
			if !errors.As(err, &perr) {
				t.Fatalf("error = %v (%T), want *provider.Error", err, err)
			}
			if perr.Kind != tc.kind {
				t.Fatalf("Kind = %q, want %q", perr.Kind, tc.kind)
			}
			if perr.StatusCode != tc.status {
				t.Fatalf("StatusCode = %d, want %d", perr.StatusCode, tc.status)
			}
			if perr.Detail == "" {
				t.Fatalf("Detail should never be empty")
			}
			if calls.Load() != 1 {
				t.Fatalf("calls = %d, want exactly 1", calls.Load())
			}
		})
	}
}

func TestGatewayExtractsErrorMessage(t *testing.T) {
	srv, _, _ := newTestServer(t, http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided"}}`)
	_, err := testGateway(srv.URL).Complete(context.Background(), "q", Config{Provider: Mistral, Credential: "k"})
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *provider.Error", err)
	}
	if !strings.Contains(perr.Detail, "Incorrect API key") {
		t.Fatalf("Detail = %q, want the body message", perr.Detail)
	}
}

func TestGatewayMalformedSuccessResponses(t *testing.T) {
	for name, body := range map[string]string{
		"no choices":    `{"id":"c1","object":"chat.completion","choices":[]}`,
		"empty content": `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":""}}]}`,
		"not json":      `definitely not json`,
	} {
		t.Run(name, func(t *testing.T) {
			srv, calls, _ := newTestServer(t, http.StatusOK, body)
			_, err := testGateway(srv.URL).Complete(context.Background(), "q", Config{Provider: Mistral, Credential: "k"})
			if err == nil {
				t.Fatalf("Complete() expected error")
			}
			if got := KindOf(err); got != KindMalformedResponse {
				t.Fatalf("KindOf() = %q, want %q (err=%v)", got, KindMalformedResponse, err)
			}
			if calls.Load() != 1 {
				t.Fatalf("calls = %d, want 1", calls.Load())
			}
		})
	}
}

func TestGatewayNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := testGateway(url).Complete(context.Background(), "q", Config{Provider: Mistral, Credential: "k"})
	if got := KindOf(err); got != KindNetworkFailure {
		t.Fatalf("KindOf() = %q, want %q (err=%v)", got, KindNetworkFailure, err)
	}
}

func TestGatewayRejectsMissingCredentialWithoutNetwork(t *testing.T) {
	srv, calls, _ := newTestServer(t, http.StatusOK, okCompletion)
	_, err := testGateway(srv.URL).Complete(context.Background(), "q", Config{Provider: Mistral, Credential: "   "})
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("error = %v, want ErrNoCredential", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("calls = %d, want 0", calls.Load())
	}
}

func TestGatewayRejectsUnknownProvider(t *testing.T) {
	srv, calls, _ := newTestServer(t, http.StatusOK, okCompletion)
	if _, err := testGateway(srv.URL).Complete(context.Background(), "q", Config{Provider: "claude", Credential: "k"}); err == nil {
		t.Fatalf("Complete() expected error for unknown provider")
	}
	if calls.Load() != 0 {
		t.Fatalf("calls = %d, want 0", calls.Load())
	}
}

func TestGatewayCustomAuthHeader(t *testing.T) {
	srv, _, captured := newTestServer(t, http.StatusOK, okCompletion)
	g := NewGateway(NewRegistry(Backend{
		ID:         "custom",
		BaseURL:    srv.URL + "/v1",
		Model:      "m",
		AuthHeader: "X-Api-Key",
	}))

	if _, err := g.Complete(context.Background(), "q", Config{Provider: "custom", Credential: "abc"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	req := <-captured
	if got := req.Header.Get("X-Api-Key"); got != "abc" {
		t.Fatalf("X-Api-Key = %q, want %q", got, "abc")
	}
}

func TestGatewayValidateKey(t *testing.T) {
	srv, _, captured := newTestServer(t, http.StatusOK, `{"object":"list","data":[{"id":"m","object":"model","created":1,"owned_by":"x"}]}`)
	if err := testGateway(srv.URL).ValidateKey(context.Background(), Config{Provider: Mistral, Credential: "k"}); err != nil {
		t.Fatalf("ValidateKey() error = %v", err)
	}
	if req := <-captured; req.Path != "/v1/models" {
		t.Fatalf("path = %q, want /v1/models", req.Path)
	}

	bad, _, _ := newTestServer(t, http.StatusUnauthorized, `{"error":{"message":"invalid"}}`)
	err := testGateway(bad.URL).ValidateKey(context.Background(), Config{Provider: Mistral, Credential: "k"})
	if KindOf(err) != KindUnauthorized {
		t.Fatalf("KindOf() = %q, want %q", KindOf(err), KindUnauthorized)
	}
}

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	r := NewRegistry(DefaultBackends(BackendOptions{})...)
	b, err := r.Lookup(" OpenAI ")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if b.ID != OpenAI || !strings.HasSuffix(b.BaseURL, "/") {
		t.Fatalf("unexpected backend: %+v", b)
	}
	if got := r.List(); len(got) != 2 || got[0].ID != Mistral {
		t.Fatalf("List() = %+v", got)
	}
}

func TestKindForStatus(t *testing.T) {
	cases := []struct {
		code int
		want Kind
	}{
		{401, KindUnauthorized},
		{429, KindRateLimited},
		{500, KindServerUnavailable},
		{503, KindServerUnavailable},
		{404, KindMalformedResponse},
	}
	for _, tc := range cases {
		if got := KindForStatus(tc.code); got != tc.want {
			t.Fatalf("KindForStatus(%d) = %q, want %q", tc.code, got, tc.want)
		}
	}
}

func TestNewHTTPClientWithoutProxy(t *testing.T) {
	c, err := NewHTTPClient("")
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v", err)
	}
	if c.Timeout != 0 {
		t.Fatalf("Timeout = %v, want transport default", c.Timeout)
	}
	proxied, err := NewHTTPClient("127.0.0.1:1080")
	if err != nil {
		t.Fatalf("NewHTTPClient(proxy) error = %v", err)
	}
	if proxied.Transport == nil {
		t.Fatalf("proxied client should carry a custom transport")
	}
}

func TestGatewayRedactsKeysInFailureLog(t *testing.T) {
	srv, _, _ := newTestServer(t, http.StatusUnauthorized,
		`{"error":{"message":"Incorrect API key provided: sk-live1234567890abcd. You can find your API key at the dashboard."}}`)
	var buf strings.Builder
	g := NewGateway(NewRegistry(DefaultBackends(BackendOptions{OpenAIBaseURL: srv.URL + "/openai/v1/"})...),
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
	)

	_, err := g.Complete(context.Background(), "вопрос", Config{Provider: OpenAI, Credential: "sk-live1234567890abcd"})
	if KindOf(err) != KindUnauthorized {
		t.Fatalf("kind = %v, want %v", KindOf(err), KindUnauthorized)
	}
	logged := buf.String()
	if strings.Contains(logged, "sk-live1234567890abcd") {
		t.Fatalf("log leaked credential: %s", logged)
	}
	if !strings.Contains(logged, "[REDACTED_KEY]") {
		t.Fatalf("log = %s, want redaction marker", logged)
	}
}
