package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"

	"github.com/ent0n29/jarvis/internal/logging"
	"github.com/ent0n29/jarvis/internal/policy"
)

// Gateway sends one completion request per call to the backend named in the
// config. It never retries.
type Gateway struct {
	registry   *Registry
	httpClient *http.Client
	log        *slog.Logger
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithHTTPClient routes provider traffic through c, e.g. a SOCKS client.
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *Gateway) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// WithLogger sets the gateway logger.
func WithLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

func NewGateway(registry *Registry, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		registry:   registry,
		httpClient: &http.Client{},
		log:        logging.Discard(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Registry exposes the configured backends.
func (g *Gateway) Registry() *Registry { return g.registry }

// Complete asks the configured backend to answer query under the fixed persona.
func (g *Gateway) Complete(ctx context.Context, query string, cfg Config) (string, error) {
	var x exchange
	backend, client, err := g.client(cfg, &x)
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(backend.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(Persona),
			openai.UserMessage(query),
		},
		MaxTokens:   openai.Int(MaxTokens),
		Temperature: openai.Float(Temperature),
	})
	if err != nil {
		perr := translate(backend.ID, err, &x)
		g.log.Warn("completion failed",
			"provider", backend.ID,
			"kind", perr.Kind,
			"status", perr.StatusCode,
			"elapsed", time.Since(start),
			"err", policy.RedactString(perr.Detail),
		)
		return "", perr
	}

	if resp == nil || len(resp.Choices) == 0 {
		return "", &Error{Provider: backend.ID, Kind: KindMalformedResponse, Detail: "no choices in response"}
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", &Error{Provider: backend.ID, Kind: KindMalformedResponse, Detail: "empty message content"}
	}

	g.log.Debug("completion ready", "provider", backend.ID, "model", backend.Model, "elapsed", time.Since(start))
	return content, nil
}

// ValidateKey checks the credential by listing models on the backend.
func (g *Gateway) ValidateKey(ctx context.Context, cfg Config) error {
	var x exchange
	backend, client, err := g.client(cfg, &x)
	if err != nil {
		return err
	}
	if _, err := client.Models.List(ctx); err != nil {
		return translate(backend.ID, err, &x)
	}
	return nil
}

func (g *Gateway) client(cfg Config, x *exchange) (Backend, openai.Client, error) {
	backend, err := g.registry.Lookup(cfg.Provider)
	if err != nil {
		return Backend{}, openai.Client{}, err
	}
	if !cfg.HasCredential() {
		return Backend{}, openai.Client{}, ErrNoCredential
	}

	client := openai.NewClient(
		option.WithBaseURL(backend.BaseURL),
		authOption(backend, strings.TrimSpace(cfg.Credential)),
		option.WithHTTPClient(g.httpClient),
		option.WithMaxRetries(0),
		option.WithMiddleware(x.record),
	)
	return backend, client, nil
}

func authOption(b Backend, credential string) option.RequestOption {
	header := strings.TrimSpace(b.AuthHeader)
	scheme := strings.TrimSpace(b.AuthScheme)
	if header == "" || (strings.EqualFold(header, "Authorization") && strings.EqualFold(scheme, "Bearer")) {
		return option.WithAPIKey(credential)
	}
	value := credential
	if scheme != "" {
		value = scheme + " " + credential
	}
	return option.WithHeader(header, value)
}

// exchange remembers the status and error body of the single HTTP round trip
// so failures are classified even when the body is not valid JSON.
type exchange struct {
	status int
	body   []byte
}

func (x *exchange) record(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	resp, err := next(req)
	if err != nil || resp == nil {
		return resp, err
	}
	x.status = resp.StatusCode
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(body))
		x.body = body
	}
	return resp, nil
}

func translate(id ID, err error, x *exchange) *Error {
	status := x.status
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode > 0 {
		status = apiErr.StatusCode
	}
	if status >= http.StatusBadRequest {
		detail := errorMessage(x.body)
		if detail == "" && apiErr != nil {
			detail = strings.TrimSpace(apiErr.Message)
		}
		if detail == "" {
			detail = http.StatusText(status)
		}
		return &Error{Provider: id, Kind: KindForStatus(status), StatusCode: status, Detail: detail, Err: err}
	}
	if isNetworkError(err) {
		return &Error{Provider: id, Kind: KindNetworkFailure, Detail: err.Error(), Err: err}
	}
	return &Error{Provider: id, Kind: KindMalformedResponse, Detail: err.Error(), Err: err}
}

// errorMessage pulls a human readable message out of an error body, accepting
// both {"error":{"message":...}} and {"message":...} shapes.
func errorMessage(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"error.message", "message", "detail", "error"} {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}
