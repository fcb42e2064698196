package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lumehealth/lume-sync/pkg/config"
	pkgerrors "github.com/lumehealth/lume-sync/pkg/errors"
)

const (
	defaultTimeout                = 30 * time.Second
	errorBodyReadLimit      int64 = 1024
	responseBodyReadLimit   int64 = 1 << 20
	headerAPIKey                  = "X-API-Key"
	headerIdempotencyKey          = "Idempotency-Key"
)

var (
	errBaseURLRequired = errors.New("backend base URL is required")
	errAPIKeyRequired  = errors.New("backend api key is required")
)

// Client wraps the Lume backend HTTP API the sync engine uploads into.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured backend base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the backend client from config.
func NewClient(cfg config.BackendConfig, opts ...Option) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: timeout}
	}

	return client, nil
}

// Request describes one authenticated upload call.
type Request struct {
	// Path is the endpoint path relative to the base URL, e.g. "/api/v1/progress".
	Path string
	// Token is the session access token sent as the Bearer credential.
	Token string
	// IdempotencyKey lets the backend dedupe redelivered uploads. Optional.
	IdempotencyKey string
	// Body is JSON-marshaled into the request body.
	Body any
}

// Create POSTs the request body and returns the decoded data envelope.
func (c *Client) Create(ctx context.Context, req Request) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPost, req)
}

// Update PUTs the request body and returns the decoded data envelope.
func (c *Client) Update(ctx context.Context, req Request) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPut, req)
}

func (c *Client) send(ctx context.Context, method string, req Request) (json.RawMessage, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "backend client not configured")
	}
	if strings.TrimSpace(req.Path) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request path is required")
	}
	if strings.TrimSpace(req.Token) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "session token is required")
	}

	payload, err := json.Marshal(req.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal upload body")
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(req.Path), bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build upload request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(headerAPIKey, c.apiKey)
	httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	if req.IdempotencyKey != "" {
		httpReq.Header.Set(headerIdempotencyKey, req.IdempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "execute upload request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		code := pkgerrors.ClassifyStatus(resp.StatusCode)
		return nil, pkgerrors.Wrap(code, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "upload request failed")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "read upload response")
	}

	// The backend wraps responses in {"data": ...}; tolerate handlers that
	// return the object bare.
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "decode upload response")
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return json.RawMessage(body), nil
	}
	return envelope.Data, nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
