package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/devilmonastery/authgate/internal/pkg/idgen"
	"github.com/devilmonastery/authgate/internal/pkg/logger"
)

// DefaultBaseURL is the Identity Toolkit REST endpoint
const DefaultBaseURL = "https://identitytoolkit.googleapis.com/v1"

// DefaultTimeout bounds one provider round trip
const DefaultTimeout = 15 * time.Second

// maxBodyBytes caps how much of a provider response is read
const maxBodyBytes = 1 << 20

// Operation names a provider call. The value is the accounts:<op> path suffix.
type Operation string

const (
	OpSignIn         Operation = "signInWithPassword"
	OpSignUp         Operation = "signUp"
	OpChangePassword Operation = "update"
)

// DefaultMessage is shown when the provider rejects a call without saying why
func (op Operation) DefaultMessage() string {
	if op == OpChangePassword {
		return "Changing the old password with the new one failed"
	}
	return "Authentication failed"
}

// Config holds provider connection settings
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Result is a successful exchange. ExpiresAt is computed once, when the response is processed.
type Result struct {
	Token     string
	ExpiresIn time.Duration
	ExpiresAt time.Time
	Email     string
	UserID    string
}

// Client performs credential exchanges against the identity provider.
// It issues exactly one request per call and never retries.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	now     func() time.Time
	log     *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its transport is still wrapped with metrics.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithNow replaces the time source used to compute ExpiresAt
func WithNow(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a provider client
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("identity: invalid base url %q: %w", baseURL, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// Copy so a caller-supplied client is not mutated
	hc := *c.http
	hc.Transport = NewMetricsTransport(hc.Transport)
	c.http = &hc
	c.log = c.log.With("component", "identity")

	return c, nil
}

type credentialsRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type updateRequest struct {
	IDToken           string `json:"idToken"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

// SignIn exchanges email and password for a token
func (c *Client) SignIn(ctx context.Context, email, password string) (*Result, error) {
	return c.exchange(ctx, OpSignIn, credentialsRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	})
}

// SignUp creates an account and returns its first token
func (c *Client) SignUp(ctx context.Context, email, password string) (*Result, error) {
	return c.exchange(ctx, OpSignUp, credentialsRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	})
}

// ChangePassword sets a new password for the account owning currentToken.
// The provider answers with a rotated token that replaces currentToken.
func (c *Client) ChangePassword(ctx context.Context, currentToken, newPassword string) (*Result, error) {
	return c.exchange(ctx, OpChangePassword, updateRequest{
		IDToken:           currentToken,
		Password:          newPassword,
		ReturnSecureToken: true,
	})
}

type successResponse struct {
	IDToken   string  `json:"idToken"`
	ExpiresIn seconds `json:"expiresIn"`
	Email     string  `json:"email"`
	LocalID   string  `json:"localId"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) exchange(ctx context.Context, op Operation, request any) (*Result, error) {
	log := logger.WithOperation(c.log, string(op), idgen.NewRequestID())

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to encode request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(op), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Debug("calling identity provider")
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn("identity provider unreachable", slog.String("error", err.Error()))
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		log.Warn("failed to read provider response", slog.String("error", err.Error()))
		return nil, &NetworkError{Op: op, Err: err}
	}

	log = log.With("status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rejected := &RejectedError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    op.DefaultMessage(),
		}
		var errPayload errorResponse
		if err := json.Unmarshal(data, &errPayload); err == nil && errPayload.Error.Message != "" {
			rejected.Message = errPayload.Error.Message
		}
		log.Info("identity provider rejected request", slog.String("message", rejected.Message))
		return nil, rejected
	}

	var payload successResponse
	if err := json.Unmarshal(data, &payload); err != nil || payload.IDToken == "" {
		log.Error("malformed provider response", slog.Any("error", err))
		return nil, &RejectedError{Op: op, StatusCode: resp.StatusCode, Message: op.DefaultMessage()}
	}

	expiresIn := time.Duration(payload.ExpiresIn) * time.Second
	result := &Result{
		Token:     payload.IDToken,
		ExpiresIn: expiresIn,
		ExpiresAt: c.now().Add(expiresIn),
		Email:     payload.Email,
		UserID:    payload.LocalID,
	}

	log.Info("identity exchange succeeded",
		slog.String("email", result.Email),
		slog.Time("expires_at", result.ExpiresAt))
	return result, nil
}

func (c *Client) endpoint(op Operation) string {
	return c.baseURL + "/accounts:" + string(op) + "?key=" + url.QueryEscape(c.apiKey)
}

// seconds decodes expiresIn, which the provider sends as a decimal string ("3600")
// but which is also accepted as a JSON number
type seconds int64

// maxExpiresIn is the largest lifetime that still fits in a time.Duration
const maxExpiresIn = float64(math.MaxInt64 / int64(time.Second))

func (s *seconds) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		return fmt.Errorf("expiresIn is empty")
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("expiresIn %q is not a number: %w", raw, err)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return fmt.Errorf("expiresIn %q is not finite", raw)
	}
	if n < 0 {
		return fmt.Errorf("expiresIn %q is negative", raw)
	}
	if n > maxExpiresIn {
		return fmt.Errorf("expiresIn %q is too large", raw)
	}
	*s = seconds(n)
	return nil
}
