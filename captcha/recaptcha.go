// Package captcha verifies reCAPTCHA v3 tokens with the siteverify API.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/agencyauth"
	"go.uber.org/zap"
)

const (
	defaultEndpoint = "https://www.google.com/recaptcha/api/siteverify"
	defaultTimeout  = 10 * time.Second
)

var (
	// ErrNoSecret is returned when the client was built without a secret key.
	ErrNoSecret = errors.New("captcha: secret key not set")
	// ErrEmptyToken is returned for a missing client token.
	ErrEmptyToken = errors.New("captcha: empty token")
)

// Client implements agencyauth.BotVerifier.
type Client struct {
	secret     string
	endpoint   string
	action     string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default ten second client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithEndpoint overrides the siteverify URL.
func WithEndpoint(u string) Option {
	return func(cl *Client) { cl.endpoint = u }
}

// WithAction makes Verify fail when the token was minted for another action.
func WithAction(action string) Option {
	return func(cl *Client) { cl.action = action }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New returns a client for the given secret key.
func New(secret string, opts ...Option) *Client {
	c := &Client{
		secret:     secret,
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	Action     string   `json:"action"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify asks siteverify about token. The score threshold is applied by the
// engine, not here.
func (c *Client) Verify(ctx context.Context, token string) (agencyauth.BotVerdict, error) {
	if c.secret == "" {
		return agencyauth.BotVerdict{}, ErrNoSecret
	}
	if strings.TrimSpace(token) == "" {
		return agencyauth.BotVerdict{}, ErrEmptyToken
	}

	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)
	if ip := agencyauth.ClientIPFromContext(ctx); ip != "" {
		form.Set("remoteip", ip)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return agencyauth.BotVerdict{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return agencyauth.BotVerdict{}, fmt.Errorf("siteverify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return agencyauth.BotVerdict{}, fmt.Errorf("siteverify: status %d", resp.StatusCode)
	}

	var out siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return agencyauth.BotVerdict{}, fmt.Errorf("decode siteverify: %w", err)
	}

	verdict := agencyauth.BotVerdict{Success: out.Success, Score: out.Score}
	if c.action != "" && out.Action != c.action {
		verdict.Success = false
	}
	if !verdict.Success {
		c.logger.Info("captcha rejected",
			zap.Strings("error_codes", out.ErrorCodes),
			zap.String("action", out.Action),
		)
	}
	return verdict, nil
}

var _ agencyauth.BotVerifier = (*Client)(nil)
