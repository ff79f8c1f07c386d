// Package mail delivers verification codes. PostmarkClient sends them through
// the Postmark HTTP API; LogMailer writes them to the log for local
// development.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrEthical07/agencyauth"
	"github.com/MrEthical07/agencyauth/logging"
	"go.uber.org/zap"
)

const (
	defaultEndpoint = "https://api.postmarkapp.com/email"
	defaultTimeout  = 10 * time.Second
)

// ErrNotConfigured is returned when the client has no server token.
var ErrNotConfigured = errors.New("mail: postmark server token not set")

// PostmarkClient implements agencyauth.Mailer.
type PostmarkClient struct {
	serverToken string
	from        string
	endpoint    string
	codeTTL     time.Duration
	httpClient  *http.Client
	logger      *zap.Logger
}

// Option configures a PostmarkClient.
type Option func(*PostmarkClient)

// WithHTTPClient replaces the default client, which times out after ten seconds.
func WithHTTPClient(c *http.Client) Option {
	return func(p *PostmarkClient) {
		p.httpClient = c
	}
}

// WithEndpoint points the client at another API URL.
func WithEndpoint(url string) Option {
	return func(p *PostmarkClient) {
		p.endpoint = url
	}
}

// WithCodeTTL sets the lifetime quoted in the email body.
func WithCodeTTL(d time.Duration) Option {
	return func(p *PostmarkClient) {
		p.codeTTL = d
	}
}

// WithLogger sets the logger. Recipients are masked.
func WithLogger(l *zap.Logger) Option {
	return func(p *PostmarkClient) {
		p.logger = l
	}
}

// NewPostmarkClient returns a client sending from the given address.
func NewPostmarkClient(serverToken, from string, opts ...Option) *PostmarkClient {
	p := &PostmarkClient{
		serverToken: serverToken,
		from:        from,
		endpoint:    defaultEndpoint,
		codeTTL:     10 * time.Minute,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Configured reports whether a server token is set.
func (p *PostmarkClient) Configured() bool {
	return p.serverToken != ""
}

type postmarkEmail struct {
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	HtmlBody      string `json:"HtmlBody"`
	TextBody      string `json:"TextBody"`
	MessageStream string `json:"MessageStream,omitempty"`
	Tag           string `json:"Tag,omitempty"`
}

type postmarkError struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

// SendVerificationCode renders the template for purpose and posts it.
func (p *PostmarkClient) SendVerificationCode(ctx context.Context, to, code string, purpose agencyauth.Purpose) error {
	if !p.Configured() {
		return ErrNotConfigured
	}

	msg, err := render(purpose, code, p.codeTTL)
	if err != nil {
		return err
	}

	body, err := json.Marshal(postmarkEmail{
		From:          p.from,
		To:            to,
		Subject:       msg.Subject,
		HtmlBody:      msg.HTML,
		TextBody:      msg.Text,
		MessageStream: "outbound",
		Tag:           string(purpose),
	})
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", p.serverToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var pe postmarkError
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(raw, &pe)
		p.logger.Warn("postmark rejected email",
			logging.Email("to", to),
			zap.Int("status", resp.StatusCode),
			zap.Int("error_code", pe.ErrorCode),
		)
		return fmt.Errorf("postmark API error: status %d: %s", resp.StatusCode, pe.Message)
	}

	p.logger.Info("verification email sent", logging.Email("to", to), zap.String("purpose", string(purpose)))
	return nil
}

// LogMailer logs codes instead of sending them. Development only.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer returns a mailer writing to logger.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// SendVerificationCode logs the code at info level.
func (m *LogMailer) SendVerificationCode(_ context.Context, to, code string, purpose agencyauth.Purpose) error {
	m.logger.Info("verification code",
		logging.Email("to", to),
		zap.String("purpose", string(purpose)),
		zap.String("code", code),
	)
	return nil
}

var (
	_ agencyauth.Mailer = (*PostmarkClient)(nil)
	_ agencyauth.Mailer = (*LogMailer)(nil)
)
