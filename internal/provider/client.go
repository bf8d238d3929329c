// Package provider talks to the external messaging gateway: sending text,
// read receipts and typing indicators, and looking up sessions and chats.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultUserAgent   = "chatrelay/1.0"
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second

	maxResponseBytes = 1 << 20
)

// ErrNotConfigured is returned by every call when no base URL is set.
var ErrNotConfigured = errors.New("provider: base url is not configured")

// StatusError reports a non-2xx answer from the gateway.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider: %s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// Retryable reports whether the request may succeed if sent again.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type ClientConfig struct {
	BaseURL     string
	APIKey      string
	UserAgent   string
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

type Client struct {
	http *http.Client
	conf ClientConfig
	log  *slog.Logger
}

func NewClient(conf ClientConfig, log *slog.Logger) *Client {
	if conf.UserAgent == "" {
		conf.UserAgent = DefaultUserAgent
	}
	if conf.Timeout <= 0 {
		conf.Timeout = DefaultTimeout
	}
	if conf.MaxAttempts <= 0 {
		conf.MaxAttempts = DefaultMaxAttempts
	}
	if conf.RetryDelay <= 0 {
		conf.RetryDelay = DefaultRetryDelay
	}
	conf.BaseURL = strings.TrimRight(conf.BaseURL, "/")

	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    20,
		IdleConnTimeout: 90 * time.Second,
	}
	return &Client{
		http: &http.Client{Transport: tr, Timeout: conf.Timeout},
		conf: conf,
		log:  log,
	}
}

type chatRequest struct {
	ChatID      string  `json:"chatId"`
	Text        string  `json:"text,omitempty"`
	MessageID   string  `json:"messageId,omitempty"`
	Participant *string `json:"participant,omitempty"`
	Session     string  `json:"session"`
}

func (c *Client) SendText(ctx context.Context, chatID, text, session string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/sendText", nil, chatRequest{ChatID: chatID, Text: text, Session: session})
}

// SendSeen marks a message as read. participant is only needed for group
// chats and may be empty.
func (c *Client) SendSeen(ctx context.Context, chatID, messageID, session, participant string) (json.RawMessage, error) {
	req := chatRequest{ChatID: chatID, MessageID: messageID, Session: session}
	if participant != "" {
		req.Participant = &participant
	}
	return c.do(ctx, http.MethodPost, "/sendSeen", nil, req)
}

func (c *Client) StartTyping(ctx context.Context, chatID, session string) error {
	_, err := c.do(ctx, http.MethodPost, "/startTyping", nil, chatRequest{ChatID: chatID, Session: session})
	return err
}

func (c *Client) StopTyping(ctx context.Context, chatID, session string) error {
	_, err := c.do(ctx, http.MethodPost, "/stopTyping", nil, chatRequest{ChatID: chatID, Session: session})
	return err
}

func (c *Client) SessionStatus(ctx context.Context, session string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(session)+"/status", nil, nil)
}

func (c *Client) ChatInfo(ctx context.Context, chatID, session string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID), url.Values{"session": {session}}, nil)
}

func (c *Client) ListSessions(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/sessions", nil, nil)
}

// do sends one logical request, retrying network failures, 5xx and 429 with
// exponential backoff. Other 4xx answers are returned at once.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	if c.conf.BaseURL == "" {
		return nil, ErrNotConfigured
	}

	var payload []byte
	if body != nil {
		p, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("provider: encode %s body: %w", path, err)
		}
		payload = p
	}

	target := c.conf.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	attempt := 0
	operation := func() (json.RawMessage, error) {
		attempt++
		return c.send(ctx, method, target, path, payload, attempt)
	}

	notify := func(err error, wait time.Duration) {
		c.log.WarnContext(ctx, "provider request failed, retrying",
			"error", err,
			"method", method,
			"path", path,
			"attempt", attempt,
			"max_attempts", c.conf.MaxAttempts,
			"wait", wait)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.conf.RetryDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.conf.MaxAttempts-1)), ctx)

	return backoff.RetryNotifyWithData(operation, policy, notify)
}

func (c *Client) send(ctx context.Context, method, target, path string, payload []byte, attempt int) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("provider: build request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.conf.UserAgent)
	req.Header.Set("X-Request-Time", time.Now().UTC().Format(time.RFC3339Nano))
	if c.conf.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.conf.APIKey)
	}

	c.log.DebugContext(ctx, "provider request",
		"method", method,
		"path", path,
		"attempt", attempt,
		"body_bytes", len(payload))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("provider: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("provider: read %s response: %w", path, err)
	}

	c.log.InfoContext(ctx, "provider response",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(data)}
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			c.log.WarnContext(ctx, "provider rejected credentials", "path", path)
		case resp.StatusCode >= 500:
			c.log.ErrorContext(ctx, "provider server error", "path", path, "status", resp.StatusCode)
		}
		if !se.Retryable() {
			return nil, backoff.Permanent(se)
		}
		return nil, se
	}

	return asJSON(data), nil
}

// asJSON passes JSON bodies through and wraps anything else as a JSON string.
func asJSON(data []byte) json.RawMessage {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	if json.Valid(data) {
		return data
	}
	quoted, _ := json.Marshal(string(data))
	return quoted
}
