// Package pushcut calls the Pushcut web API.
//
// Two calls are used: "execute" runs a shortcut or automation with the raw
// Plex event as input, and "notifications" fires a notification defined in
// the Pushcut app. Both are best-effort; callers log failures and move on.
package pushcut

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public Pushcut API endpoint.
const DefaultBaseURL = "https://api.pushcut.io"

var (
	// ErrProvider wraps a failure reported by Pushcut itself.
	ErrProvider = errors.New("pushcut error")
	ErrNoSecret = errors.New("pushcut secret is empty")
)

// Sender is the outbound capability used by the delivery pipeline.
type Sender interface {
	ExecuteShortcut(ctx context.Context, shortcut string, input json.RawMessage) error
	SendNotification(ctx context.Context, name string, payload any) error
}

type Config struct {
	Secret  string
	BaseURL string
	// Timeout bounds one call; 0 means 10s.
	Timeout time.Duration
}

// Client implements Sender over HTTP.
type Client struct {
	secret string
	base   *url.URL
	http   *http.Client
}

func New(cfg Config, hc *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, ErrNoSecret
	}
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("pushcut base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("pushcut base url: unsupported scheme %q", base.Scheme)
	}
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{secret: cfg.Secret, base: base, http: hc}, nil
}

// ExecuteShortcut posts {"input": input} to /{secret}/execute?shortcut=name.
func (c *Client) ExecuteShortcut(ctx context.Context, shortcut string, input json.RawMessage) error {
	if len(input) == 0 {
		input = json.RawMessage("null")
	}
	body := struct {
		Input json.RawMessage `json:"input"`
	}{Input: input}
	q := url.Values{"shortcut": []string{shortcut}}
	return c.post(ctx, c.endpoint(q, "execute"), body)
}

// SendNotification posts payload to /{secret}/notifications/{name}.
func (c *Client) SendNotification(ctx context.Context, name string, payload any) error {
	return c.post(ctx, c.endpoint(nil, "notifications", name), payload)
}

func (c *Client) endpoint(q url.Values, segs ...string) string {
	var b strings.Builder
	b.WriteString(c.base.String())
	for _, s := range append([]string{c.secret}, segs...) {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	if len(q) > 0 {
		b.WriteByte('?')
		b.WriteString(q.Encode())
	}
	return b.String()
}

type apiResponse struct {
	Error string `json:"error"`
}

func (c *Client) post(ctx context.Context, endpoint string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.redact(err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var ar apiResponse
	_ = json.Unmarshal(raw, &ar)
	if ar.Error != "" {
		return fmt.Errorf("%w: %s (status %d)", ErrProvider, ar.Error, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrProvider, resp.StatusCode)
	}
	return nil
}

// redact strips the secret from transport errors, which embed the URL.
func (c *Client) redact(err error) error {
	msg := err.Error()
	if !strings.Contains(msg, c.secret) {
		return err
	}
	return errors.New(strings.ReplaceAll(msg, c.secret, "<secret>"))
}
