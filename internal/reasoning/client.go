package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const defaultClientTimeout = 30 * time.Second

// ClientConfig configures the HTTP reasoner. Environment variables override
// values supplied from the config file.
type ClientConfig struct {
	URL     string        `env:"ORGLINE_REASONER_URL"`
	Token   string        `env:"ORGLINE_REASONER_TOKEN"`
	Timeout time.Duration `env:"ORGLINE_REASONER_TIMEOUT"`
}

// ConfigFromEnv overlays the environment onto base.
func ConfigFromEnv(base ClientConfig) (ClientConfig, error) {
	cfg := base
	if err := env.Parse(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultClientTimeout
	}
	return cfg, nil
}

// Client calls a remote reasoning service with POST {url}/decide.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	return &Client{BaseURL: cfg.URL, Token: cfg.Token, Timeout: timeout}
}

// StatusError wraps non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("reasoner status=%d body=%s", e.StatusCode, e.Body)
}

// Decide never returns a partial decision: any transport, status or
// decoding problem is reported as ErrUnavailable.
func (c *Client) Decide(ctx context.Context, req Request) (Decision, error) {
	var out Decision
	if err := c.do(ctx, http.MethodPost, "decide", req, &out); err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if out.Content == nil {
		out.Content = map[string]any{}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
