package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nolanmak/ThesisApp-sub002/internal/codec"
	"github.com/nolanmak/ThesisApp-sub002/internal/store"
)

const (
	messagesPath = "/messages"
	configsPath  = "/configs"
)

// Options parameterise the dashboard REST client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client talks to the dashboard backend: bulk message fetches, read-state
// writes, and company config reads/writes.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a REST client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "api_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// ListMessages retrieves the full message collection, newest first.
func (c *Client) ListMessages(ctx context.Context) ([]codec.EarningsMessage, error) {
	var messages []codec.EarningsMessage
	if err := c.getJSON(ctx, messagesPath, &messages); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// MarkMessageRead flags one message as read on the backend.
func (c *Client) MarkMessageRead(ctx context.Context, id string) error {
	path := fmt.Sprintf("%s/%s/read", messagesPath, url.PathEscape(id))
	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	return nil
}

// ListConfigs retrieves all company configs.
func (c *Client) ListConfigs(ctx context.Context) ([]store.CompanyConfig, error) {
	var configs []store.CompanyConfig
	if err := c.getJSON(ctx, configsPath, &configs); err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	return configs, nil
}

// UpdateConfigActive toggles a company config and returns the authoritative
// post-write value.
func (c *Client) UpdateConfigActive(ctx context.Context, ticker string, active bool) (store.CompanyConfig, error) {
	path := fmt.Sprintf("%s/%s", configsPath, url.PathEscape(ticker))
	body := map[string]bool{"active": active}

	var cfg store.CompanyConfig
	if err := c.doJSON(ctx, http.MethodPatch, path, body, &cfg); err != nil {
		return store.CompanyConfig{}, fmt.Errorf("update config: %w", err)
	}
	if cfg.Ticker == "" {
		cfg = store.CompanyConfig{Ticker: ticker, Active: active}
	}
	return cfg, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("api base url not configured")
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.decodeError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var apiErr struct {
		ErrorType   string `json:"errorType"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.ErrorType != "" {
		return fmt.Errorf("api %d: %s (%s)", resp.StatusCode, apiErr.ErrorType, apiErr.Description)
	}
	return fmt.Errorf("api 响应码异常: %d", resp.StatusCode)
}

var (
	_ store.MessageBackend = (*Client)(nil)
	_ store.ConfigBackend  = (*Client)(nil)
)
