package gateway

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

	"github.com/mbp-platform/envmodel/internal/models"
)

// ClientConfig configures the REST client.
type ClientConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Client talks to a remote MBP backend over its REST API.
type Client struct {
	base string
	user string
	pass string
	http *http.Client
	lg   zerolog.Logger
}

var _ Gateway = (*Client)(nil)

// NewClient returns a client for cfg.BaseURL.
func NewClient(cfg ClientConfig, lg zerolog.Logger) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway base url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		user: cfg.Username,
		pass: cfg.Password,
		http: &http.Client{Timeout: timeout},
		lg:   lg.With().Str("component", "gateway").Logger(),
	}, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}
	c.lg.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("request")

	if resp.StatusCode >= http.StatusBadRequest {
		return ParseError(op, resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) ModelsByUsername(ctx context.Context, username string) ([]models.Model, error) {
	var out []models.Model
	path := "/api/env-models?owner=" + url.QueryEscape(username)
	if err := c.do(ctx, "list models", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = make([]models.Model, 0)
	}
	return out, nil
}

func (c *Client) SaveModel(ctx context.Context, m models.Model) (models.Model, error) {
	var saved models.Model
	var err error
	if m.ID == "" {
		err = c.do(ctx, "create model", http.MethodPost, "/api/env-models", m, &saved)
	} else {
		err = c.do(ctx, "update model", http.MethodPut, "/api/env-models/"+url.PathEscape(m.ID), m, &saved)
	}
	if err != nil {
		return models.Model{}, err
	}
	// Some backends answer with an empty body on update.
	if saved.ID == "" {
		saved = m
	}
	return saved, nil
}

func (c *Client) DeleteModel(ctx context.Context, username, name string) error {
	path := "/api/env-models/by-name/" + url.PathEscape(name) + "?owner=" + url.QueryEscape(username)
	return c.do(ctx, "delete model", http.MethodDelete, path, nil, nil)
}

func (c *Client) AddItem(ctx context.Context, category Category, payload any) (Entity, error) {
	var ent Entity
	if err := c.do(ctx, "add "+string(category), http.MethodPost, "/api/"+string(category), payload, &ent); err != nil {
		return Entity{}, err
	}
	return ent, nil
}

func (c *Client) DeleteItem(ctx context.Context, category Category, id string) error {
	return c.do(ctx, "delete "+string(category), http.MethodDelete, "/api/"+string(category)+"/"+url.PathEscape(id), nil, nil)
}

type deployRequest struct {
	Parameters []Parameter `json:"parameters"`
}

func (c *Client) Deploy(ctx context.Context, category Category, id string, params []Parameter) error {
	if params == nil {
		params = make([]Parameter, 0)
	}
	path := "/api/deploy/" + string(category) + "/" + url.PathEscape(id)
	return c.do(ctx, "deploy", http.MethodPost, path, deployRequest{Parameters: params}, nil)
}

func (c *Client) Undeploy(ctx context.Context, category Category, id string) error {
	path := "/api/deploy/" + string(category) + "/" + url.PathEscape(id)
	return c.do(ctx, "undeploy", http.MethodDelete, path, nil, nil)
}
