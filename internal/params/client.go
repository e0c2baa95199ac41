package params

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/omnitutor/tutor-server/internal/protocol"
)

// Client fetches session parameters from a configuration endpoint. Fetching
// is best-effort: on any failure the caller proceeds with the defaults, so
// a dead config service never blocks a session.
type Client struct {
	url    string
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a client for url. An empty url disables fetching.
func NewClient(url string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:    url,
		http:   &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

// Fetch returns the remote parameters, or the defaults with ok=false when
// the endpoint is not configured or the request fails.
func (c *Client) Fetch(ctx context.Context) (protocol.SessionConfig, bool) {
	cfg := protocol.DefaultSessionConfig()
	if c.url == "" {
		return cfg, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		c.logger.Debug("config fetch request failed", zap.Error(err))
		return cfg, false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("config fetch failed", zap.String("url", c.url), zap.Error(err))
		return cfg, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("config fetch rejected", zap.String("url", c.url), zap.Int("status", resp.StatusCode))
		return cfg, false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.logger.Debug("config fetch read failed", zap.Error(err))
		return cfg, false
	}
	if err := sonic.Unmarshal(body, &cfg); err != nil {
		c.logger.Debug("config fetch parse failed", zap.Error(err))
		return protocol.DefaultSessionConfig(), false
	}
	return cfg, true
}
