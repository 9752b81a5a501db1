// Package fidelio talks to Philips Fidelio speakers over their undocumented
// HTTP GET interface.
package fidelio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultPort is the port every Fidelio speaker serves its control API on.
const DefaultPort = 8889

// Client issues single commands against one speaker. It never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client for the speaker at host:port.
// A zero rateLimitRPS disables rate limiting.
func NewClient(host string, port int, timeout time.Duration, rateLimitRPS float64) *Client {
	if port == 0 {
		port = DefaultPort
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if rateLimitRPS > 0 {
		burst := int(rateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rateLimitRPS), burst)
	}

	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d/", strings.TrimSpace(host), port),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
	}
}

// BaseURL returns the URL every command path is appended to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Send performs cmd once and returns the raw response body.
// Connection failures, including a context that ends while waiting for the
// rate limiter, wrap ErrTransport. Non-200 replies wrap ErrProtocol.
func (c *Client) Send(ctx context.Context, cmd Command) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTransport, cmd, err)
	}

	endpoint := c.baseURL + string(cmd)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", cmd, err)
	}

	log.Debug().Str("url", endpoint).Msg("Sending speaker command")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTransport, cmd, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrTransport, cmd, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Command: cmd, StatusCode: resp.StatusCode}
	}

	return body, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
