package client

import (
	"log/slog"
	"net/http"

	"github.com/Rohithcheryala/Image-Processing-API/backoff"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. Useful for custom
// timeouts, transports, or httptest servers.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithPollBackoff sets the delay strategy Wait uses between status
// polls.
func WithPollBackoff(s backoff.Strategy) Option {
	return func(c *Client) { c.pollBackoff = s }
}
