// Package fetch retrieves source images over HTTP. Failures are
// classified into a small set of kinds so workers can record a precise
// per-reference cause without string matching.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Kind classifies a fetch failure.
type Kind string

const (
	// KindTimeout covers deadline and context expiry.
	KindTimeout Kind = "timeout"
	// KindNotFound covers HTTP 404 and 410.
	KindNotFound Kind = "not_found"
	// KindUpstream covers other non-2xx responses.
	KindUpstream Kind = "upstream"
	// KindTooLarge covers responses beyond the configured byte cap.
	KindTooLarge Kind = "too_large"
	// KindMalformed covers unusable references and transport failures.
	KindMalformed Kind = "malformed"
)

// Error is a classified fetch failure for one reference.
type Error struct {
	Kind Kind
	Ref  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.Ref, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fetcher retrieves the bytes behind an external reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Option configures the HTTP fetcher.
type Option func(*HTTP)

// WithClient sets a custom http.Client.
func WithClient(c *http.Client) Option {
	return func(f *HTTP) { f.client = c }
}

// WithTimeout bounds a single fetch. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTP) { f.timeout = d }
}

// WithMaxBytes caps the response body size. Default 32 MiB.
func WithMaxBytes(n int64) Option {
	return func(f *HTTP) { f.maxBytes = n }
}

// WithHostRateLimit bounds requests per second against any single host so
// a large batch does not hammer one origin. Zero disables limiting.
func WithHostRateLimit(perSecond float64, burst int) Option {
	return func(f *HTTP) {
		f.hostRate = perSecond
		f.hostBurst = burst
	}
}

// HTTP is a Fetcher backed by net/http with a per-host token-bucket rate
// limiter. Safe for concurrent use.
type HTTP struct {
	client    *http.Client
	timeout   time.Duration
	maxBytes  int64
	hostRate  float64
	hostBurst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ Fetcher = (*HTTP)(nil)

// NewHTTP creates an HTTP fetcher.
func NewHTTP(opts ...Option) *HTTP {
	f := &HTTP{
		client:   &http.Client{},
		timeout:  30 * time.Second,
		maxBytes: 32 << 20,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch retrieves ref, honoring the per-host rate limit and byte cap.
func (f *HTTP) Fetch(ctx context.Context, ref string) ([]byte, error) {
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &Error{Kind: KindMalformed, Ref: ref, Err: fmt.Errorf("not an http(s) url")}
	}

	if lim := f.limiter(u.Host); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, &Error{Kind: KindTimeout, Ref: ref, Err: err}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Ref: ref, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		kind := KindMalformed
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			kind = KindTimeout
		}
		return nil, &Error{Kind: kind, Ref: ref, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, &Error{Kind: KindNotFound, Ref: ref, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &Error{Kind: KindUpstream, Ref: ref, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		kind := KindMalformed
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return nil, &Error{Kind: kind, Ref: ref, Err: err}
	}
	if int64(len(body)) > f.maxBytes {
		return nil, &Error{Kind: KindTooLarge, Ref: ref, Err: fmt.Errorf("body exceeds %d bytes", f.maxBytes)}
	}
	return body, nil
}

// limiter returns the rate limiter for host, creating it on first use.
func (f *HTTP) limiter(host string) *rate.Limiter {
	if f.hostRate <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		burst := f.hostBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(f.hostRate), burst)
		f.limiters[host] = lim
	}
	return lim
}
