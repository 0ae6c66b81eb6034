// Package client provides a Go client for a remote image-processing
// server exposing the REST API from the api package.
//
// Usage:
//
//	c, err := client.New("https://imgproc.example.com")
//	if err != nil { ... }
//
//	// Submit a batch and wait for it to settle.
//	sub, err := c.Submit(ctx, api.SubmitRequest{Items: items})
//	st, err := c.Wait(ctx, sub.BatchID)
//	fmt.Printf("batch %s: %s\n", st.BatchID, st.Status)
//
//	// Download the result CSV.
//	csv, err := c.Download(ctx, sub.BatchID)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Rohithcheryala/Image-Processing-API/api"
	"github.com/Rohithcheryala/Image-Processing-API/backoff"
	"github.com/Rohithcheryala/Image-Processing-API/batch"
)

var (
	// ErrNotFound is returned when the server reports an unknown batch,
	// item, or image.
	ErrNotFound = errors.New("client: not found")

	// ErrNotTerminal is returned by Download when the batch has not yet
	// reached a terminal status.
	ErrNotTerminal = errors.New("client: batch has not reached a terminal status")
)

// APIError carries a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: server returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to an image-processing server over HTTP.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger

	// Wait polling.
	pollBackoff backoff.Strategy
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("client: parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: base URL must be http or https, got %q", baseURL)
	}

	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpc:       &http.Client{Timeout: 30 * time.Second},
		logger:      slog.Default(),
		pollBackoff: backoff.NewExponential(250*time.Millisecond, 5*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit creates a batch from a JSON item list. The server responds
// before any item has been processed.
func (c *Client) Submit(ctx context.Context, req api.SubmitRequest) (*api.SubmitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("client: marshal submit request: %w", err)
	}

	var resp api.SubmitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/batches", "application/json", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Upload submits a batch from a CSV file. filename is recorded as the
// batch source name; webhookURL is optional.
func (c *Client) Upload(ctx context.Context, filename string, csv io.Reader, webhookURL string) (*api.SubmitResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("client: build multipart form: %w", err)
	}
	if _, err := io.Copy(fw, csv); err != nil {
		return nil, fmt.Errorf("client: copy csv into form: %w", err)
	}
	if webhookURL != "" {
		if err := mw.WriteField("webhook_url", webhookURL); err != nil {
			return nil, fmt.Errorf("client: build multipart form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("client: close multipart form: %w", err)
	}

	var resp api.SubmitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/upload", mw.FormDataContentType(), &buf, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status reports a batch's aggregate progress.
func (c *Client) Status(ctx context.Context, batchID string) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/status/"+url.PathEscape(batchID), "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Details reports a batch together with its items.
func (c *Client) Details(ctx context.Context, batchID string) (*api.DetailsResponse, error) {
	var resp api.DetailsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/details/"+url.PathEscape(batchID), "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Download retrieves the result CSV for a terminal batch. It returns
// ErrNotTerminal while the batch is still processing.
func (c *Client) Download(ctx context.Context, batchID string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/download/"+url.PathEscape(batchID), "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.responseError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: read csv body: %w", err)
	}
	return data, nil
}

// Image retrieves a processed image by blob key.
func (c *Client) Image(ctx context.Context, key string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/image/"+url.PathEscape(key), "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.responseError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: read image body: %w", err)
	}
	return data, nil
}

// Cancel requests cooperative cancellation of a batch. Items already
// running finish their current reference; pending items settle as
// canceled.
func (c *Client) Cancel(ctx context.Context, batchID string) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/batches/"+url.PathEscape(batchID)+"/cancel", "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.responseError(resp)
	}
	return nil
}

// Health probes the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/healthz", "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.responseError(resp)
	}
	return nil
}

// Wait polls Status until the batch reaches a terminal status or ctx
// is done. Poll intervals follow the client's backoff strategy.
func (c *Client) Wait(ctx context.Context, batchID string) (*api.StatusResponse, error) {
	for attempt := 0; ; attempt++ {
		st, err := c.Status(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if batch.Status(st.Status).Terminal() {
			return st, nil
		}
		c.logger.Debug("batch still processing",
			slog.String("batch_id", batchID),
			slog.Float64("percentage", st.Percentage),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollBackoff.Delay(attempt)):
		}
	}
}

// doJSON performs a request and decodes a JSON body into out.
func (c *Client) doJSON(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	resp, err := c.do(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// responseError maps a non-2xx response to a client error. The server
// encodes failures as {"error": "..."}.
func (c *Client) responseError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	msg := resp.Status
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil && body.Error != "" {
		msg = body.Error
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrNotTerminal, msg)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
