package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrTooLarge is returned when a response body exceeds HTTPOptions.MaxBytes.
var ErrTooLarge = errors.New("fetch: response body exceeds size limit")

// StatusError reports a response outside the 2xx range.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s", e.Status)
}

// HTTPOptions configures the HTTP getter.
type HTTPOptions struct {
	// Timeout bounds a single request including the body read.
	// Default: 30s
	Timeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// MaxBytes caps the accepted body size.
	// Default: 10 MiB
	MaxBytes int64
}

// DefaultHTTPOptions returns options suitable for small image payloads.
func DefaultHTTPOptions() HTTPOptions {
	return HTTPOptions{
		Timeout:   30 * time.Second,
		UserAgent: "assetsync",
		MaxBytes:  10 << 20,
	}
}

// HTTPGetter implements Getter with a plain GET request.
type HTTPGetter struct {
	client *http.Client
	opts   HTTPOptions
}

// NewHTTPGetter creates a getter. Zero fields in opts take their defaults.
func NewHTTPGetter(opts HTTPOptions) *HTTPGetter {
	def := DefaultHTTPOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = def.MaxBytes
	}
	return &HTTPGetter{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
	}
}

// Get downloads locator and returns the full body.
func (g *HTTPGetter) Get(ctx context.Context, locator string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if g.opts.UserAgent != "" {
		req.Header.Set("User-Agent", g.opts.UserAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, g.opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > g.opts.MaxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, g.opts.MaxBytes)
	}

	return body, nil
}
