// Package http provides the shared HTTP client used for every remote request.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jmylchreest/flaxplug/internal/version"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second
)

// StatusError is returned when a server answers with a status outside the accepted set.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s (%s)", e.StatusCode, e.Status, e.URL)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}

// Accepted reports whether a response status counts as success.
// 304 is accepted alongside 200 because conditional responses carry no error.
func Accepted(code int) bool {
	return code == http.StatusOK || code == http.StatusNotModified
}

// FetchOptions configures HTTP fetch behavior.
type FetchOptions struct {
	// Headers specifies additional HTTP headers to send with the request.
	Headers map[string]string
}

// Client wraps a single long-lived *http.Client. Every request it issues
// carries the application User-Agent.
type Client struct {
	client *http.Client
}

// NewClient creates a Client with the given timeout.
// If timeout is zero, DefaultTimeout is used.
func NewClient(timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		client: &http.Client{
			Timeout:   timeout,
			Transport: &userAgentTransport{base: http.DefaultTransport},
		},
	}
}

// Wrap creates a Client around an existing *http.Client.
// The client's transport is wrapped so the User-Agent is always set.
func Wrap(c *http.Client) *Client {
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if _, ok := base.(*userAgentTransport); !ok {
		c.Transport = &userAgentTransport{base: base}
	}
	return &Client{client: c}
}

// HTTPClient returns the underlying *http.Client so other API clients can share it.
func (c *Client) HTTPClient() *http.Client {
	return c.client
}

// Fetch retrieves content from a URL and returns the body.
func (c *Client) Fetch(ctx context.Context, url string, opts FetchOptions) ([]byte, error) {
	resp, err := c.get(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

// Download streams the body of url into dest. Content is written to a
// temporary file next to dest and renamed into place once complete, so dest
// is either fully written or left untouched.
func (c *Client) Download(ctx context.Context, url, dest string) error {
	resp, err := c.get(ctx, url, FetchOptions{})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil { // #nosec G301 - Plugin directories need standard permissions
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(FileMode(dest)); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to set permissions on %s: %w", dest, err)
	}

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", dest, err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	return nil
}

// FileMode returns the permissions of the file at path, or 0644 when it does
// not exist yet.
func FileMode(path string) os.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode().Perm()
	}
	return 0o644
}

func (c *Client) get(ctx context.Context, url string, opts FetchOptions) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if !Accepted(resp.StatusCode) {
		resp.Body.Close()
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	return resp, nil
}

// userAgentTransport sets the application User-Agent on outgoing requests.
type userAgentTransport struct {
	base http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", version.UserAgent())
	}
	return t.base.RoundTrip(req)
}
