//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/oshokin/firefox-package/internal/config"
	"github.com/oshokin/firefox-package/internal/domain/firefox"
	"github.com/oshokin/firefox-package/internal/version"
)

// maxDocumentSize caps how much of an index page is read into memory.
const maxDocumentSize = 8 << 20

// Client wraps an HTTP client with the timeouts, TLS roots and headers
// used for every request to a release server.
type Client struct {
	// httpClient performs the requests.
	httpClient *http.Client
	// userAgent is sent with every request.
	userAgent string
	// caBundle is an optional PEM file replacing the system roots.
	caBundle string

	// callTimeout bounds small document requests and the wait for response headers.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets the timeout for document requests and response headers.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithCABundle replaces the system certificate roots with the PEM bundle at path.
func WithCABundle(path string) Option {
	return func(c *Client) {
		c.caBundle = path
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client; the CA bundle is then ignored.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

var (
	// errNoCertificates is returned when a CA bundle holds no PEM certificates.
	errNoCertificates = errors.New("no certificates found in CA bundle")
	// errURLRequired is returned when a request has no target.
	errURLRequired = errors.New("url must be provided")
)

// NewClient builds a client with TLS verification enabled.
func NewClient(opts ...Option) (*Client, error) {
	client := &Client{
		userAgent:   version.UserAgent(),
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.httpClient != nil {
		return client, nil
	}

	transport, err := client.transport()
	if err != nil {
		return nil, err
	}

	client.httpClient = &http.Client{Transport: transport}

	return client, nil
}

// Fetch downloads a small document such as an index page.
// Non-2xx answers are reported as *firefox.UpstreamHTTPError.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.do(callCtx, url)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}

	return body, nil
}

// Open starts a streaming download. Only the wait for headers is bounded by the
// call timeout; the caller owns and must close the returned body.
func (c *Client) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	response, err := c.do(ctx, url)
	if err != nil {
		return nil, err
	}

	return response.Body, nil
}

func (c *Client) do(ctx context.Context, url string) (*http.Response, error) {
	if url == "" {
		return nil, errURLRequired
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	request.Header.Set("User-Agent", c.userAgent)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxDocumentSize))
		_ = response.Body.Close()

		return nil, &firefox.UpstreamHTTPError{
			URL:        url,
			StatusCode: response.StatusCode,
			Status:     response.Status,
		}
	}

	return response, nil
}

// transport clones the default transport with header timeout and TLS roots applied.
func (c *Client) transport() (*http.Transport, error) {
	base, _ := http.DefaultTransport.(*http.Transport)

	transport := base.Clone()
	transport.ResponseHeaderTimeout = c.callTimeout

	//nolint:exhaustruct // Defaults are fine apart from the minimum version and roots.
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if c.caBundle != "" {
		pem, err := os.ReadFile(filepath.Clean(c.caBundle))
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%s: %w", c.caBundle, errNoCertificates)
		}

		tlsConfig.RootCAs = pool
	}

	transport.TLSClientConfig = tlsConfig

	return transport, nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
