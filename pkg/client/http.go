package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"evm-swap/pkg/logger"
	"evm-swap/pkg/swaperr"
)

const (
	DefaultTimeout = 15 * time.Second
	maxErrorBody   = 4096
)

// Option configures an HTTPClient
type Option func(*HTTPClient)

// HTTPClient sends JSON requests to a single base URL.
// Redirects are never followed and any non-2xx status is a TransportError.
type HTTPClient struct {
	httpClient     *http.Client
	baseURL        string
	defaultHeaders map[string]string
	log            zerolog.Logger
}

// NewHTTPClient creates a new HTTPClient with the given options
func NewHTTPClient(baseURL string, options ...Option) *HTTPClient {
	c := &HTTPClient{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		defaultHeaders: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		log: zerolog.Nop(),
	}

	for _, option := range options {
		option(c)
	}

	return c
}

// WithTimeout bounds every request
func WithTimeout(timeout time.Duration) Option {
	return func(c *HTTPClient) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithProxy routes requests through an HTTP proxy given as host:port or a full URL
func WithProxy(proxy string) Option {
	return func(c *HTTPClient) {
		if proxy == "" {
			return
		}
		if !strings.Contains(proxy, "://") {
			proxy = "http://" + proxy
		}
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			c.log.Warn().Err(err).Str("proxy", proxy).Msg("ignoring invalid proxy")
			return
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		c.httpClient.Transport = transport
	}
}

// WithLogger sets the request logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *HTTPClient) {
		c.log = logger.Category(l, logger.CategoryNetwork)
	}
}

// Get performs a GET request, encoding query as the query string, and decodes the JSON response into out
func (c *HTTPClient) Get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post performs a POST request with a JSON body and decodes the JSON response into out
func (c *HTTPClient) Post(ctx context.Context, path string, body interface{}, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// Close releases idle connections
func (c *HTTPClient) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	start := time.Now()
	fullURL := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request body")
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	for key, value := range c.defaultHeaders {
		req.Header.Set(key, value)
	}

	c.log.Debug().Str("method", method).Str("url", fullURL).Msg("sending request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error().Err(err).Str("method", method).Str("url", fullURL).Dur("duration", time.Since(start)).Msg("HTTP request failed")
		return errors.Wrapf(err, "%s %s", method, fullURL)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn().
			Str("method", method).
			Str("url", fullURL).
			Int("status", resp.StatusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP error response")
		return swaperr.Transport(method, fullURL, resp.StatusCode, errorBody(data))
	}

	c.log.Debug().
		Str("method", method).
		Str("url", fullURL).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("HTTP request successful")

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "failed to decode response from %s", fullURL)
	}
	return nil
}

// errorBody extracts the upstream message when the body is JSON, otherwise a truncated copy of it
func errorBody(data []byte) string {
	if gjson.ValidBytes(data) {
		for _, field := range []string{"detail", "message", "error", "msg"} {
			if msg := gjson.GetBytes(data, field); msg.Exists() && msg.String() != "" {
				return msg.String()
			}
		}
	}
	if len(data) > maxErrorBody {
		data = data[:maxErrorBody]
	}
	return string(data)
}
