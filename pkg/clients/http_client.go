package clients

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/finlake/pkg/errors"
	"github.com/ajitpratap0/finlake/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// userAgents are rotated per request when RotateUserAgent is set.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

// HTTPClient performs single outbound requests. It does not retry or pace;
// that is the ProtectedFetcher's job.
type HTTPClient struct {
	config     *HTTPConfig
	logger     *zap.Logger
	httpClient *http.Client
	transport  *http.Transport

	totalRequests  int64
	failedRequests int64
}

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host" mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout" mapstructure:"idle_conn_timeout"`
	EnableHTTP2         bool          `yaml:"enable_http2" mapstructure:"enable_http2"`

	DialTimeout           time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout" mapstructure:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout" mapstructure:"response_header_timeout"`
	RequestTimeout        time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`

	UserAgent       string `yaml:"user_agent" mapstructure:"user_agent"`
	RotateUserAgent bool   `yaml:"rotate_user_agent" mapstructure:"rotate_user_agent"`
	AcceptLanguage  string `yaml:"accept_language" mapstructure:"accept_language"`
	MaxBodyBytes    int64  `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// DefaultHTTPConfig returns default configuration
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		EnableHTTP2:           true,
		DialTimeout:           30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		RequestTimeout:        30 * time.Second,
		UserAgent:             "finlake/1.0",
		RotateUserAgent:       true,
		AcceptLanguage:        "pt-BR,pt;q=0.9,en;q=0.8",
		MaxBodyBytes:          256 << 20,
	}
}

// NewHTTPClient creates a new HTTP client
func NewHTTPClient(config *HTTPConfig, logger *zap.Logger) *HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}

	client := &HTTPClient{
		config: config,
		logger: logger.With(zap.String("component", "http_client")),
	}

	client.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if config.EnableHTTP2 {
		if err := http2.ConfigureTransport(client.transport); err != nil {
			client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	client.httpClient = &http.Client{
		Transport: client.transport,
		Timeout:   config.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	return client
}

// withTransport returns a client sharing config and logger that sends
// through rt instead of the pooled transport.
func (c *HTTPClient) withTransport(rt http.RoundTripper) *HTTPClient {
	return &HTTPClient{
		config:    c.config,
		logger:    c.logger,
		transport: c.transport,
		httpClient: &http.Client{
			Transport:     rt,
			Timeout:       c.httpClient.Timeout,
			CheckRedirect: c.httpClient.CheckRedirect,
		},
	}
}

// StandardClient exposes the underlying *http.Client.
func (c *HTTPClient) StandardClient() *http.Client {
	return c.httpClient
}

// BuildURL appends params to rawURL in sorted key order.
func BuildURL(rawURL string, params map[string]string) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeValidation, "invalid URL")
	}
	q := u.Query()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, params[k])
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Get performs a GET and returns the body. Responses with status >= 400 are
// returned as typed errors carrying the status in Details["status"].
func (c *HTTPClient) Get(ctx context.Context, rawURL string, params, headers map[string]string) ([]byte, error) {
	full, err := BuildURL(rawURL, params)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodGet, full, nil, headers)
	if err != nil {
		return nil, err
	}
	return c.doRead(req)
}

// PostForm performs a form-encoded POST and returns the body.
func (c *HTTPClient) PostForm(ctx context.Context, rawURL string, form url.Values, headers map[string]string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()), headers)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.doRead(req)
}

// Do performs an HTTP request and records metrics. The caller closes the body.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	atomic.AddInt64(&c.totalRequests, 1)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	metrics.HTTPLatency.WithLabelValues(req.URL.Host).Observe(time.Since(start).Seconds())

	if err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		metrics.HTTPRequests.WithLabelValues(req.URL.Host, "error").Inc()
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, errors.ErrorTypeTimeout, "request cancelled")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
	}

	metrics.HTTPRequests.WithLabelValues(req.URL.Host, statusClass(resp.StatusCode)).Inc()
	return resp, nil
}

func (c *HTTPClient) doRead(req *http.Request) ([]byte, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	limit := c.config.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultHTTPConfig().MaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body")
	}

	if resp.StatusCode >= 400 {
		atomic.AddInt64(&c.failedRequests, 1)
		return nil, StatusError(resp.StatusCode, req.URL.Redacted(), body)
	}

	c.logger.Debug("request completed",
		zap.String("url", req.URL.Redacted()),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)))
	return body, nil
}

// StatusError maps an HTTP failure status to a typed error.
func StatusError(status int, target string, body []byte) error {
	snippet := string(body)
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}

	errType := errors.ErrorTypeHTTP
	switch {
	case status == http.StatusTooManyRequests:
		errType = errors.ErrorTypeRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		errType = errors.ErrorTypeAuthentication
	case status == http.StatusNotFound:
		errType = errors.ErrorTypeNotFound
	}

	return errors.Newf(errType, "GET %s returned %d %s", target, status, http.StatusText(status)).
		WithDetail("status", status).
		WithDetail("body", snippet)
}

// newRequest creates a new HTTP request with default headers
func (c *HTTPClient) newRequest(ctx context.Context, method, target string, body io.Reader, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "failed to build request")
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent())
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json, text/plain, */*")
	}
	if req.Header.Get("Accept-Language") == "" && c.config.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", c.config.AcceptLanguage)
	}

	return req, nil
}

func (c *HTTPClient) userAgent() string {
	if c.config.RotateUserAgent {
		return userAgents[rand.IntN(len(userAgents))]
	}
	if c.config.UserAgent != "" {
		return c.config.UserAgent
	}
	return "finlake/1.0"
}

// GetStats returns current client statistics
func (c *HTTPClient) GetStats() HTTPStats {
	total := atomic.LoadInt64(&c.totalRequests)
	failed := atomic.LoadInt64(&c.failedRequests)

	stats := HTTPStats{TotalRequests: total, FailedRequests: failed}
	if total > 0 {
		stats.SuccessRate = float64(total-failed) / float64(total) * 100
	}
	return stats
}

// Close releases idle connections
func (c *HTTPClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// HTTPStats represents HTTP client statistics
type HTTPStats struct {
	TotalRequests  int64   `json:"total_requests"`
	FailedRequests int64   `json:"failed_requests"`
	SuccessRate    float64 `json:"success_rate"`
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
