package clients

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/finlake/pkg/errors"
	"github.com/ajitpratap0/finlake/pkg/metrics"
	"github.com/ajitpratap0/finlake/pkg/observability"
	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Request identifies a resource. URL and Params form the cache identity;
// Headers do not.
type Request struct {
	URL     string
	Params  map[string]string
	Headers map[string]string
}

// FetchFunc performs the network call for one attempt.
type FetchFunc func(ctx context.Context) ([]byte, error)

// ResponseCache is the cache contract the fetcher depends on. Implementations
// absorb their own I/O errors.
type ResponseCache interface {
	Get(url string, params map[string]string) ([]byte, bool)
	Set(url string, params map[string]string, payload []byte)
}

// FetcherStats summarises fetcher activity.
type FetcherStats struct {
	Source        string        `json:"source"`
	CacheHits     int64         `json:"cache_hits"`
	CacheMisses   int64         `json:"cache_misses"`
	Admissions    int64         `json:"admissions"`
	RateLimitWait time.Duration `json:"rate_limit_wait"`
	PacingDelay   time.Duration `json:"pacing_delay"`
	Retries       int64         `json:"retries"`
	Failures      int64         `json:"failures"`
	CurrentRate   int           `json:"current_rate_per_min"`
	MaxRate       int           `json:"max_rate_per_min"`
}

// ProtectedFetcher runs every outbound request through
// cache -> rate limiter -> jittered delay -> retrier.
// A cache hit returns without touching the limiter, delayer or retrier.
type ProtectedFetcher struct {
	source  string
	limiter RateLimiter
	delayer Delayer
	retry   *RetryPolicy
	cache   ResponseCache
	client  *HTTPClient
	logger  *zap.Logger

	cacheHits     int64
	cacheMisses   int64
	admissions    int64
	rateLimitWait int64
	pacingDelay   int64
	retries       int64
	failures      int64
}

// FetcherOption configures a ProtectedFetcher.
type FetcherOption func(*ProtectedFetcher)

// WithCache enables response caching.
func WithCache(c ResponseCache) FetcherOption {
	return func(f *ProtectedFetcher) { f.cache = c }
}

// WithHTTPClient sets the client used by Get and GetJSON.
func WithHTTPClient(c *HTTPClient) FetcherOption {
	return func(f *ProtectedFetcher) { f.client = c }
}

// WithLimiter replaces the rate limiter.
func WithLimiter(l RateLimiter) FetcherOption {
	return func(f *ProtectedFetcher) { f.limiter = l }
}

// WithDelayer replaces the delayer.
func WithDelayer(d Delayer) FetcherOption {
	return func(f *ProtectedFetcher) { f.delayer = d }
}

// WithRetryPolicy replaces the retry policy.
func WithRetryPolicy(rp *RetryPolicy) FetcherOption {
	return func(f *ProtectedFetcher) { f.retry = rp }
}

// NewProtectedFetcher builds a fetcher for source from limits. Options may
// override any stage, which tests use to inject fakes.
func NewProtectedFetcher(source string, limits SourceLimits, logger *zap.Logger, opts ...FetcherOption) (*ProtectedFetcher, error) {
	if err := limits.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid limits for "+source)
	}

	f := &ProtectedFetcher{
		source: source,
		logger: logger.With(zap.String("component", "fetcher"), zap.String("source", source)),
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.limiter == nil {
		l, err := NewRateLimiter(limits.RequestsPerMinute)
		if err != nil {
			return nil, err
		}
		f.limiter = l
	}
	if f.delayer == nil {
		d, err := NewJitteredDelayer(limits.MinDelay, limits.MaxDelay)
		if err != nil {
			return nil, err
		}
		f.delayer = d
	}
	if f.retry == nil {
		f.retry = NewRetryPolicy(limits.MaxAttempts, limits.BackoffBase, limits.BackoffMax)
	}

	return f, nil
}

// Source returns the upstream name.
func (f *ProtectedFetcher) Source() string { return f.source }

// Fetch returns the payload for req, calling op on a cache miss. On
// exhaustion the error from op's final attempt is returned and nothing is
// cached.
func (f *ProtectedFetcher) Fetch(ctx context.Context, req Request, op FetchFunc, useCache bool) (payload []byte, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "fetch",
		attribute.String("source", f.source),
		attribute.String("url", req.URL),
		attribute.Bool("use_cache", useCache))
	defer func() {
		observability.EndSpan(span, err)
		metrics.FetchLatency.WithLabelValues(f.source).Observe(time.Since(start).Seconds())
	}()

	caching := useCache && f.cache != nil
	if caching {
		if cached, ok := f.cache.Get(req.URL, req.Params); ok {
			atomic.AddInt64(&f.cacheHits, 1)
			metrics.FetchRequests.WithLabelValues(f.source, metrics.OutcomeHit).Inc()
			span.SetAttributes(attribute.Bool("cache_hit", true))
			f.logger.Debug("cache hit", zap.String("url", req.URL))
			return cached, nil
		}
		atomic.AddInt64(&f.cacheMisses, 1)
	}

	waited, err := f.limiter.Admit(ctx)
	if err != nil {
		return nil, err
	}
	atomic.AddInt64(&f.admissions, 1)
	atomic.AddInt64(&f.rateLimitWait, int64(waited))
	metrics.RateLimitWait.WithLabelValues(f.source).Observe(waited.Seconds())
	if waited > 0 {
		f.logger.Warn("rate limit reached, waited", zap.Duration("wait", waited))
	}

	slept, err := f.delayer.Sleep(ctx)
	if err != nil {
		return nil, err
	}
	atomic.AddInt64(&f.pacingDelay, int64(slept))
	metrics.PacingDelay.WithLabelValues(f.source).Observe(slept.Seconds())

	payload, err = DoWithHook(ctx, f.retry, func(ctx context.Context) ([]byte, error) {
		return op(ctx)
	}, func(attempt int, err error, delay time.Duration) {
		atomic.AddInt64(&f.retries, 1)
		metrics.Retries.WithLabelValues(f.source).Inc()
		f.logger.Warn("attempt failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", f.retry.MaxAttempts),
			zap.Duration("backoff", delay),
			zap.Error(err))
	})
	if err != nil {
		atomic.AddInt64(&f.failures, 1)
		metrics.FetchRequests.WithLabelValues(f.source, metrics.OutcomeError).Inc()
		f.logger.Error("fetch failed", zap.String("url", req.URL), zap.Error(err))
		return nil, err
	}

	metrics.FetchRequests.WithLabelValues(f.source, metrics.OutcomeMiss).Inc()
	if caching {
		f.cache.Set(req.URL, req.Params, payload)
	}
	return payload, nil
}

// Get fetches req with the configured HTTP client.
func (f *ProtectedFetcher) Get(ctx context.Context, req Request, useCache bool) ([]byte, error) {
	if f.client == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "fetcher has no HTTP client")
	}
	return f.Fetch(ctx, req, func(ctx context.Context) ([]byte, error) {
		return f.client.Get(ctx, req.URL, req.Params, req.Headers)
	}, useCache)
}

// GetJSON fetches req and decodes the payload into v. Decoding is part of
// each attempt, so an undecodable body is retried and never cached.
func (f *ProtectedFetcher) GetJSON(ctx context.Context, req Request, v interface{}, useCache bool) error {
	if f.client == nil {
		return errors.New(errors.ErrorTypeConfig, "fetcher has no HTTP client")
	}

	decoded := false
	body, err := f.Fetch(ctx, req, func(ctx context.Context) ([]byte, error) {
		body, err := f.client.Get(ctx, req.URL, req.Params, req.Headers)
		if err != nil {
			return nil, err
		}
		if err := decodeJSON(body, v); err != nil {
			return nil, err
		}
		decoded = true
		return body, nil
	}, useCache)
	if err != nil {
		return err
	}
	if decoded {
		return nil
	}
	// Served from the cache.
	return decodeJSON(body, v)
}

func decodeJSON(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode JSON response")
	}
	return nil
}

// Stats returns fetcher statistics.
func (f *ProtectedFetcher) Stats() FetcherStats {
	s := FetcherStats{
		Source:        f.source,
		CacheHits:     atomic.LoadInt64(&f.cacheHits),
		CacheMisses:   atomic.LoadInt64(&f.cacheMisses),
		Admissions:    atomic.LoadInt64(&f.admissions),
		RateLimitWait: time.Duration(atomic.LoadInt64(&f.rateLimitWait)),
		PacingDelay:   time.Duration(atomic.LoadInt64(&f.pacingDelay)),
		Retries:       atomic.LoadInt64(&f.retries),
		Failures:      atomic.LoadInt64(&f.failures),
	}
	if l, ok := f.limiter.(*SlidingWindowRateLimiter); ok {
		s.CurrentRate = l.CurrentRate()
		s.MaxRate = l.MaxPerMinute()
	}
	return s
}
