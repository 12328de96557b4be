// Package cache implements the on-disk response cache used by the fetch
// pipeline. Each entry is one JSON file named after the request key.
//
// Caching is best-effort: read and write failures are logged at warn level
// and reported to callers as a miss.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/finlake/pkg/compression"
	"github.com/ajitpratap0/finlake/pkg/errors"
	"github.com/ajitpratap0/finlake/pkg/metrics"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const fileExt = ".json"

// Config configures the response cache.
type Config struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir     string        `yaml:"dir" mapstructure:"dir"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Codec   string        `yaml:"codec" mapstructure:"codec"`
}

// DefaultConfig returns a 24h gzip cache under ./cache.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Dir:     "./cache",
		TTL:     24 * time.Hour,
		Codec:   string(compression.Gzip),
	}
}

// Entry is the persisted form of one cached response.
type Entry struct {
	CreatedAt time.Time         `json:"created_at"`
	URL       string            `json:"url"`
	Params    map[string]string `json:"params"`
	Codec     string            `json:"codec"`
	Payload   []byte            `json:"payload"`
}

// Stats describes cache contents and activity.
type Stats struct {
	Dir        string        `json:"dir"`
	Enabled    bool          `json:"enabled"`
	TTL        time.Duration `json:"ttl"`
	Codec      string        `json:"codec"`
	Files      int           `json:"files"`
	TotalBytes int64         `json:"total_bytes"`
	Hits       int64         `json:"hits"`
	Misses     int64         `json:"misses"`
	Writes     int64         `json:"writes"`
	Evictions  int64         `json:"evictions"`
}

// Cache is a TTL file cache keyed by request identity. A mutex serializes
// directory access within the process.
type Cache struct {
	config Config
	codec  compression.Compressor
	clock  func() time.Time
	logger *zap.Logger

	mu sync.Mutex

	hits      int64
	misses    int64
	writes    int64
	evictions int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the cache clock.
func WithClock(clock func() time.Time) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New creates a cache. The directory is created when the cache is enabled.
func New(config Config, logger *zap.Logger, opts ...Option) (*Cache, error) {
	alg, err := compression.ParseAlgorithm(config.Codec)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid cache codec")
	}
	codec, err := compression.Get(alg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create cache codec")
	}
	config.Codec = string(alg)

	c := &Cache{
		config: config,
		codec:  codec,
		clock:  time.Now,
		logger: logger.With(zap.String("component", "cache")),
	}
	for _, opt := range opts {
		opt(c)
	}

	if config.Enabled {
		if config.Dir == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "cache dir is required")
		}
		if err := os.MkdirAll(config.Dir, 0o755); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create cache dir")
		}
	}
	return c, nil
}

// Key returns the cache key for a request: the hex sha256 of the URL, a
// colon and the canonical JSON encoding of params.
func Key(url string, params map[string]string) string {
	sum := sha256.Sum256([]byte(url + ":" + canonicalParams(params)))
	return hex.EncodeToString(sum[:])
}

// canonicalParams renders params as JSON with sorted keys. Nil and empty
// maps both render as "{}".
func canonicalParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(params[k])
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.String()
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.config.Dir, key+fileExt)
}

// Get returns the cached payload. Entries older than the TTL are removed
// and reported as a miss.
func (c *Cache) Get(url string, params map[string]string) ([]byte, bool) {
	if !c.config.Enabled {
		return nil, false
	}

	key := Key(url, params)
	path := c.path(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("failed to read cache entry", zap.String("path", path), zap.Error(err))
		}
		c.miss()
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("corrupt cache entry", zap.String("path", path), zap.Error(err))
		c.miss()
		return nil, false
	}

	if c.config.TTL > 0 && c.clock().Sub(entry.CreatedAt) > c.config.TTL {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to evict expired cache entry", zap.String("path", path), zap.Error(err))
		}
		atomic.AddInt64(&c.evictions, 1)
		metrics.CacheOperations.WithLabelValues("get", "expired").Inc()
		c.logger.Debug("cache entry expired", zap.String("url", url))
		c.miss()
		return nil, false
	}

	payload, err := c.decode(entry)
	if err != nil {
		c.logger.Warn("failed to decode cache payload", zap.String("path", path), zap.Error(err))
		c.miss()
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	metrics.CacheOperations.WithLabelValues("get", "hit").Inc()
	return payload, true
}

func (c *Cache) miss() {
	atomic.AddInt64(&c.misses, 1)
	metrics.CacheOperations.WithLabelValues("get", "miss").Inc()
}

func (c *Cache) decode(entry Entry) ([]byte, error) {
	alg, err := compression.ParseAlgorithm(entry.Codec)
	if err != nil {
		return nil, err
	}
	codec := c.codec
	if alg != codec.Algorithm() {
		// Entry written under a different codec setting.
		if codec, err = compression.Get(alg); err != nil {
			return nil, err
		}
	}
	return codec.Decompress(entry.Payload)
}

// Set stores payload for the request. Failures are logged, never returned.
func (c *Cache) Set(url string, params map[string]string, payload []byte) {
	if !c.config.Enabled {
		return
	}
	if err := c.set(url, params, payload); err != nil {
		c.logger.Warn("failed to write cache entry", zap.String("url", url), zap.Error(err))
		metrics.CacheOperations.WithLabelValues("set", "error").Inc()
		return
	}
	atomic.AddInt64(&c.writes, 1)
	metrics.CacheOperations.WithLabelValues("set", "ok").Inc()
}

func (c *Cache) set(url string, params map[string]string, payload []byte) error {
	compressed, err := c.codec.Compress(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Entry{
		CreatedAt: c.clock(),
		URL:       url,
		Params:    params,
		Codec:     string(c.codec.Algorithm()),
		Payload:   compressed,
	})
	if err != nil {
		return err
	}

	key := Key(url, params)

	c.mu.Lock()
	defer c.mu.Unlock()

	tmp, err := os.CreateTemp(c.config.Dir, key+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Clear removes entries created more than olderThan ago, or every entry when
// olderThan is zero. It returns the number of files removed.
func (c *Cache) Clear(olderThan time.Duration) (int, error) {
	if c.config.Dir == "" {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(c.config.Dir, "*"+fileExt))
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeFile, "failed to list cache dir")
	}

	cutoff := c.clock().Add(-olderThan)
	deleted := 0
	for _, f := range files {
		if olderThan > 0 && c.createdAt(f).After(cutoff) {
			continue
		}
		if err := os.Remove(f); err != nil {
			c.logger.Warn("failed to delete cache entry", zap.String("path", f), zap.Error(err))
			continue
		}
		deleted++
	}

	c.logger.Info("cache cleared", zap.Int("deleted", deleted), zap.Duration("older_than", olderThan))
	return deleted, nil
}

// createdAt reads the entry timestamp, falling back to the file mtime.
func (c *Cache) createdAt(path string) time.Time {
	if data, err := os.ReadFile(path); err == nil {
		var head struct {
			CreatedAt time.Time `json:"created_at"`
		}
		if json.Unmarshal(data, &head) == nil && !head.CreatedAt.IsZero() {
			return head.CreatedAt
		}
	}
	if info, err := os.Stat(path); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}

// Stats returns cache statistics.
func (c *Cache) Stats() Stats {
	s := Stats{
		Dir:       c.config.Dir,
		Enabled:   c.config.Enabled,
		TTL:       c.config.TTL,
		Codec:     c.config.Codec,
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Writes:    atomic.LoadInt64(&c.writes),
		Evictions: atomic.LoadInt64(&c.evictions),
	}
	if c.config.Dir == "" {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	files, _ := filepath.Glob(filepath.Join(c.config.Dir, "*"+fileExt))
	for _, f := range files {
		if info, err := os.Stat(f); err == nil {
			s.Files++
			s.TotalBytes += info.Size()
		}
	}
	return s
}
