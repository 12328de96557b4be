// Package testutil provides testing utilities for finlake
package testutil

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ajitpratap0/finlake/pkg/clients"
	"github.com/ajitpratap0/finlake/pkg/connector/core"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout that is
// cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// NoSleep is a Sleeper that returns immediately.
func NoSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

type openLimiter struct{}

func (openLimiter) Admit(ctx context.Context) (time.Duration, error) { return 0, ctx.Err() }

type noDelay struct{}

func (noDelay) Sleep(ctx context.Context) (time.Duration, error) { return 0, ctx.Err() }

// InstantOptions returns fetcher options whose limiter, delayer and backoff
// never block. Retries keep the preset attempt count of source.
func InstantOptions(source string) []clients.FetcherOption {
	limits := clients.PresetFor(source)
	retry := clients.NewRetryPolicy(limits.MaxAttempts, time.Millisecond, time.Millisecond).WithSleeper(NoSleep)
	return []clients.FetcherOption{
		clients.WithLimiter(openLimiter{}),
		clients.WithDelayer(noDelay{}),
		clients.WithRetryPolicy(retry),
	}
}

// InstantFetcher returns a fetcher for source built with InstantOptions.
func InstantFetcher(t *testing.T, source string, client *clients.HTTPClient, opts ...clients.FetcherOption) *clients.ProtectedFetcher {
	t.Helper()
	all := append([]clients.FetcherOption{clients.WithHTTPClient(client)}, InstantOptions(source)...)
	f, err := clients.NewProtectedFetcher(source, clients.PresetFor(source), TestLogger(t), append(all, opts...)...)
	require.NoError(t, err)
	return f
}

// ConnectorDeps builds connector dependencies pointed at srv.
func ConnectorDeps(t *testing.T, source string, srv *httptest.Server, env map[string]string) core.Deps {
	t.Helper()
	client := clients.NewHTTPClient(nil, TestLogger(t))
	t.Cleanup(func() { client.Close() })

	return core.Deps{
		Fetcher: InstantFetcher(t, source, client),
		HTTP:    client,
		Logger:  TestLogger(t),
		Getenv:  func(k string) string { return env[k] },
		BaseURL: srv.URL,
	}
}

// AssertEventually asserts that a condition becomes true within the specified timeout.
// It checks the condition every 10ms until it succeeds or the timeout expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
