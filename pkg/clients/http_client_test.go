package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ajitpratap0/finlake/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBuildURLSortsParams(t *testing.T) {
	u, err := BuildURL("https://api.bcb.gov.br/dados/serie/bcdata.sgs.432/dados",
		map[string]string{"formato": "json", "dataInicial": "01/01/2024"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.bcb.gov.br/dados/serie/bcdata.sgs.432/dados?dataInicial=01%2F01%2F2024&formato=json", u)

	u, err = BuildURL("https://x/y", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://x/y", u)
}

func TestHTTPClientDefaultHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json, text/plain, */*", r.Header.Get("Accept"))
		assert.Equal(t, "pt-BR,pt;q=0.9,en;q=0.8", r.Header.Get("Accept-Language"))
		assert.Equal(t, "abc", r.Header.Get("X-Api-Key"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewHTTPClient(nil, zaptest.NewLogger(t))
	defer c.Close()

	body, err := c.Get(context.Background(), srv.URL, nil, map[string]string{"X-Api-Key": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int64(1), c.GetStats().TotalRequests)
}

func TestHTTPClientStatusMapping(t *testing.T) {
	tests := []struct {
		status    int
		errType   errors.ErrorType
		retryable bool
	}{
		{http.StatusTooManyRequests, errors.ErrorTypeRateLimit, true},
		{http.StatusUnauthorized, errors.ErrorTypeAuthentication, false},
		{http.StatusNotFound, errors.ErrorTypeNotFound, false},
		{http.StatusBadRequest, errors.ErrorTypeHTTP, false},
		{http.StatusBadGateway, errors.ErrorTypeHTTP, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer srv.Close()

			c := NewHTTPClient(&HTTPConfig{RequestTimeout: 5 * time.Second}, zaptest.NewLogger(t))
			_, err := c.Get(context.Background(), srv.URL, nil, nil)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.errType))
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))

			var e *errors.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.status, e.Details["status"])
		})
	}
}

func TestHTTPClientConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := srv.URL
	srv.Close()

	c := NewHTTPClient(&HTTPConfig{RequestTimeout: 2 * time.Second}, zaptest.NewLogger(t))
	_, err := c.Get(context.Background(), target, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestClientCredentialsClient(t *testing.T) {
	var tokenCalls int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "id", user)
		assert.Equal(t, "secret", pass)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok123","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer apiSrv.Close()

	base := NewHTTPClient(&HTTPConfig{RequestTimeout: 5 * time.Second}, zaptest.NewLogger(t))
	c, err := NewClientCredentialsClient(context.Background(), &OAuth2Config{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     tokenSrv.URL,
		UseBasicAuth: true,
	}, base, zaptest.NewLogger(t))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		body, err := c.Get(context.Background(), apiSrv.URL, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "[]", string(body))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
}

func TestClientCredentialsRequiresSecrets(t *testing.T) {
	base := NewHTTPClient(nil, zaptest.NewLogger(t))
	_, err := NewClientCredentialsClient(context.Background(), &OAuth2Config{TokenURL: "https://x"}, base, zaptest.NewLogger(t))
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
}
