package fred

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ajitpratap0/finlake/pkg/connector/core"
	"github.com/ajitpratap0/finlake/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end   = time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
)

func TestFetchObservations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/series/observations", r.URL.Path)
		assert.Equal(t, "UNRATE", q.Get("series_id"))
		assert.Equal(t, "secret", q.Get("api_key"))
		assert.Equal(t, "json", q.Get("file_type"))
		assert.Equal(t, "2024-01-01", q.Get("observation_start"))
		assert.Equal(t, "2024-03-31", q.Get("observation_end"))
		w.Write([]byte(`{"observations":[
			{"date":"2024-03-01","value":"3.9"},
			{"date":"2024-01-01","value":"3.7"},
			{"date":"2024-02-01","value":"."}
		]}`))
	}))
	defer srv.Close()

	src, err := NewSource(testutil.ConnectorDeps(t, Name, srv, map[string]string{APIKeyEnv: "secret"}))
	require.NoError(t, err)

	res := src.Fetch(testutil.TestContext(t), "unemployment_rate", start, end)
	require.Equal(t, core.StatusSuccess, res.Status, res.Error)
	require.Equal(t, 3, res.Rows())
	require.NoError(t, res.Data.Validate())
	assert.Equal(t, []string{"date", "unemployment_rate"}, res.Data.ColumnNames())
	assert.Equal(t, 3.7, res.Data.Rows[0][1])
	assert.Nil(t, res.Data.Rows[1][1])
	assert.Equal(t, 3.9, res.Data.Rows[2][1])
	assert.NotContains(t, res.SourceURL, "secret")
}

func TestMissingAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without an API key")
	}))
	defer srv.Close()

	src, err := NewSource(testutil.ConnectorDeps(t, Name, srv, nil))
	require.NoError(t, err)

	res := src.Fetch(testutil.TestContext(t), "cpi", start, end)
	assert.Equal(t, core.StatusError, res.Status)
	assert.Contains(t, res.Error, APIKeyEnv)
}

func TestNoObservations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"observations":[]}`))
	}))
	defer srv.Close()

	src, err := NewSource(testutil.ConnectorDeps(t, Name, srv, map[string]string{APIKeyEnv: "k"}))
	require.NoError(t, err)

	assert.Equal(t, core.StatusNoData, src.Fetch(testutil.TestContext(t), "gdp", start, end).Status)
	assert.Equal(t, core.StatusError, src.Fetch(testutil.TestContext(t), "bogus", start, end).Status)
}
