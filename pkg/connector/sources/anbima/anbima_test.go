package anbima

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ajitpratap0/finlake/pkg/connector/core"
	"github.com/ajitpratap0/finlake/pkg/models"
	"github.com/ajitpratap0/finlake/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

var creds = map[string]string{ClientIDEnv: "id", ClientSecretEnv: "secret"}

type fakeAPI struct {
	tokens int32
	calls  int32
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.tokens, 1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "id", user)
		assert.Equal(t, "secret", pass)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/fundos", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.calls, 1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "2024-01-15", r.URL.Query().Get("data"))
		assert.Equal(t, "1000", r.URL.Query().Get("limite"))
		w.Write([]byte(`[
			{"codigo_fundo":"F1","data_referencia":"2024-01-15","patrimonio_liquido":1000.5,"gestor":{"nome":"Acme"}},
			{"codigo_fundo":"F2","data_referencia":"2024-01-15","patrimonio_liquido":null,"gestor":{"nome":"Beta"}}
		]`))
	})
	mux.HandleFunc("/v1/indices", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		w.Write([]byte(`{"content":[{"indice":"IMA-B","valor":9000.1}],"totalElements":1}`))
	})
	mux.HandleFunc("/v1/fiis", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	return mux
}

func newSource(t *testing.T, srv *httptest.Server, env map[string]string) core.Source {
	t.Helper()
	deps := testutil.ConnectorDeps(t, Name, srv, env)
	deps.TokenURL = srv.URL + "/oauth/token"
	src, err := NewSource(deps)
	require.NoError(t, err)
	return src
}

func TestFetchMutualFunds(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	src := newSource(t, srv, creds)
	ctx := testutil.TestContext(t)

	res := src.Fetch(ctx, "mutual_funds", day, day)
	require.Equal(t, core.StatusSuccess, res.Status, res.Error)
	assert.Equal(t, core.DomainMarketData, res.Domain)
	require.Equal(t, 2, res.Rows())
	require.NoError(t, res.Data.Validate())

	col := res.Data.Columns[res.Data.ColumnIndex("data_referencia")]
	assert.Equal(t, models.FieldTypeDate, col.Type)
	col = res.Data.Columns[res.Data.ColumnIndex("patrimonio_liquido")]
	assert.Equal(t, models.FieldTypeFloat, col.Type)
	v, ok := res.Data.Value(1, "gestor.nome")
	require.True(t, ok)
	assert.Equal(t, "Beta", v)

	// The token is reused across requests.
	src.Fetch(ctx, "mutual_funds", day, day)
	assert.Equal(t, int32(1), atomic.LoadInt32(&api.tokens))
	assert.Equal(t, int32(2), atomic.LoadInt32(&api.calls))
}

func TestFetchEnvelopeAndEmpty(t *testing.T) {
	srv := httptest.NewServer((&fakeAPI{}).handler(t))
	defer srv.Close()

	src := newSource(t, srv, creds)
	ctx := testutil.TestContext(t)

	res := src.Fetch(ctx, "market_indices", day, day)
	require.Equal(t, core.StatusSuccess, res.Status, res.Error)
	assert.Equal(t, []string{"indice", "valor"}, res.Data.ColumnNames())

	assert.Equal(t, core.StatusNoData, src.Fetch(ctx, "fiis", day, day).Status)
	assert.Equal(t, core.StatusError, src.Fetch(ctx, "debentures", day, day).Status)
}

func TestFetchWithoutCredentials(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	res := newSource(t, srv, nil).Fetch(testutil.TestContext(t), "fiis", day, day)
	assert.Equal(t, core.StatusError, res.Status)
	assert.Contains(t, res.Error, ClientIDEnv)
	assert.False(t, res.Transient(), "missing credentials are fatal")
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestFetchWithAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		w.Write([]byte(`[{"codigo":"X"}]`))
	}))
	defer srv.Close()

	res := newSource(t, srv, map[string]string{APIKeyEnv: "k"}).Fetch(testutil.TestContext(t), "fixed_income", day, day)
	require.Equal(t, core.StatusSuccess, res.Status, res.Error)
	assert.Equal(t, 1, res.Rows())
}

func TestDecodeRecords(t *testing.T) {
	recs, err := decodeRecords([]byte(`{"data":[{"a":1},{"a":2}]}`))
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = decodeRecords([]byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	_, err = decodeRecords([]byte(`not json`))
	assert.Error(t, err)
}

func TestFetchRetriesMalformedBody(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Write([]byte(`<html>maintenance</html>`))
			return
		}
		w.Write([]byte(`[{"codigo":"X"},{"codigo":"Y"}]`))
	}))
	defer srv.Close()

	res := newSource(t, srv, map[string]string{APIKeyEnv: "k"}).Fetch(testutil.TestContext(t), "fixed_income", day, day)
	require.Equal(t, core.StatusSuccess, res.Status, res.Error)
	assert.Equal(t, 2, res.Rows())
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
