// Package anbima implements the ANBIMA Data API source. Requests are
// authenticated with the OAuth2 client-credentials grant.
package anbima

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/finlake/pkg/clients"
	"github.com/ajitpratap0/finlake/pkg/connector/core"
	"github.com/ajitpratap0/finlake/pkg/connector/registry"
	"github.com/ajitpratap0/finlake/pkg/connector/shared/tabular"
	"github.com/ajitpratap0/finlake/pkg/errors"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	// Name is the source id.
	Name = "anbima"
	// DefaultBaseURL is the API root.
	DefaultBaseURL = "https://data.anbima.com.br/api"
	// DefaultTokenURL issues access tokens.
	DefaultTokenURL = "https://auth.anbima.com.br/oauth/token"

	ClientIDEnv     = "ANBIMA_CLIENT_ID"
	ClientSecretEnv = "ANBIMA_CLIENT_SECRET"
	// APIKeyEnv is used when no client credentials are configured.
	APIKeyEnv = "ANBIMA_API_KEY"

	defaultLimit = 1000
)

type endpoint struct {
	dataset core.Dataset
	path    string
	// dated endpoints take the reference date and a page limit.
	dated bool
}

var endpoints = []endpoint{
	{core.Dataset{Name: "mutual_funds", Description: "Mutual fund daily data", Domain: core.DomainMarketData}, "/v1/fundos", true},
	{core.Dataset{Name: "fiis", Description: "Real estate investment funds (FII)", Domain: core.DomainMarketData}, "/v1/fiis", true},
	{core.Dataset{Name: "fixed_income", Description: "Fixed income secondary market rates", Domain: core.DomainMarketData}, "/v1/renda-fixa", true},
	{core.Dataset{Name: "market_indices", Description: "ANBIMA market indices", Domain: core.DomainMarketData}, "/v1/indices", false},
}

func init() {
	_ = registry.RegisterSource(Name, NewSource, &registry.ConnectorInfo{
		Name:        Name,
		Description: "ANBIMA fund, fixed income and index data",
		Website:     "https://data.anbima.com.br",
		Credentials: []string{ClientIDEnv, ClientSecretEnv},
		Datasets:    datasets(),
	})
}

// Source fetches ANBIMA datasets.
type Source struct {
	fetcher *clients.ProtectedFetcher
	// client is nil when no credentials are configured.
	client  *clients.HTTPClient
	headers map[string]string
	baseURL string
	logger  *zap.Logger
}

// NewSource creates the ANBIMA source. Without credentials the source is
// still created and every fetch reports an authentication error.
func NewSource(deps core.Deps) (core.Source, error) {
	s := &Source{
		fetcher: deps.Fetcher,
		baseURL: strings.TrimRight(deps.URL(DefaultBaseURL), "/"),
		logger:  deps.Logger.With(zap.String("component", "source"), zap.String("source", Name)),
	}

	id, secret := deps.Env(ClientIDEnv), deps.Env(ClientSecretEnv)
	switch {
	case id != "" && secret != "":
		tokenURL := deps.TokenURL
		if tokenURL == "" {
			tokenURL = DefaultTokenURL
		}
		client, err := clients.NewClientCredentialsClient(context.Background(), &clients.OAuth2Config{
			ClientID:     id,
			ClientSecret: secret,
			TokenURL:     tokenURL,
			UseBasicAuth: true,
		}, deps.HTTP, s.logger)
		if err != nil {
			return nil, err
		}
		s.client = client
	case deps.Env(APIKeyEnv) != "":
		s.client = deps.HTTP
		s.headers = map[string]string{"X-API-Key": deps.Env(APIKeyEnv)}
	default:
		s.logger.Warn("ANBIMA credentials not set; fetches will fail",
			zap.Strings("env", []string{ClientIDEnv, ClientSecretEnv}))
	}
	return s, nil
}

// Name returns the source id.
func (s *Source) Name() string { return Name }

// ListDatasets returns the available datasets.
func (s *Source) ListDatasets() []core.Dataset { return datasets() }

// Fetch retrieves one dataset as of the period end.
func (s *Source) Fetch(ctx context.Context, dataset string, start, end time.Time) *core.Result {
	var ep *endpoint
	for i := range endpoints {
		if endpoints[i].dataset.Name == dataset {
			ep = &endpoints[i]
		}
	}
	if ep == nil {
		return core.UnknownDataset(Name, dataset)
	}
	if s.client == nil {
		return core.ErrorResult(Name, dataset, core.DomainMarketData,
			errors.New(errors.ErrorTypeAuthentication, "set "+ClientIDEnv+" and "+ClientSecretEnv))
	}

	req := clients.Request{URL: s.baseURL + ep.path, Headers: s.headers}
	if ep.dated {
		req.Params = map[string]string{
			"data":   end.Format("2006-01-02"),
			"limite": strconv.Itoa(defaultLimit),
		}
	}

	s.logger.Info("fetching dataset", zap.String("dataset", dataset))
	// Decoding inside the fetch makes a malformed body a failed attempt.
	var records []map[string]interface{}
	body, err := s.fetcher.Fetch(ctx, req, func(ctx context.Context) ([]byte, error) {
		body, err := s.client.Get(ctx, req.URL, req.Params, req.Headers)
		if err != nil {
			return nil, err
		}
		if records, err = decodeRecords(body); err != nil {
			return nil, err
		}
		return body, nil
	}, true)
	if err != nil {
		return core.ErrorResult(Name, dataset, core.DomainMarketData, err)
	}
	if records == nil {
		// Served from the cache.
		if records, err = decodeRecords(body); err != nil {
			return core.ErrorResult(Name, dataset, core.DomainMarketData, err)
		}
	}

	result := core.NewResult(Name, dataset, core.DomainMarketData, req.URL)
	if len(records) == 0 {
		result.Status = core.StatusNoData
		result.Metadata["info"] = "no records"
		return result
	}
	result.Data = tabular.FromRecords(records)
	result.Metadata["rows"] = result.Data.NumRows()
	result.Metadata["columns"] = result.Data.NumColumns()
	s.logger.Info("fetched dataset", zap.String("dataset", dataset), zap.Int("rows", result.Data.NumRows()))
	return result
}

// envelopeKeys are the fields paginated responses wrap records in.
var envelopeKeys = []string{"content", "data", "items", "results"}

// decodeRecords accepts a bare array of objects or an object wrapping one.
func decodeRecords(body []byte) ([]map[string]interface{}, error) {
	var list []map[string]interface{}
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "unexpected ANBIMA response")
	}
	for _, k := range envelopeKeys {
		raw, ok := envelope[k]
		if !ok {
			continue
		}
		// "data" is also the reference date field on single records.
		if err := json.Unmarshal(raw, &list); err == nil {
			return list, nil
		}
	}
	// A single object is one record.
	var one map[string]interface{}
	if err := json.Unmarshal(body, &one); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "unexpected ANBIMA response")
	}
	return []map[string]interface{}{one}, nil
}

func datasets() []core.Dataset {
	out := make([]core.Dataset, 0, len(endpoints))
	for _, ep := range endpoints {
		out = append(out, ep.dataset)
	}
	return out
}
