// Package fred implements the St. Louis Fed FRED observations source.
package fred

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/finlake/pkg/clients"
	"github.com/ajitpratap0/finlake/pkg/connector/core"
	"github.com/ajitpratap0/finlake/pkg/connector/registry"
	"github.com/ajitpratap0/finlake/pkg/errors"
	"github.com/ajitpratap0/finlake/pkg/models"
	"go.uber.org/zap"
)

const (
	// Name is the source id.
	Name = "fred"
	// DefaultBaseURL is the FRED API root.
	DefaultBaseURL = "https://api.stlouisfed.org/fred"
	// APIKeyEnv holds the API key.
	APIKeyEnv = "FRED_API_KEY"
)

// Series maps dataset names to FRED series ids.
var Series = map[string]string{
	"unemployment_rate":  "UNRATE",
	"cpi":                "CPIAUCSL",
	"unemployment_level": "UNEMPLOY",
	"nonfarm_payroll":    "PAYEMS",
	"gdp":                "A191RL1Q225SBEA",
}

var descriptions = map[string]string{
	"unemployment_rate":  "Civilian unemployment rate (%)",
	"cpi":                "CPI for all urban consumers",
	"unemployment_level": "Unemployment level (thousands)",
	"nonfarm_payroll":    "All employees, total nonfarm (thousands)",
	"gdp":                "Real GDP, percent change from preceding period",
}

func init() {
	_ = registry.RegisterSource(Name, NewSource, &registry.ConnectorInfo{
		Name:        Name,
		Description: "Federal Reserve Economic Data (St. Louis Fed)",
		Website:     "https://fred.stlouisfed.org",
		Credentials: []string{APIKeyEnv},
		Datasets:    datasets(),
	})
}

type observationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// Source fetches FRED series.
type Source struct {
	fetcher *clients.ProtectedFetcher
	baseURL string
	apiKey  string
	logger  *zap.Logger
}

// NewSource creates the FRED source. A missing API key is not an error here;
// every fetch reports it instead.
func NewSource(deps core.Deps) (core.Source, error) {
	s := &Source{
		fetcher: deps.Fetcher,
		baseURL: strings.TrimRight(deps.URL(DefaultBaseURL), "/"),
		apiKey:  deps.Env(APIKeyEnv),
		logger:  deps.Logger.With(zap.String("component", "source"), zap.String("source", Name)),
	}
	if s.apiKey == "" {
		s.logger.Warn(APIKeyEnv + " not set; fetches will fail")
	}
	return s, nil
}

// Name returns the source id.
func (s *Source) Name() string { return Name }

// ListDatasets returns the configured series.
func (s *Source) ListDatasets() []core.Dataset { return datasets() }

// Fetch downloads observations of one series for [start, end].
func (s *Source) Fetch(ctx context.Context, dataset string, start, end time.Time) *core.Result {
	if s.apiKey == "" {
		return core.ErrorResult(Name, dataset, core.DomainMacro,
			errors.New(errors.ErrorTypeAuthentication, APIKeyEnv+" not configured"))
	}
	id, ok := Series[dataset]
	if !ok {
		return core.UnknownDataset(Name, dataset)
	}

	url := s.baseURL + "/series/observations"
	req := clients.Request{
		URL: url,
		Params: map[string]string{
			"series_id":         id,
			"api_key":           s.apiKey,
			"file_type":         "json",
			"observation_start": start.Format("2006-01-02"),
			"observation_end":   end.Format("2006-01-02"),
		},
	}

	s.logger.Info("fetching series", zap.String("dataset", dataset), zap.String("series_id", id))

	var resp observationsResponse
	if err := s.fetcher.GetJSON(ctx, req, &resp, true); err != nil {
		return core.ErrorResult(Name, dataset, core.DomainMacro, err)
	}

	result := core.NewResult(Name, dataset, core.DomainMacro, url+"?series_id="+id)
	result.Metadata["series_id"] = id
	result.Metadata["series_name"] = dataset
	if len(resp.Observations) == 0 {
		result.Status = core.StatusNoData
		result.Metadata["info"] = "no data in period"
		return result
	}

	table := models.NewTable(
		models.Column{Name: "date", Type: models.FieldTypeDate},
		models.Column{Name: dataset, Type: models.FieldTypeFloat},
	)
	for _, o := range resp.Observations {
		d, err := time.Parse("2006-01-02", o.Date)
		if err != nil {
			return core.ErrorResult(Name, dataset, core.DomainMacro,
				errors.Wrap(err, errors.ErrorTypeData, "invalid observation date"))
		}
		// FRED marks missing values with ".".
		var v interface{}
		if f, err := strconv.ParseFloat(o.Value, 64); err == nil {
			v = f
		}
		_ = table.AppendRow(d, v)
	}
	sort.SliceStable(table.Rows, func(i, j int) bool {
		return table.Rows[i][0].(time.Time).Before(table.Rows[j][0].(time.Time))
	})

	result.Data = table
	result.Metadata["rows"] = table.NumRows()
	s.logger.Info("fetched series", zap.String("dataset", dataset), zap.Int("rows", table.NumRows()))
	return result
}

func datasets() []core.Dataset {
	names := make([]string, 0, len(Series))
	for n := range Series {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]core.Dataset, 0, len(names))
	for _, n := range names {
		out = append(out, core.Dataset{Name: n, Description: descriptions[n], Domain: core.DomainMacro})
	}
	return out
}
