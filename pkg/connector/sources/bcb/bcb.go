// Package bcb implements the Banco Central do Brasil SGS time-series source.
package bcb

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/finlake/pkg/clients"
	"github.com/ajitpratap0/finlake/pkg/connector/core"
	"github.com/ajitpratap0/finlake/pkg/connector/registry"
	"github.com/ajitpratap0/finlake/pkg/connector/shared/tabular"
	"github.com/ajitpratap0/finlake/pkg/errors"
	"github.com/ajitpratap0/finlake/pkg/models"
	"go.uber.org/zap"
)

// Name is the source id.
const Name = "bcb"

// DefaultBaseURL is the SGS API root.
const DefaultBaseURL = "https://api.bcb.gov.br/dados/serie"

// Series maps dataset names to SGS series codes.
var Series = map[string]string{
	"selic_meta":            "432",
	"ipca":                  "433",
	"usd_brl":               "1",
	"unemployment":          "24369",
	"industrial_production": "21859",
}

var descriptions = map[string]string{
	"selic_meta":            "Selic target rate (% p.a.)",
	"ipca":                  "IPCA monthly inflation (%)",
	"usd_brl":               "USD/BRL commercial exchange rate, sell",
	"unemployment":          "Unemployment rate, PNAD Continua (%)",
	"industrial_production": "Industrial production index",
}

func init() {
	_ = registry.RegisterSource(Name, NewSource, &registry.ConnectorInfo{
		Name:        Name,
		Description: "Banco Central do Brasil SGS macroeconomic series",
		Website:     "https://www3.bcb.gov.br/sgspub",
		Datasets:    datasets(),
	})
}

// observation is one SGS data point. Values arrive as strings.
type observation struct {
	Data  string `json:"data"`
	Valor string `json:"valor"`
}

// Source fetches SGS series.
type Source struct {
	fetcher *clients.ProtectedFetcher
	baseURL string
	logger  *zap.Logger
}

// NewSource creates the BCB source.
func NewSource(deps core.Deps) (core.Source, error) {
	return &Source{
		fetcher: deps.Fetcher,
		baseURL: strings.TrimRight(deps.URL(DefaultBaseURL), "/"),
		logger:  deps.Logger.With(zap.String("component", "source"), zap.String("source", Name)),
	}, nil
}

// Name returns the source id.
func (s *Source) Name() string { return Name }

// ListDatasets returns the configured series.
func (s *Source) ListDatasets() []core.Dataset { return datasets() }

// Fetch downloads one series for [start, end].
func (s *Source) Fetch(ctx context.Context, dataset string, start, end time.Time) *core.Result {
	code, ok := Series[dataset]
	if !ok {
		return core.UnknownDataset(Name, dataset)
	}

	url := s.baseURL + "/bcdata.sgs." + code + "/dados"
	req := clients.Request{
		URL: url,
		Params: map[string]string{
			"formato":     "json",
			"dataInicial": start.Format("02/01/2006"),
			"dataFinal":   end.Format("02/01/2006"),
		},
	}

	s.logger.Info("fetching series", zap.String("dataset", dataset), zap.String("series_id", code))

	var obs []observation
	if err := s.fetcher.GetJSON(ctx, req, &obs, true); err != nil {
		s.logger.Error("series fetch failed", zap.String("dataset", dataset), zap.Error(err))
		return core.ErrorResult(Name, dataset, core.DomainMacro, err)
	}

	result := core.NewResult(Name, dataset, core.DomainMacro, url)
	result.Metadata["series_id"] = code
	result.Metadata["series_name"] = dataset
	if len(obs) == 0 {
		result.Status = core.StatusNoData
		result.Metadata["info"] = "no data in period"
		return result
	}

	table, err := toTable(dataset, obs)
	if err != nil {
		return core.ErrorResult(Name, dataset, core.DomainMacro, err)
	}
	result.Data = table
	result.Metadata["rows"] = table.NumRows()
	result.Metadata["columns"] = table.NumColumns()

	s.logger.Info("fetched series", zap.String("dataset", dataset), zap.Int("rows", table.NumRows()))
	return result
}

// toTable converts observations into a (date, <dataset>) table sorted by
// date. Unparseable values become nulls.
func toTable(dataset string, obs []observation) (*models.Table, error) {
	type point struct {
		date  time.Time
		value interface{}
	}
	points := make([]point, 0, len(obs))
	for _, o := range obs {
		d, ok := tabular.ParseDate(o.Data)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeData, "invalid SGS date %q", o.Data)
		}
		var v interface{}
		if f, err := strconv.ParseFloat(strings.TrimSpace(o.Valor), 64); err == nil {
			v = f
		}
		points = append(points, point{d, v})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].date.Before(points[j].date) })

	table := models.NewTable(
		models.Column{Name: "date", Type: models.FieldTypeDate},
		models.Column{Name: dataset, Type: models.FieldTypeFloat},
	)
	for _, p := range points {
		if err := table.AppendRow(p.date, p.value); err != nil {
			return nil, err
		}
	}
	return table, nil
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
