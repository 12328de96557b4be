// Package cvm implements the CVM (Comissao de Valores Mobiliarios) open-data
// source: cadastral CSVs become tables, yearly filing archives are kept raw.
package cvm

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ajitpratap0/finlake/pkg/clients"
	"github.com/ajitpratap0/finlake/pkg/connector/core"
	"github.com/ajitpratap0/finlake/pkg/connector/registry"
	"github.com/ajitpratap0/finlake/pkg/connector/shared/tabular"
	"github.com/ajitpratap0/finlake/pkg/errors"
	"github.com/ajitpratap0/finlake/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

const (
	// Name is the source id.
	Name = "cvm"
	// DefaultBaseURL is the open-data portal root.
	DefaultBaseURL = "https://dados.cvm.gov.br/dados"
)

type kind int

const (
	kindCSV kind = iota
	kindYearlyZip
)

type endpoint struct {
	dataset core.Dataset
	kind    kind
	// path is relative to the base URL; yearly archives take the year.
	path string
}

var endpoints = []endpoint{
	{
		dataset: core.Dataset{Name: "companies", Description: "Listed companies registry", Domain: core.DomainFundamentals},
		kind:    kindCSV,
		path:    "CIA_ABERTA/CAD/DADOS/cad_cia_aberta.csv",
	},
	{
		dataset: core.Dataset{Name: "funds", Description: "Investment funds registry", Domain: core.DomainFundamentals},
		kind:    kindCSV,
		path:    "FI/CAD/DADOS/cad_fi.csv",
	},
	{
		dataset: core.Dataset{Name: "dfp", Description: "Annual standardized financial statements (raw archive)", Domain: core.DomainFundamentals},
		kind:    kindYearlyZip,
		path:    "CIA_ABERTA/DOC/DFP/DADOS/dfp_cia_aberta_%d.zip",
	},
	{
		dataset: core.Dataset{Name: "itr", Description: "Quarterly financial statements (raw archive)", Domain: core.DomainFundamentals},
		kind:    kindYearlyZip,
		path:    "CIA_ABERTA/DOC/ITR/DADOS/itr_cia_aberta_%d.zip",
	},
}

func init() {
	_ = registry.RegisterSource(Name, NewSource, &registry.ConnectorInfo{
		Name:        Name,
		Description: "CVM open data: company and fund registries, DFP/ITR filings",
		Website:     "https://dados.cvm.gov.br",
		Datasets:    datasets(),
	})
}

// Source fetches CVM open data.
type Source struct {
	fetcher *clients.ProtectedFetcher
	baseURL string
	logger  *zap.Logger
}

// NewSource creates the CVM source.
func NewSource(deps core.Deps) (core.Source, error) {
	return &Source{
		fetcher: deps.Fetcher,
		baseURL: strings.TrimRight(deps.URL(DefaultBaseURL), "/"),
		logger:  deps.Logger.With(zap.String("component", "source"), zap.String("source", Name)),
	}, nil
}

// Name returns the source id.
func (s *Source) Name() string { return Name }

// ListDatasets returns the available datasets.
func (s *Source) ListDatasets() []core.Dataset { return datasets() }

// Fetch retrieves one dataset. Registries are snapshots and ignore the
// period; filing archives are downloaded per year in [start, end].
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

	if ep.kind == kindCSV {
		return s.fetchRegistry(ctx, ep, end)
	}
	return s.fetchArchives(ctx, ep, start, end)
}

func (s *Source) fetchRegistry(ctx context.Context, ep *endpoint, asOf time.Time) *core.Result {
	name := ep.dataset.Name
	url := s.baseURL + "/" + ep.path

	s.logger.Info("downloading registry", zap.String("dataset", name))
	body, err := s.fetcher.Get(ctx, clients.Request{URL: url}, true)
	if err != nil {
		return core.ErrorResult(Name, name, core.DomainFundamentals, err)
	}

	table, err := parseCSV(body)
	if err != nil {
		return core.ErrorResult(Name, name, core.DomainFundamentals, err)
	}

	result := core.NewResult(Name, name, core.DomainFundamentals, url)
	result.Raw = []core.RawFile{{Filename: ep.path[strings.LastIndex(ep.path, "/")+1:], Content: body, Date: asOf}}
	if table.NumRows() == 0 {
		result.Status = core.StatusNoData
		return result
	}
	result.Data = table
	result.Metadata["rows"] = table.NumRows()
	result.Metadata["columns"] = table.NumColumns()
	s.logger.Info("parsed registry", zap.String("dataset", name), zap.Int("rows", table.NumRows()))
	return result
}

func (s *Source) fetchArchives(ctx context.Context, ep *endpoint, start, end time.Time) *core.Result {
	name := ep.dataset.Name
	if end.Before(start) {
		return core.ErrorResult(Name, name, core.DomainFundamentals,
			errors.New(errors.ErrorTypeValidation, "period end before start"))
	}

	result := core.NewResult(Name, name, core.DomainFundamentals, s.baseURL+"/"+ep.path[:strings.LastIndex(ep.path, "/")+1])
	var years []int
	for year := start.Year(); year <= end.Year(); year++ {
		rel := fmt.Sprintf(ep.path, year)
		body, err := s.fetcher.Get(ctx, clients.Request{URL: s.baseURL + "/" + rel}, false)
		if err != nil {
			// The current year's archive is often not published yet.
			if errors.IsType(err, errors.ErrorTypeNotFound) && year == end.Year() && year > start.Year() {
				s.logger.Warn("archive not published", zap.String("dataset", name), zap.Int("year", year))
				continue
			}
			return core.ErrorResult(Name, name, core.DomainFundamentals, err)
		}

		date := end
		if year < end.Year() {
			date = time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
		}
		result.Raw = append(result.Raw, core.RawFile{
			Filename: rel[strings.LastIndex(rel, "/")+1:],
			Content:  body,
			Date:     date,
		})
		years = append(years, year)
	}

	result.Metadata["years"] = years
	return result
}

// parseCSV decodes a Latin-1, semicolon separated CSV into a table.
func parseCSV(body []byte) (*models.Table, error) {
	r := csv.NewReader(charmap.ISO8859_1.NewDecoder().Reader(bytes.NewReader(body)))
	r.Comma = ';'
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return &models.Table{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read CSV header")
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read CSV rows")
	}
	table, err := tabular.FromStrings(header, rows)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "malformed CSV")
	}
	return table, nil
}

func datasets() []core.Dataset {
	out := make([]core.Dataset, 0, len(endpoints))
	for _, ep := range endpoints {
		out = append(out, ep.dataset)
	}
	return out
}
