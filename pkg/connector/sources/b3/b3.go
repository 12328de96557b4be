// Package b3 downloads the B3 COTAHIST historical quotes archives. The
// fixed-width records are kept unparsed in the raw zone.
package b3

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/finlake/pkg/clients"
	"github.com/ajitpratap0/finlake/pkg/connector/core"
	"github.com/ajitpratap0/finlake/pkg/connector/registry"
	"github.com/ajitpratap0/finlake/pkg/errors"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

const (
	// Name is the source id.
	Name = "b3"
	// DefaultBaseURL serves the yearly COTAHIST archives.
	DefaultBaseURL = "https://bvmf.bmfbovespa.com.br/InstDados/SerHist"

	datasetCotahist = "cotahist"
)

var datasetList = []core.Dataset{
	{Name: datasetCotahist, Description: "COTAHIST yearly historical quotes (raw fixed-width archive)", Domain: core.DomainMarketData},
}

func init() {
	_ = registry.RegisterSource(Name, NewSource, &registry.ConnectorInfo{
		Name:        Name,
		Description: "B3 (Brasil Bolsa Balcao) historical market data",
		Website:     "https://www.b3.com.br",
		Datasets:    datasetList,
	})
}

// Source downloads COTAHIST archives.
type Source struct {
	fetcher *clients.ProtectedFetcher
	baseURL string
	logger  *zap.Logger
}

// NewSource creates the B3 source.
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
func (s *Source) ListDatasets() []core.Dataset { return datasetList }

// Fetch downloads one archive per calendar year touched by [start, end].
func (s *Source) Fetch(ctx context.Context, dataset string, start, end time.Time) *core.Result {
	if dataset != datasetCotahist {
		return core.UnknownDataset(Name, dataset)
	}
	if end.Before(start) {
		return core.ErrorResult(Name, dataset, core.DomainMarketData,
			errors.New(errors.ErrorTypeValidation, "period end before start"))
	}

	result := core.NewResult(Name, dataset, core.DomainMarketData, s.baseURL+"/")
	var years []int
	var total int64
	for year := start.Year(); year <= end.Year(); year++ {
		name := fmt.Sprintf("COTAHIST_A%d.ZIP", year)
		url := s.baseURL + "/" + name

		s.logger.Info("downloading archive", zap.String("file", name))
		body, err := s.fetcher.Get(ctx, clients.Request{URL: url}, false)
		if err != nil {
			return core.ErrorResult(Name, dataset, core.DomainMarketData, err)
		}
		entries, err := checkArchive(body)
		if err != nil {
			return core.ErrorResult(Name, dataset, core.DomainMarketData,
				errors.Wrap(err, errors.ErrorTypeData, name+" is not a valid archive"))
		}

		result.Raw = append(result.Raw, core.RawFile{
			Filename: name,
			Content:  body,
			Date:     partitionDate(year, end),
		})
		years = append(years, year)
		total += int64(len(body))
		s.logger.Info("downloaded archive", zap.String("file", name),
			zap.Int("bytes", len(body)), zap.Strings("entries", entries))
	}
	if len(years) == 1 {
		result.SourceURL = s.baseURL + "/" + result.Raw[0].Filename
	}

	result.Metadata["years"] = years
	result.Metadata["bytes"] = total
	return result
}

// checkArchive verifies body is a non-empty zip and returns its entry names.
func checkArchive(body []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, err
	}
	if len(zr.File) == 0 {
		return nil, fmt.Errorf("archive is empty")
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names, nil
}

// partitionDate places past years' archives in December and the current
// year's archive at the period end.
func partitionDate(year int, end time.Time) time.Time {
	if year < end.Year() {
		return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
	}
	return end
}
