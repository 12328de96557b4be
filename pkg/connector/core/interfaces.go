// Package core defines the contract between source connectors and the
// ingestion driver.
package core

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ajitpratap0/finlake/pkg/clients"
	"github.com/ajitpratap0/finlake/pkg/errors"
	"github.com/ajitpratap0/finlake/pkg/models"
	"go.uber.org/zap"
)

// Status is the outcome of one dataset fetch.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusNoData  Status = "no_data"
)

// Lake domains used by the built-in connectors.
const (
	DomainMacro        = "macro"
	DomainMarketData   = "market_data"
	DomainFundamentals = "fundamentals"
)

// Dataset describes one dataset a source can produce.
type Dataset struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Domain      string `json:"domain"`
}

// RawFile is an upstream artifact persisted unparsed in the raw zone.
type RawFile struct {
	Filename string
	Content  []byte
	// Date selects the raw partition; zero means the fetch end date.
	Date time.Time
}

// Result is what a connector hands to the ingestion driver. Failures are
// reported through Status and Error rather than a Go error so the driver can
// continue with remaining datasets.
type Result struct {
	Source    string
	Dataset   string
	Domain    string
	Status    Status
	Data      *models.Table
	Raw       []RawFile
	Metadata  map[string]interface{}
	SourceURL string
	Error     string
}

// Rows returns the number of table rows.
func (r *Result) Rows() int { return r.Data.NumRows() }

// NewResult creates a successful result.
func NewResult(source, dataset, domain, sourceURL string) *Result {
	return &Result{
		Source:    source,
		Dataset:   dataset,
		Domain:    domain,
		Status:    StatusSuccess,
		Metadata:  map[string]interface{}{},
		SourceURL: sourceURL,
	}
}

// ErrorResult creates an error result carrying err's message. Metadata
// "transient" holds errors.IsRetryable(err).
func ErrorResult(source, dataset, domain string, err error) *Result {
	return &Result{
		Source:  source,
		Dataset: dataset,
		Domain:  domain,
		Status:  StatusError,
		Metadata: map[string]interface{}{
			"error":     err.Error(),
			"transient": errors.IsRetryable(err),
		},
		Error: err.Error(),
	}
}

// Transient reports whether an error result was tagged transient.
func (r *Result) Transient() bool {
	t, _ := r.Metadata["transient"].(bool)
	return t
}

// UnknownDataset is the error result for a dataset the source does not offer.
func UnknownDataset(source, dataset string) *Result {
	return ErrorResult(source, dataset, "", fmt.Errorf("unknown dataset: %s", dataset))
}

// Source is a data provider connector.
type Source interface {
	// Name returns the source id used in paths and manifests.
	Name() string
	// ListDatasets returns the datasets this source offers.
	ListDatasets() []Dataset
	// Fetch retrieves one dataset for the inclusive period [start, end].
	Fetch(ctx context.Context, dataset string, start, end time.Time) *Result
}

// Deps carries the per-run collaborators a connector is built with.
type Deps struct {
	// Fetcher is the protective pipeline for this source.
	Fetcher *clients.ProtectedFetcher
	// HTTP is the base client; connectors may wrap it (e.g. with OAuth2).
	HTTP   *clients.HTTPClient
	Logger *zap.Logger
	// Getenv looks up credentials; nil means os.Getenv.
	Getenv func(string) string
	// BaseURL overrides the upstream endpoint.
	BaseURL string
	// TokenURL overrides the OAuth2 token endpoint.
	TokenURL string
}

// Env looks up key with Getenv or the process environment.
func (d Deps) Env(key string) string {
	if d.Getenv != nil {
		return d.Getenv(key)
	}
	return os.Getenv(key)
}

// URL returns BaseURL, or def when it is unset.
func (d Deps) URL(def string) string {
	if d.BaseURL != "" {
		return d.BaseURL
	}
	return def
}

// Validate checks the mandatory collaborators.
func (d Deps) Validate() error {
	if d.Fetcher == nil {
		return fmt.Errorf("fetcher is required")
	}
	if d.HTTP == nil {
		return fmt.Errorf("http client is required")
	}
	if d.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	return nil
}

// DatasetByName finds a dataset in list.
func DatasetByName(list []Dataset, name string) (Dataset, bool) {
	for _, d := range list {
		if d.Name == name {
			return d, true
		}
	}
	return Dataset{}, false
}
