package pipeline

import (
	"time"

	"github.com/ajitpratap0/finlake/pkg/connector/core"
)

// Options selects what a run ingests.
type Options struct {
	// Sources are ingested concurrently, each with its own fetcher.
	Sources []string
	// Datasets restricts a source to the named datasets; a source missing
	// from the map ingests every dataset it lists.
	Datasets map[string][]string
	Start    time.Time
	End      time.Time
	// UseCache routes fetches through the response cache when one is set.
	UseCache bool
}

// DatasetOutcome is the result of ingesting one dataset.
type DatasetOutcome struct {
	Source   string        `json:"source"`
	Dataset  string        `json:"dataset"`
	Domain   string        `json:"domain"`
	Status   core.Status   `json:"status"`
	Rows     int           `json:"rows"`
	Files    []string      `json:"files,omitempty"`
	Manifest string        `json:"manifest,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Summary aggregates one run.
type Summary struct {
	RunID     string           `json:"run_id"`
	Start     time.Time        `json:"period_start"`
	End       time.Time        `json:"period_end"`
	Outcomes  []DatasetOutcome `json:"outcomes"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	NoData    int              `json:"no_data"`
	Rows      int64            `json:"rows"`
	Duration  time.Duration    `json:"duration"`
}

// OK reports whether no dataset failed.
func (s *Summary) OK() bool { return s.Failed == 0 }

func (s *Summary) add(o DatasetOutcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Status {
	case core.StatusSuccess:
		s.Succeeded++
		s.Rows += int64(o.Rows)
	case core.StatusNoData:
		s.NoData++
	default:
		s.Failed++
	}
}
