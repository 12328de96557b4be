package clients

import (
	"fmt"
	"sort"
	"time"
)

// SourceLimits is the protective budget for one upstream.
type SourceLimits struct {
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	MinDelay          time.Duration `yaml:"min_delay" mapstructure:"min_delay"`
	MaxDelay          time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	MaxAttempts       int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBase       time.Duration `yaml:"backoff_base" mapstructure:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoff_max" mapstructure:"backoff_max"`
}

// Validate checks the limits are usable.
func (l SourceLimits) Validate() error {
	if l.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests_per_minute must be positive")
	}
	if l.MinDelay < 0 || l.MaxDelay < l.MinDelay {
		return fmt.Errorf("invalid delay range [%s, %s]", l.MinDelay, l.MaxDelay)
	}
	if l.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if l.BackoffBase < 0 || (l.BackoffMax > 0 && l.BackoffMax < l.BackoffBase) {
		return fmt.Errorf("invalid backoff range [%s, %s]", l.BackoffBase, l.BackoffMax)
	}
	return nil
}

func preset(rpm int, minDelay, maxDelay time.Duration, attempts int) SourceLimits {
	return SourceLimits{
		RequestsPerMinute: rpm,
		MinDelay:          minDelay,
		MaxDelay:          maxDelay,
		MaxAttempts:       attempts,
		BackoffBase:       time.Second,
		BackoffMax:        60 * time.Second,
	}
}

// presets holds the per-upstream budgets.
var presets = map[string]SourceLimits{
	"bcb":    preset(100, 500*time.Millisecond, 1500*time.Millisecond, 3),
	"fred":   preset(100, 500*time.Millisecond, 1500*time.Millisecond, 3),
	"anbima": preset(50, time.Second, 2*time.Second, 3),
	"yahoo":  preset(30, 2*time.Second, 4*time.Second, 5),
	"b3":     preset(20, 3*time.Second, 5*time.Second, 5),
	"cvm":    preset(60, time.Second, 2*time.Second, 3),
}

// DefaultLimits applies to sources without a preset.
var DefaultLimits = preset(60, time.Second, 3*time.Second, 3)

// PresetFor returns the preset for source, or DefaultLimits.
func PresetFor(source string) SourceLimits {
	if l, ok := presets[source]; ok {
		return l
	}
	return DefaultLimits
}

// Presets returns a copy of every preset keyed by source.
func Presets() map[string]SourceLimits {
	out := make(map[string]SourceLimits, len(presets))
	for k, v := range presets {
		out[k] = v
	}
	return out
}

// PresetNames returns the sorted list of sources with presets.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for k := range presets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
