package args

import (
	"fmt"
	"sort"
	"time"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
	"github.com/hochfrequenz/lake-orchestrator/internal/retry"
)

// RunConfiguration is the fully resolved, immutable set of batch options
type RunConfiguration struct {
	BaseName            string
	Lakes               []string
	SimulationDir       string
	EngineVersion       string
	CoupleAED2          bool
	Forecast            bool
	MaxParallelLakes    int
	Snapshot            bool
	SnapshotDate        time.Time
	DataAPI             string
	Run                 bool
	Publish             bool
	Destination         string
	Debug               bool
	OverwriteSimulation bool
	StartDate           time.Time
	EndDate             time.Time
	SpinupDays          int
	RetryLimit          int
	RetryBackoff        time.Duration
	RetryBudget         int
	PublishRetryLimit   int
	RunTimeout          time.Duration
	MaxInterpolateGap   time.Duration
	LogLevel            string

	values map[string]any
}

func newRunConfiguration(base string, v map[string]any) (RunConfiguration, error) {
	cfg := RunConfiguration{
		BaseName:            base,
		Lakes:               append([]string(nil), v["lakes"].([]string)...),
		SimulationDir:       v["simulation_dir"].(string),
		EngineVersion:       v["engine_version"].(string),
		CoupleAED2:          v["couple_aed2"].(bool),
		Forecast:            v["forecast"].(bool),
		MaxParallelLakes:    v["max_parallel_lakes"].(int),
		Snapshot:            v["snapshot"].(bool),
		SnapshotDate:        v["snapshot_date"].(time.Time),
		DataAPI:             v["data_api"].(string),
		Run:                 v["run"].(bool),
		Publish:             v["publish"].(bool),
		Destination:         v["destination"].(string),
		Debug:               v["debug"].(bool),
		OverwriteSimulation: v["overwrite_simulation"].(bool),
		StartDate:           v["start_date"].(time.Time),
		EndDate:             v["end_date"].(time.Time),
		SpinupDays:          v["spinup_days"].(int),
		RetryLimit:          v["retry_limit"].(int),
		RetryBackoff:        v["retry_backoff"].(time.Duration),
		RetryBudget:         v["retry_budget"].(int),
		PublishRetryLimit:   v["publish_retry_limit"].(int),
		RunTimeout:          v["run_timeout"].(time.Duration),
		MaxInterpolateGap:   v["max_interpolate_gap"].(time.Duration),
		LogLevel:            v["log_level"].(string),
		values:              v,
	}

	if !cfg.StartDate.IsZero() && !cfg.EndDate.IsZero() && !cfg.StartDate.Before(cfg.EndDate) {
		return RunConfiguration{}, &InvalidArgumentError{
			Key:    "start_date",
			Value:  cfg.StartDate.Format(domain.DateLayout),
			Reason: fmt.Sprintf("must be before end_date %s", cfg.EndDate.Format(domain.DateLayout)),
		}
	}
	if cfg.RunTimeout <= 0 {
		return RunConfiguration{}, &InvalidArgumentError{Key: "run_timeout", Value: cfg.RunTimeout.String(), Reason: "must be positive"}
	}
	if cfg.RetryBackoff < 0 {
		return RunConfiguration{}, &InvalidArgumentError{Key: "retry_backoff", Value: cfg.RetryBackoff.String(), Reason: "must not be negative"}
	}
	if cfg.SimulationDir == "" {
		return RunConfiguration{}, &InvalidArgumentError{Key: "simulation_dir", Reason: "must not be empty"}
	}
	return cfg, nil
}

// FetchPolicy is the retry policy for forcing fetches.
func (c RunConfiguration) FetchPolicy() retry.Policy {
	return retry.NewPolicy(c.RetryLimit, c.RetryBackoff)
}

// PublishPolicy is the retry policy for publication.
func (c RunConfiguration) PublishPolicy() retry.Policy {
	return retry.NewPolicy(c.PublishRetryLimit, c.RetryBackoff)
}

// Values returns the resolved arguments as display strings, sorted by key.
func (c RunConfiguration) Values() []KeyValue {
	out := make([]KeyValue, 0, len(c.values))
	for name, v := range c.values {
		k := schema[name]
		k.Default = v
		out = append(out, KeyValue{Key: name, Value: k.DefaultString()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// KeyValue is one resolved argument
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
