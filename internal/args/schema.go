package args

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
	"github.com/spf13/cast"
)

// Kind is the type an argument value is coerced to
type Kind string

const (
	KindBool     Kind = "bool"
	KindInt      Kind = "int"
	KindFloat    Kind = "float"
	KindString   Kind = "string"
	KindDuration Kind = "duration"
	KindDate     Kind = "date"
	KindEnum     Kind = "enum"
	KindList     Kind = "list"
)

// Key describes one recognised argument
type Key struct {
	Name        string
	Kind        Kind
	Default     any
	Description string
	Choices     []string // KindEnum only
	Min         *int     // KindInt only
}

func minInt(n int) *int { return &n }

var schema = map[string]Key{
	"lakes":                {Name: "lakes", Kind: KindList, Default: []string{}, Description: "Lake keys to simulate, empty for every lake in the registry"},
	"simulation_dir":       {Name: "simulation_dir", Kind: KindString, Default: "runs", Description: "Working directory for lake run folders"},
	"engine_version":       {Name: "engine_version", Kind: KindString, Default: "3.0.4", Description: "Simulation engine version (container tag)"},
	"couple_aed2":          {Name: "couple_aed2", Kind: KindBool, Default: true, Description: "Couple the biogeochemical AED2 module"},
	"forecast":             {Name: "forecast", Kind: KindBool, Default: true, Description: "Extend runs with forecast forcing when the lake has a forecast binding"},
	"max_parallel_lakes":   {Name: "max_parallel_lakes", Kind: KindInt, Default: 5, Min: minInt(1), Description: "Number of lakes processed concurrently"},
	"snapshot":             {Name: "snapshot", Kind: KindBool, Default: true, Description: "Continue from the engine snapshot when one exists"},
	"snapshot_date":        {Name: "snapshot_date", Kind: KindDate, Default: time.Time{}, Description: "Snapshot to restart from (YYYYMMDD), latest when unset"},
	"data_api":             {Name: "data_api", Kind: KindString, Default: "https://alplakes-api.eawag.ch", Description: "Base URL of the forcing data API"},
	"run":                  {Name: "run", Kind: KindBool, Default: true, Description: "Execute the engine; false assembles and validates inputs only"},
	"publish":              {Name: "publish", Kind: KindBool, Default: true, Description: "Publish artifacts after a successful run"},
	"destination":          {Name: "destination", Kind: KindString, Default: "file://results", Description: "Publication target (file://, s3://, minio://)"},
	"debug":                {Name: "debug", Kind: KindBool, Default: false, Description: "Keep engine logs and intermediate files"},
	"overwrite_simulation": {Name: "overwrite_simulation", Kind: KindBool, Default: false, Description: "Clear the lake run folder before materialising inputs"},
	"start_date":           {Name: "start_date", Kind: KindDate, Default: time.Time{}, Description: "Override run start (YYYYMMDD)"},
	"end_date":             {Name: "end_date", Kind: KindDate, Default: time.Time{}, Description: "Override run end (YYYYMMDD)"},
	"spinup_days":          {Name: "spinup_days", Kind: KindInt, Default: 365, Min: minInt(1), Description: "Days before the end date to start when start_date is unset"},
	"retry_limit":          {Name: "retry_limit", Kind: KindInt, Default: 3, Min: minInt(0), Description: "Retries per forcing fetch on provider unavailability"},
	"retry_backoff":        {Name: "retry_backoff", Kind: KindDuration, Default: 2 * time.Second, Description: "Initial backoff between retries, doubled each attempt"},
	"retry_budget":         {Name: "retry_budget", Kind: KindInt, Default: 0, Min: minInt(0), Description: "Total retries allowed across the batch, 0 for unbounded"},
	"publish_retry_limit":  {Name: "publish_retry_limit", Kind: KindInt, Default: 3, Min: minInt(0), Description: "Retries per publication"},
	"run_timeout":          {Name: "run_timeout", Kind: KindDuration, Default: 6 * time.Hour, Description: "Wall-clock limit for one engine run"},
	"max_interpolate_gap":  {Name: "max_interpolate_gap", Kind: KindDuration, Default: 3 * time.Hour, Description: "Longest forcing gap filled by linear interpolation"},
	"log_level":            {Name: "log_level", Kind: KindEnum, Default: "info", Choices: []string{"debug", "info", "warn", "error"}, Description: "Log verbosity for the batch"},
}

// Schema returns every recognised key sorted by name.
func Schema() []Key {
	keys := make([]Key, 0, len(schema))
	for _, k := range schema {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name < keys[j].Name })
	return keys
}

// Lookup returns the schema entry for name.
func Lookup(name string) (Key, bool) {
	k, ok := schema[name]
	return k, ok
}

// DefaultString renders the default value the way it would be written on the command line.
func (k Key) DefaultString() string {
	switch v := k.Default.(type) {
	case []string:
		return strings.Join(v, ",")
	case time.Time:
		if v.IsZero() {
			return ""
		}
		return v.Format(domain.DateLayout)
	default:
		return fmt.Sprint(v)
	}
}

// Coerce converts a raw value from a file or override into the key's kind.
func (k Key) Coerce(raw any) (any, error) {
	v, err := k.coerce(raw)
	if err != nil {
		return nil, &InvalidArgumentError{Key: k.Name, Value: cast.ToString(raw), Reason: err.Error()}
	}
	return v, nil
}

func (k Key) coerce(raw any) (any, error) {
	switch k.Kind {
	case KindBool:
		return cast.ToBoolE(raw)
	case KindInt:
		if f, ok := raw.(float64); ok && f != float64(int(f)) {
			return nil, fmt.Errorf("expected an integer")
		}
		n, err := coerceInt(raw)
		if err != nil {
			return nil, fmt.Errorf("expected a decimal integer")
		}
		if k.Min != nil && n < *k.Min {
			return nil, fmt.Errorf("must be >= %d", *k.Min)
		}
		return n, nil
	case KindFloat:
		return cast.ToFloat64E(raw)
	case KindString:
		return cast.ToStringE(raw)
	case KindDuration:
		return coerceDuration(raw)
	case KindDate:
		return coerceDate(raw)
	case KindEnum:
		s, err := cast.ToStringE(raw)
		if err != nil {
			return nil, err
		}
		s = strings.ToLower(strings.TrimSpace(s))
		for _, c := range k.Choices {
			if s == c {
				return s, nil
			}
		}
		return nil, fmt.Errorf("must be one of %s", strings.Join(k.Choices, ", "))
	case KindList:
		return coerceList(raw)
	default:
		return nil, fmt.Errorf("unknown kind %s", k.Kind)
	}
}

// coerceInt reads strings as base 10 only; cast would accept 010 as octal.
func coerceInt(raw any) (int, error) {
	if s, ok := raw.(string); ok {
		return strconv.Atoi(strings.TrimSpace(s))
	}
	return cast.ToIntE(raw)
}

// coerceDuration treats bare numbers as seconds.
func coerceDuration(raw any) (time.Duration, error) {
	switch v := raw.(type) {
	case time.Duration:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("expected a duration like 90s or 2h")
		}
		return d, nil
	default:
		secs, err := cast.ToFloat64E(raw)
		if err != nil {
			return 0, fmt.Errorf("expected a duration like 90s or 2h")
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
}

// coerceDate parses YYYYMMDD. An empty value unsets the date.
func coerceDate(raw any) (time.Time, error) {
	if t, ok := raw.(time.Time); ok {
		return t.UTC().Truncate(24 * time.Hour), nil
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		return time.Time{}, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(domain.DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected a date in YYYYMMDD format")
	}
	return t, nil
}

// coerceList accepts lists or comma separated strings.
func coerceList(raw any) ([]string, error) {
	if s, ok := raw.(string); ok {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if out == nil {
			out = []string{}
		}
		return out, nil
	}
	return cast.ToStringSliceE(raw)
}
