// Package forcing adapts external time-series providers to a single
// fetch(binding, range) contract. It never retries.
package forcing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
)

// Kind is the category of a provider
type Kind string

const (
	KindObserved  Kind = "observed"
	KindForecast  Kind = "forecast"
	KindHydraulic Kind = "hydraulic"
)

// Request asks one provider for one variable over a range
type Request struct {
	Binding   domain.ForcingBinding
	Variable  domain.Variable
	Range     domain.TimeRange
	Latitude  float64
	Longitude float64
}

// Provider fetches time series for the bindings of one type
type Provider interface {
	Kind() Kind
	Variables() []domain.Variable
	Fetch(ctx context.Context, req Request) (domain.ForcingTimeSeries, error)
}

// ProviderUnavailableError is a transient failure: network, throttling or
// server-side error. Callers may retry.
type ProviderUnavailableError struct {
	Binding    domain.ForcingBinding
	Variable   domain.Variable
	StatusCode int
	Err        error
}

func (e *ProviderUnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s unavailable for %s: status %d", e.Binding, e.Variable, e.StatusCode)
	}
	return fmt.Sprintf("provider %s unavailable for %s: %v", e.Binding, e.Variable, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Err }

// DataGapError means the provider answered but has no data for part or
// all of the range.
type DataGapError struct {
	Binding  domain.ForcingBinding
	Variable domain.Variable
	Range    domain.TimeRange
	Reason   string
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("no %s data from %s for %s: %s", e.Variable, e.Binding, e.Range, e.Reason)
}

// UnsupportedError is returned for binding types or variables no provider serves
type UnsupportedError struct {
	BindingType string
	Variable    domain.Variable
}

func (e *UnsupportedError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("binding type %q does not provide %s", e.BindingType, e.Variable)
	}
	return fmt.Sprintf("no provider for binding type %q", e.BindingType)
}

// IsUnavailable reports whether err is a transient provider failure.
func IsUnavailable(err error) bool {
	var u *ProviderUnavailableError
	return errors.As(err, &u)
}

// IsDataGap reports whether err means missing data.
func IsDataGap(err error) bool {
	var g *DataGapError
	return errors.As(err, &g)
}

// Adapter routes requests to the provider registered for a binding type
type Adapter struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewAdapter creates an empty adapter.
func NewAdapter() *Adapter {
	return &Adapter{providers: make(map[string]Provider)}
}

// Register binds a provider to a binding type, replacing any previous one.
func (a *Adapter) Register(bindingType string, p Provider) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.providers[bindingType] = p
}

// Supports reports whether a provider is registered for bindingType.
func (a *Adapter) Supports(bindingType string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.providers[bindingType]
	return ok
}

// Types lists registered binding types, sorted.
func (a *Adapter) Types() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.providers))
	for t := range a.providers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Provider returns the provider for bindingType.
func (a *Adapter) Provider(bindingType string) (Provider, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.providers[bindingType]
	if !ok {
		return nil, &UnsupportedError{BindingType: bindingType}
	}
	return p, nil
}

// Variables returns the variables served for bindingType.
func (a *Adapter) Variables(bindingType string) []domain.Variable {
	p, err := a.Provider(bindingType)
	if err != nil {
		return nil
	}
	return p.Variables()
}

// Fetch forwards req to the matching provider. Samples outside the
// requested range are dropped and the rest sorted by time.
func (a *Adapter) Fetch(ctx context.Context, req Request) (domain.ForcingTimeSeries, error) {
	p, err := a.Provider(req.Binding.Type)
	if err != nil {
		return domain.ForcingTimeSeries{}, err
	}
	if !provides(p, req.Variable) {
		return domain.ForcingTimeSeries{}, &UnsupportedError{BindingType: req.Binding.Type, Variable: req.Variable}
	}

	series, err := p.Fetch(ctx, req)
	if err != nil {
		return domain.ForcingTimeSeries{}, err
	}
	series.Binding = req.Binding
	series.Variable = req.Variable
	series.Forecast = p.Kind() == KindForecast

	kept := series.Samples[:0:0]
	for _, s := range series.Samples {
		if req.Range.Contains(s.Time) {
			kept = append(kept, s)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Time.Before(kept[j].Time) })
	series.Samples = kept

	if series.Empty() {
		return series, &DataGapError{Binding: req.Binding, Variable: req.Variable, Range: req.Range, Reason: "empty series"}
	}
	return series, nil
}

func provides(p Provider, v domain.Variable) bool {
	for _, pv := range p.Variables() {
		if pv == v {
			return true
		}
	}
	return false
}
