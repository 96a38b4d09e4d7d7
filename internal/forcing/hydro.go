package forcing

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
)

// HydroStationType is the binding type for BAFU river gauges.
const HydroStationType = "bafu_hydrostation"

var hydroParameters = map[domain.Variable]string{
	domain.Discharge:        "AbflussPneumatikunten",
	domain.WaterTemperature: "Wassertemperatur",
}

// HydroStationProvider serves river discharge and temperature for inflows
type HydroStationProvider struct {
	client *Client
}

// NewHydroStationProvider creates a gauge provider on client.
func NewHydroStationProvider(client *Client) *HydroStationProvider {
	return &HydroStationProvider{client: client}
}

func (p *HydroStationProvider) Kind() Kind { return KindHydraulic }

func (p *HydroStationProvider) Variables() []domain.Variable {
	return domain.HydroVariables()
}

func (p *HydroStationProvider) Fetch(ctx context.Context, req Request) (domain.ForcingTimeSeries, error) {
	param, ok := hydroParameters[req.Variable]
	if !ok {
		return domain.ForcingTimeSeries{}, &UnsupportedError{BindingType: HydroStationType, Variable: req.Variable}
	}
	path := fmt.Sprintf("/bafu/hydrodata/measured/%s/%s/%s",
		url.PathEscape(req.Binding.ID), param, rangePath(req.Range))
	body, err := p.client.get(ctx, req, path, url.Values{"resample": {"hourly"}})
	if err != nil {
		return domain.ForcingTimeSeries{}, err
	}
	samples, err := body.samples(req, param)
	if err != nil {
		return domain.ForcingTimeSeries{}, err
	}
	return domain.ForcingTimeSeries{Samples: samples}, nil
}
