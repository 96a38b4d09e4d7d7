package forcing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
)

// MeteoStationType is the binding type for MeteoSwiss ground stations.
const MeteoStationType = "meteoswiss_meteostation"

// MeteoSwiss SwissMetNet parameter ids, hourly values
var meteoParameters = map[domain.Variable]string{
	domain.WindSpeed:      "fkl010h0",
	domain.WindDirection:  "dkl010h0",
	domain.Precipitation:  "rre150h0",
	domain.AirTemperature: "tre200h0",
	domain.SolarRadiation: "gre000h0",
	domain.VapourPressure: "pva200h0",
}

// MeteoStationProvider serves observed meteorology from station records
type MeteoStationProvider struct {
	client *Client

	mu         sync.Mutex
	elevations map[string]float64
}

// NewMeteoStationProvider creates a station provider on client.
func NewMeteoStationProvider(client *Client) *MeteoStationProvider {
	return &MeteoStationProvider{client: client, elevations: make(map[string]float64)}
}

func (p *MeteoStationProvider) Kind() Kind { return KindObserved }

func (p *MeteoStationProvider) Variables() []domain.Variable {
	return domain.MeteoVariables()
}

// Fetch downloads one parameter from one station. Air temperature also
// carries the station elevation so it can be corrected to lake altitude.
func (p *MeteoStationProvider) Fetch(ctx context.Context, req Request) (domain.ForcingTimeSeries, error) {
	param, ok := meteoParameters[req.Variable]
	if !ok {
		return domain.ForcingTimeSeries{}, &UnsupportedError{BindingType: MeteoStationType, Variable: req.Variable}
	}

	path := fmt.Sprintf("/meteoswiss/meteodata/measured/%s/%s/%s",
		url.PathEscape(req.Binding.ID), param, rangePath(req.Range))
	body, err := p.client.get(ctx, req, path, nil)
	if err != nil {
		return domain.ForcingTimeSeries{}, err
	}
	samples, err := body.samples(req, param)
	if err != nil {
		return domain.ForcingTimeSeries{}, err
	}

	series := domain.ForcingTimeSeries{Samples: samples}
	if req.Variable == domain.AirTemperature {
		elev, err := p.stationElevation(ctx, req)
		if err != nil {
			return domain.ForcingTimeSeries{}, err
		}
		series.StationElevation = elev
	}
	return series, nil
}

func (p *MeteoStationProvider) stationElevation(ctx context.Context, req Request) (float64, error) {
	p.mu.Lock()
	elev, ok := p.elevations[req.Binding.ID]
	p.mu.Unlock()
	if ok {
		return elev, nil
	}

	body, err := p.client.get(ctx, req, "/meteoswiss/meteodata/metadata/"+url.PathEscape(req.Binding.ID), nil)
	if err != nil {
		return 0, err
	}
	raw, ok := body["elevation"]
	if !ok {
		return 0, &DataGapError{Binding: req.Binding, Variable: req.Variable, Range: req.Range, Reason: "station metadata has no elevation"}
	}
	if err := json.Unmarshal(raw, &elev); err != nil {
		return 0, &DataGapError{Binding: req.Binding, Variable: req.Variable, Range: req.Range, Reason: "malformed station elevation"}
	}

	p.mu.Lock()
	p.elevations[req.Binding.ID] = elev
	p.mu.Unlock()
	return elev, nil
}
