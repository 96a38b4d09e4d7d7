package forcing

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
)

// ForecastProvider serves numerical weather forecasts at the lake centroid
type ForecastProvider struct {
	client *Client
	source string
	model  string
}

// NewForecastProvider creates a provider for one forecast product.
func NewForecastProvider(client *Client, source, model string) *ForecastProvider {
	return &ForecastProvider{client: client, source: source, model: model}
}

// Product is the binding type this provider registers under.
func (p *ForecastProvider) Product() string {
	return domain.ForecastBinding{Source: p.source, Model: p.model}.Product()
}

func (p *ForecastProvider) Kind() Kind { return KindForecast }

func (p *ForecastProvider) Variables() []domain.Variable {
	return domain.MeteoVariables()
}

// Fetch downloads point forecasts; parameters use the station ids so the
// two sources merge without conversion.
func (p *ForecastProvider) Fetch(ctx context.Context, req Request) (domain.ForcingTimeSeries, error) {
	param, ok := meteoParameters[req.Variable]
	if !ok {
		return domain.ForcingTimeSeries{}, &UnsupportedError{BindingType: p.Product(), Variable: req.Variable}
	}
	path := fmt.Sprintf("/%s/meteodata/forecast/%s/%s/%s/%s/%s",
		p.source, p.model,
		strconv.FormatFloat(req.Latitude, 'f', 4, 64),
		strconv.FormatFloat(req.Longitude, 'f', 4, 64),
		param, rangePath(req.Range))
	body, err := p.client.get(ctx, req, path, nil)
	if err != nil {
		return domain.ForcingTimeSeries{}, err
	}
	samples, err := body.samples(req, param)
	if err != nil {
		return domain.ForcingTimeSeries{}, err
	}
	return domain.ForcingTimeSeries{Samples: samples}, nil
}
