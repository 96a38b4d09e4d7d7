package forcing

import "time"

// Forecast products served by the data API.
var forecastProducts = [][2]string{
	{"meteoswiss", "icon"},
	{"meteoswiss", "cosmo"},
}

// NewDefaultAdapter wires the station, gauge and forecast providers
// against one data API.
func NewDefaultAdapter(baseURL string, timeout time.Duration, userAgent string) *Adapter {
	client := NewClient(baseURL, timeout, userAgent)
	a := NewAdapter()
	a.Register(MeteoStationType, NewMeteoStationProvider(client))
	a.Register(HydroStationType, NewHydroStationProvider(client))
	for _, fp := range forecastProducts {
		p := NewForecastProvider(client, fp[0], fp[1])
		a.Register(p.Product(), p)
	}
	return a
}
