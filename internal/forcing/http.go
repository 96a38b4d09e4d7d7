package forcing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
)

// Client talks to the forcing data API
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

// NewClient creates an API client with its own pooled transport.
func NewClient(baseURL string, timeout time.Duration, userAgent string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		http: &http.Client{
			Timeout:   timeout,
			Transport: newTransport(),
		},
	}
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// apiSeries is the column-oriented response shape of the data API:
// {"Time": [...], "<parameter>": [...]}.
type apiSeries map[string]json.RawMessage

// get fetches path and classifies failures for req.
func (c *Client) get(ctx context.Context, req Request, path string, query url.Values) (apiSeries, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &ProviderUnavailableError{Binding: req.Binding, Variable: req.Variable, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case transientStatus(resp.StatusCode):
		io.Copy(io.Discard, resp.Body)
		return nil, &ProviderUnavailableError{Binding: req.Binding, Variable: req.Variable, StatusCode: resp.StatusCode}
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, &DataGapError{Binding: req.Binding, Variable: req.Variable, Range: req.Range,
			Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var body apiSeries
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &DataGapError{Binding: req.Binding, Variable: req.Variable, Range: req.Range,
			Reason: fmt.Sprintf("decoding response: %v", err)}
	}
	return body, nil
}

func transientStatus(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

// samples pairs the Time column with the parameter column. Null values
// are skipped.
func (s apiSeries) samples(req Request, parameter string) ([]domain.Sample, error) {
	gap := func(reason string) error {
		return &DataGapError{Binding: req.Binding, Variable: req.Variable, Range: req.Range, Reason: reason}
	}

	var times []string
	if raw, ok := s["Time"]; ok {
		if err := json.Unmarshal(raw, &times); err != nil {
			return nil, gap("malformed Time column")
		}
	} else if raw, ok := s["time"]; ok {
		if err := json.Unmarshal(raw, &times); err != nil {
			return nil, gap("malformed time column")
		}
	} else {
		return nil, gap("response has no Time column")
	}

	raw, ok := s[parameter]
	if !ok {
		return nil, gap(fmt.Sprintf("response has no %s column", parameter))
	}
	var values []*float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, gap(fmt.Sprintf("malformed %s column", parameter))
	}
	if len(values) != len(times) {
		return nil, gap("column lengths differ")
	}

	out := make([]domain.Sample, 0, len(times))
	for i, ts := range times {
		if values[i] == nil {
			continue
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, gap(fmt.Sprintf("bad timestamp %q", ts))
		}
		out = append(out, domain.Sample{Time: t, Value: *values[i]})
	}
	return out, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"200601021504",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// apiDate formats a range bound the way the API paths expect.
func apiDate(t time.Time) string {
	return t.UTC().Format(domain.DateLayout)
}

// rangePath covers req.Range with whole days; End is exclusive so the
// last partial day is included.
func rangePath(r domain.TimeRange) string {
	end := r.End.Add(-time.Nanosecond)
	return apiDate(r.Start) + "/" + apiDate(end)
}
