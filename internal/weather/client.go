package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/circuitbreaker"
	"github.com/farmwise/farmwise/go/orchestrator/internal/config"
	"github.com/farmwise/farmwise/go/orchestrator/internal/interceptors"
)

var (
	// ErrNotFound means the provider has no forecast for the location.
	ErrNotFound = errors.New("location not found")
	// ErrMalformed means the provider answered with an unexpected body.
	ErrMalformed = errors.New("malformed forecast")
)

// StatusError is a non-2xx provider answer.
type StatusError struct{ Code int }

func (e *StatusError) Error() string { return fmt.Sprintf("weather provider returned %d", e.Code) }

// Temporary reports whether the request may succeed later.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// ForecastDetails is the raw multi-day forecast for one location.
type ForecastDetails struct {
	Location           string   `json:"location"`
	Country            string   `json:"country"`
	HourlyDescriptions []string `json:"hourly_descriptions"`
}

// Client fetches forecasts from a wttr.in compatible endpoint.
type Client struct {
	baseURL string
	http    *circuitbreaker.HTTPWrapper
	logger  *zap.Logger
}

func NewClient(cfg config.WeatherConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := &http.Client{Timeout: timeout, Transport: interceptors.NewActivityRoundTripper(nil)}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    circuitbreaker.NewHTTPWrapper(hc, "weather", logger),
		logger:  logger,
	}
}

type wttrValue []struct {
	Value string `json:"value"`
}

func (v wttrValue) first() string {
	if len(v) == 0 {
		return ""
	}
	return v[0].Value
}

type wttrResponse struct {
	NearestArea []struct {
		AreaName wttrValue `json:"areaName"`
		Country  wttrValue `json:"country"`
	} `json:"nearest_area"`
	Weather []struct {
		Date   string `json:"date"`
		Hourly []struct {
			Time         string    `json:"time"`
			TempC        string    `json:"tempC"`
			ChanceOfRain string    `json:"chanceofrain"`
			WeatherDesc  wttrValue `json:"weatherDesc"`
		} `json:"hourly"`
	} `json:"weather"`
}

// Forecast returns the 3-day forecast for a "lat,lon" or place-name query,
// one description per (day, hour) slot.
func (c *Client) Forecast(ctx context.Context, query string) (*ForecastDetails, error) {
	u := fmt.Sprintf("%s/%s?format=j1", c.baseURL, url.PathEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, query)
	case resp.StatusCode >= 300:
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	var w wttrResponse
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(w.Weather) == 0 {
		return nil, fmt.Errorf("%w: no forecast days", ErrMalformed)
	}

	out := &ForecastDetails{Location: query}
	if len(w.NearestArea) > 0 {
		out.Location = w.NearestArea[0].AreaName.first()
		out.Country = w.NearestArea[0].Country.first()
	}
	for _, day := range w.Weather {
		for _, h := range day.Hourly {
			out.HourlyDescriptions = append(out.HourlyDescriptions, fmt.Sprintf("%s %s %s, %s°C, %s%% chance of rain",
				day.Date, hourOf(h.Time), h.WeatherDesc.first(), h.TempC, h.ChanceOfRain))
		}
	}
	return out, nil
}

// hourOf turns wttr's "0", "300", "1500" into "00:00", "03:00", "15:00".
func hourOf(t string) string {
	n, err := strconv.Atoi(t)
	if err != nil {
		return t
	}
	return fmt.Sprintf("%02d:%02d", n/100, n%100)
}
