package weather

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/config"
)

const sample = `{
  "nearest_area": [{"areaName": [{"value": "Nakuru"}], "country": [{"value": "Kenya"}]}],
  "weather": [
    {"date": "2025-03-01", "hourly": [
      {"time": "0", "tempC": "14", "chanceofrain": "0", "weatherDesc": [{"value": "Clear"}]},
      {"time": "1500", "tempC": "26", "chanceofrain": "80", "weatherDesc": [{"value": "Patchy rain nearby"}]}
    ]},
    {"date": "2025-03-02", "hourly": [
      {"time": "900", "tempC": "21", "chanceofrain": "10", "weatherDesc": [{"value": "Sunny"}]}
    ]}
  ]
}`

func TestForecast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/-0.3,36.07", r.URL.Path)
		assert.Equal(t, "j1", r.URL.Query().Get("format"))
		_, _ = io.WriteString(w, sample)
	}))
	defer srv.Close()

	c := NewClient(config.WeatherConfig{BaseURL: srv.URL}, zap.NewNop())
	f, err := c.Forecast(context.Background(), "-0.3,36.07")
	require.NoError(t, err)
	assert.Equal(t, "Nakuru", f.Location)
	assert.Equal(t, "Kenya", f.Country)
	assert.Equal(t, []string{
		"2025-03-01 00:00 Clear, 14°C, 0% chance of rain",
		"2025-03-01 15:00 Patchy rain nearby, 26°C, 80% chance of rain",
		"2025-03-02 09:00 Sunny, 21°C, 10% chance of rain",
	}, f.HourlyDescriptions)
}

func TestForecastErrors(t *testing.T) {
	status, body := http.StatusOK, `{"weather": []}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()
	c := NewClient(config.WeatherConfig{BaseURL: srv.URL}, zap.NewNop())

	_, err := c.Forecast(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrMalformed)

	status = http.StatusNotFound
	_, err = c.Forecast(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrNotFound)

	status = http.StatusBadGateway
	_, err = c.Forecast(context.Background(), "nowhere")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.Temporary())
}
