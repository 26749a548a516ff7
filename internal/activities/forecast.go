package activities

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/constants"
	"github.com/farmwise/farmwise/go/orchestrator/internal/db"
	"github.com/farmwise/farmwise/go/orchestrator/internal/weather"
)

// GetWeatherForecast fetches the 3-day forecast at the contact's location.
func (a *Activities) GetWeatherForecast(ctx context.Context, contact db.Contact) (f *weather.ForecastDetails, err error) {
	defer observe(constants.GetWeatherForecastActivity, time.Now(), &err)

	if contact.Location == "" {
		return nil, NonRetryable(fmt.Errorf("contact %d has no location", contact.ID))
	}
	f, err = a.weather.Forecast(ctx, contact.Location)
	if err != nil {
		a.logger.Warn("Weather forecast failed",
			zap.Int64("contact_id", contact.ID),
			zap.String("location", contact.Location),
			zap.Error(err),
		)
		return nil, classify(err)
	}
	return f, nil
}

// SummarizeForecast condenses a forecast into one line per day.
func (a *Activities) SummarizeForecast(ctx context.Context, f weather.ForecastDetails) (s *ForecastSummary, err error) {
	defer observe(constants.SummarizeForecastActivity, time.Now(), &err)

	if len(f.HourlyDescriptions) == 0 {
		return nil, NonRetryable(fmt.Errorf("forecast for %s has no descriptions", f.Location))
	}
	s, err = a.writer.SummarizeForecast(ctx, f)
	if err != nil {
		return nil, classify(err)
	}
	return s, nil
}
