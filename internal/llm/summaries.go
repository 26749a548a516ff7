package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/farmwise/farmwise/go/orchestrator/internal/agents"
	"github.com/farmwise/farmwise/go/orchestrator/internal/db"
	"github.com/farmwise/farmwise/go/orchestrator/internal/weather"
)

// ForecastSummary is the per-day forecast sent in the weather template.
type ForecastSummary struct {
	Location string   `json:"location"`
	Forecast []string `json:"forecast"`
}

// AlertMessage is the pest alert sent to farms near a reported problem.
type AlertMessage struct {
	Summary string   `json:"summary"`
	Actions []string `json:"actions"`
}

const forecastPrompt = `Summarise the weather forecast for the next 3 days using the details below.
The forecast is to be sent to farmers in %s, %s.
Use an emoji that best summarizes the daily forecast at the start of each line.

%s`

const alertPrompt = `Based on the following farm note, create an alert message for nearby farmers:

Farm: %s
Note: %s
Tags: %s
Date: %s

Generate:
1. A brief summary (1-2 sentences) of the issue
2. A list of 2-3 specific actions nearby farmers should take

Format the response as JSON with 'summary' and 'actions' (list of strings) fields.
Keep the language simple and practical for farmers.`

func stringList() map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}}
}

// SummarizeForecast condenses hourly descriptions into one line per day.
func (c *Client) SummarizeForecast(ctx context.Context, f weather.ForecastDetails) (*ForecastSummary, error) {
	schema := agents.ObjectSchema(map[string]interface{}{
		"location": map[string]interface{}{"type": "string"},
		"forecast": stringList(),
	})
	prompt := fmt.Sprintf(forecastPrompt, f.Location, f.Country, strings.Join(f.HourlyDescriptions, "\n"))

	var out ForecastSummary
	if err := c.parse(ctx, c.summaryModel, "ForecastSummary", prompt, schema, &out); err != nil {
		return nil, err
	}
	if len(out.Forecast) == 0 {
		return nil, fmt.Errorf("%w: forecast summary has no lines", ErrMalformed)
	}
	if out.Location == "" {
		out.Location = f.Location
	}
	return &out, nil
}

// GenerateAlert drafts a pest alert for farmers near the farm of n.
func (c *Client) GenerateAlert(ctx context.Context, n db.Note) (*AlertMessage, error) {
	schema := agents.ObjectSchema(map[string]interface{}{
		"summary": map[string]interface{}{"type": "string"},
		"actions": stringList(),
	})
	prompt := fmt.Sprintf(alertPrompt, n.FarmName, n.Text, n.Tags, n.CreatedAt.Format("2006-01-02 15:04"))

	var out AlertMessage
	if err := c.parse(ctx, c.agentModel, "AlertMessage", prompt, schema, &out); err != nil {
		return nil, err
	}
	if out.Summary == "" {
		return nil, fmt.Errorf("%w: alert without summary", ErrMalformed)
	}
	return &out, nil
}
