// Package farmbase is the HTTP client for the farmbase GIS and reference data
// endpoints used by agent tools.
package farmbase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/circuitbreaker"
	"github.com/farmwise/farmwise/go/orchestrator/internal/config"
)

const defaultElevationURL = "https://api.open-meteo.com/v1/elevation"

// StatusError is a non-2xx answer from farmbase or the elevation service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("farmbase returned %d: %s", e.Code, e.Body)
}

// Client calls farmbase on behalf of the agents.
type Client struct {
	baseURL      string
	organization string
	token        string
	elevationURL string
	http         *circuitbreaker.HTTPWrapper
	logger       *zap.Logger
}

func NewClient(cfg config.FarmbaseConfig, logger *zap.Logger) *Client {
	org := cfg.Organization
	if org == "" {
		org = "default"
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		organization: org,
		token:        cfg.Token,
		elevationURL: defaultElevationURL,
		http:         circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: 20 * time.Second}, "farmbase", logger),
		logger:       logger,
	}
}

// CropSuitability is the GAEZ suitability index of one crop, 0 to 10000.
type CropSuitability struct {
	CropName string `json:"crop_name"`
	Value    int    `json:"value"`
}

type SuitabilityIndex struct {
	Crops []CropSuitability `json:"crops"`
}

// MaizeVariety is a registered maize variety.
type MaizeVariety struct {
	VarietyName       string   `json:"variety_name"`
	Owner             string   `json:"owner,omitempty"`
	AltitudeMin       float64  `json:"altitude_min"`
	AltitudeMax       float64  `json:"altitude_max"`
	MaturityDaysMin   int      `json:"maturity_days_min"`
	MaturityDaysMax   int      `json:"maturity_days_max"`
	YieldPotential    string   `json:"yield_potential,omitempty"`
	DiseaseResistance []string `json:"disease_resistance,omitempty"`
	PestResistance    []string `json:"pest_resistance,omitempty"`
}

type Market struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	DistanceKm float64 `json:"distance_km"`
}

type MarketPrice struct {
	Product  string  `json:"product"`
	Unit     string  `json:"unit"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	// ChangePct is the change from the previous snapshot, when known.
	ChangePct *float64 `json:"change_pct,omitempty"`
}

func latLon(lat, lon float64) url.Values {
	return url.Values{
		"latitude":  {strconv.FormatFloat(lat, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(lon, 'f', -1, 64)},
	}
}

func (c *Client) SuitabilityIndex(ctx context.Context, lat, lon float64) (*SuitabilityIndex, error) {
	var out SuitabilityIndex
	return &out, c.get(ctx, c.baseURL+"/gaez/suitability-index", latLon(lat, lon), true, &out)
}

func (c *Client) AEZClassification(ctx context.Context, lat, lon float64) (string, error) {
	var out string
	return out, c.get(ctx, c.baseURL+"/gaez/aez-classification", latLon(lat, lon), true, &out)
}

// GrowingPeriod returns the length of the growing period in days.
func (c *Client) GrowingPeriod(ctx context.Context, lat, lon float64) (int, error) {
	var out int
	return out, c.get(ctx, c.baseURL+"/gaez/growing-period", latLon(lat, lon), true, &out)
}

// MaizeVarieties lists varieties suited to the altitude and growing period.
func (c *Client) MaizeVarieties(ctx context.Context, altitude float64, growingPeriodDays int) ([]MaizeVariety, error) {
	var out struct {
		Varieties []MaizeVariety `json:"varieties"`
	}
	q := url.Values{
		"altitude":       {strconv.FormatFloat(altitude, 'f', -1, 64)},
		"growing_period": {strconv.Itoa(growingPeriodDays)},
	}
	err := c.get(ctx, c.baseURL+"/crop-varieties/maize", q, true, &out)
	return out.Varieties, err
}

// SoilProperties returns the 0-20cm soil properties as "value unit" strings.
func (c *Client) SoilProperties(ctx context.Context, lat, lon float64) (map[string]string, error) {
	var out map[string]string
	return out, c.get(ctx, c.baseURL+"/soil/properties", latLon(lat, lon), true, &out)
}

func (c *Client) Markets(ctx context.Context, lat, lon float64) ([]Market, error) {
	var out []Market
	return out, c.get(ctx, c.baseURL+"/markets", latLon(lat, lon), true, &out)
}

func (c *Client) MarketPrices(ctx context.Context, marketID int64) ([]MarketPrice, error) {
	var out []MarketPrice
	path := fmt.Sprintf("%s/markets/%d/prices", c.baseURL, marketID)
	return out, c.get(ctx, path, nil, true, &out)
}

// Elevation returns metres above sea level from the open-meteo elevation API.
func (c *Client) Elevation(ctx context.Context, lat, lon float64) (float64, error) {
	var out struct {
		Elevation []float64 `json:"elevation"`
	}
	if err := c.get(ctx, c.elevationURL, latLon(lat, lon), false, &out); err != nil {
		return 0, err
	}
	if len(out.Elevation) == 0 {
		return 0, fmt.Errorf("no elevation for %g,%g", lat, lon)
	}
	return out.Elevation[0], nil
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values, auth bool, out interface{}) error {
	if auth {
		if q == nil {
			q = url.Values{}
		}
		q.Set("organization", c.organization)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if auth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		if len(body) > 200 {
			body = body[:200]
		}
		c.logger.Warn("Farmbase request failed", zap.String("url", req.URL.Path), zap.Int("status", resp.StatusCode))
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}
