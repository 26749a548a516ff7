package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/farmwise/farmwise/go/orchestrator/internal/agents"
	"github.com/farmwise/farmwise/go/orchestrator/internal/db"
	"github.com/farmwise/farmwise/go/orchestrator/internal/farmbase"
)

// Tool names.
const (
	ToolUpdateContact     = "update_contact"
	ToolCreateFarm        = "create_farm"
	ToolCreateNote        = "create_note"
	ToolElevation         = "elevation"
	ToolSoilProperties    = "soil_properties"
	ToolAEZClassification = "aez_classification"
	ToolGrowingPeriod     = "growing_period"
	ToolMaizeVarieties    = "maize_varieties"
	ToolSuitabilityIndex  = "suitability_index"
	ToolGetMarkets        = "get_markets"
	ToolMarketPrices      = "market_prices"
)

// ContactStore is the part of the farmbase store the tools write to.
type ContactStore interface {
	UpdateContact(ctx context.Context, id int64, u db.ContactUpdate) (*db.Contact, error)
	CreateFarm(ctx context.Context, contactID int64, name string, lat, lon float64) (int64, error)
	CreateNote(ctx context.Context, contactID int64, text, tags string) (*db.Note, error)
}

// GIS is the reference data the advisory tools read.
type GIS interface {
	Elevation(ctx context.Context, lat, lon float64) (float64, error)
	SoilProperties(ctx context.Context, lat, lon float64) (map[string]string, error)
	AEZClassification(ctx context.Context, lat, lon float64) (string, error)
	GrowingPeriod(ctx context.Context, lat, lon float64) (int, error)
	MaizeVarieties(ctx context.Context, altitude float64, growingPeriodDays int) ([]farmbase.MaizeVariety, error)
	SuitabilityIndex(ctx context.Context, lat, lon float64) (*farmbase.SuitabilityIndex, error)
	Markets(ctx context.Context, lat, lon float64) ([]farmbase.Market, error)
	MarketPrices(ctx context.Context, marketID int64) ([]farmbase.MarketPrice, error)
}

var errNoContact = errors.New("the current user has no contact record")

func prop(typ interface{}, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

var locationSchema = agents.ObjectSchema(map[string]interface{}{
	"latitude":  prop("number", "The latitude of the location."),
	"longitude": prop("number", "The longitude of the location."),
})

type location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func decode(args json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// locationTool adapts a (lat, lon) lookup into a tool.
func locationTool(name, description string, fn func(ctx context.Context, lat, lon float64) (interface{}, error)) agents.Tool {
	return agents.Tool{
		Name:        name,
		Description: description,
		Parameters:  locationSchema,
		Func: func(ctx context.Context, _ agents.UserContext, args json.RawMessage) (interface{}, error) {
			var in location
			if err := decode(args, &in); err != nil {
				return nil, err
			}
			return fn(ctx, in.Latitude, in.Longitude)
		},
	}
}

// NewTools builds every tool the catalogue agents may reference.
func NewTools(store ContactStore, gis GIS) (*agents.Tools, error) {
	return agents.NewTools(
		agents.Tool{
			Name:        ToolUpdateContact,
			Description: "Update the current user's profile. Pass null for fields that should not change. location is \"latitude,longitude\".",
			Parameters: agents.ObjectSchema(map[string]interface{}{
				"name":      prop([]interface{}{"string", "null"}, "The name the user wants to be addressed by."),
				"location":  prop([]interface{}{"string", "null"}, "Farm location as \"latitude,longitude\"."),
				"onboarded": prop([]interface{}{"boolean", "null"}, "Set to true once onboarding is complete."),
			}),
			Func: func(ctx context.Context, user agents.UserContext, args json.RawMessage) (interface{}, error) {
				if user.ContactID == 0 {
					return nil, errNoContact
				}
				var in db.ContactUpdate
				if err := decode(args, &in); err != nil {
					return nil, err
				}
				return store.UpdateContact(ctx, user.ContactID, in)
			},
		},
		agents.Tool{
			Name:        ToolCreateFarm,
			Description: "Register a farm at the given location and associate it with the current user.",
			Parameters: agents.ObjectSchema(map[string]interface{}{
				"farm_name": prop("string", "The name of the farm."),
				"latitude":  prop("number", "The latitude of the farm."),
				"longitude": prop("number", "The longitude of the farm."),
			}),
			Func: func(ctx context.Context, user agents.UserContext, args json.RawMessage) (interface{}, error) {
				if user.ContactID == 0 {
					return nil, errNoContact
				}
				var in struct {
					FarmName string `json:"farm_name"`
					location
				}
				if err := decode(args, &in); err != nil {
					return nil, err
				}
				id, err := store.CreateFarm(ctx, user.ContactID, in.FarmName, in.Latitude, in.Longitude)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"farm_id": id, "farm_name": in.FarmName}, nil
			},
		},
		agents.Tool{
			Name:        ToolCreateNote,
			Description: "Record an observation about the user's farm, such as a diagnosed pest or disease. Nearby farmers may be alerted.",
			Parameters: agents.ObjectSchema(map[string]interface{}{
				"note_text": prop("string", "What was observed."),
				"tags":      prop("string", "Comma separated tags, for example pest,fall_armyworm."),
			}),
			Func: func(ctx context.Context, user agents.UserContext, args json.RawMessage) (interface{}, error) {
				if user.ContactID == 0 {
					return nil, errNoContact
				}
				var in struct {
					NoteText string `json:"note_text"`
					Tags     string `json:"tags"`
				}
				if err := decode(args, &in); err != nil {
					return nil, err
				}
				return store.CreateNote(ctx, user.ContactID, in.NoteText, in.Tags)
			},
		},
		locationTool(ToolElevation, "Fetch the elevation in metres for a given location.",
			func(ctx context.Context, lat, lon float64) (interface{}, error) { return gis.Elevation(ctx, lat, lon) }),
		locationTool(ToolSoilProperties, "Fetch soil properties (pH, texture, nitrogen, phosphorus, potassium) at 0-20cm for a given location.",
			func(ctx context.Context, lat, lon float64) (interface{}, error) {
				return gis.SoilProperties(ctx, lat, lon)
			}),
		locationTool(ToolAEZClassification, "Get the FAO GAEZ agro-ecological zone classification for a given location.",
			func(ctx context.Context, lat, lon float64) (interface{}, error) {
				return gis.AEZClassification(ctx, lat, lon)
			}),
		locationTool(ToolGrowingPeriod, "Get the length of the growing period in days for a given location.",
			func(ctx context.Context, lat, lon float64) (interface{}, error) {
				return gis.GrowingPeriod(ctx, lat, lon)
			}),
		locationTool(ToolSuitabilityIndex, "Get FAO GAEZ crop suitability index values (0-10000, higher is more suitable) for a given location.",
			func(ctx context.Context, lat, lon float64) (interface{}, error) {
				return gis.SuitabilityIndex(ctx, lat, lon)
			}),
		locationTool(ToolGetMarkets, "List markets near a given location.",
			func(ctx context.Context, lat, lon float64) (interface{}, error) { return gis.Markets(ctx, lat, lon) }),
		agents.Tool{
			Name:        ToolMaizeVarieties,
			Description: "Find maize varieties suited to an altitude and growing period.",
			Parameters: agents.ObjectSchema(map[string]interface{}{
				"altitude":            prop("number", "Altitude in metres above sea level."),
				"growing_period_days": prop("integer", "Length of the growing period in days."),
			}),
			Func: func(ctx context.Context, _ agents.UserContext, args json.RawMessage) (interface{}, error) {
				var in struct {
					Altitude          float64 `json:"altitude"`
					GrowingPeriodDays int     `json:"growing_period_days"`
				}
				if err := decode(args, &in); err != nil {
					return nil, err
				}
				return gis.MaizeVarieties(ctx, in.Altitude, in.GrowingPeriodDays)
			},
		},
		agents.Tool{
			Name:        ToolMarketPrices,
			Description: "Get the latest price snapshot for every product in a market.",
			Parameters: agents.ObjectSchema(map[string]interface{}{
				"market_id": prop("integer", "The market id returned by get_markets."),
			}),
			Func: func(ctx context.Context, _ agents.UserContext, args json.RawMessage) (interface{}, error) {
				var in struct {
					MarketID int64 `json:"market_id"`
				}
				if err := decode(args, &in); err != nil {
					return nil, err
				}
				return gis.MarketPrices(ctx, in.MarketID)
			},
		},
	)
}
