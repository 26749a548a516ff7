package catalog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmwise/farmwise/go/orchestrator/internal/agents"
	"github.com/farmwise/farmwise/go/orchestrator/internal/db"
	"github.com/farmwise/farmwise/go/orchestrator/internal/farmbase"
)

type fakeStore struct {
	updates []db.ContactUpdate
	farms   []string
}

func (f *fakeStore) UpdateContact(_ context.Context, id int64, u db.ContactUpdate) (*db.Contact, error) {
	f.updates = append(f.updates, u)
	c := &db.Contact{ID: id}
	if u.Location != nil {
		c.Location = *u.Location
	}
	return c, nil
}

func (f *fakeStore) CreateFarm(_ context.Context, _ int64, name string, _, _ float64) (int64, error) {
	f.farms = append(f.farms, name)
	return int64(len(f.farms)), nil
}

func (f *fakeStore) CreateNote(_ context.Context, _ int64, text, tags string) (*db.Note, error) {
	return &db.Note{ID: 1, Text: text, Tags: tags}, nil
}

type fakeGIS struct{}

func (fakeGIS) Elevation(context.Context, float64, float64) (float64, error) { return 1661, nil }
func (fakeGIS) SoilProperties(context.Context, float64, float64) (map[string]string, error) {
	return map[string]string{"ph": "5.9"}, nil
}
func (fakeGIS) AEZClassification(context.Context, float64, float64) (string, error) {
	return "Tropics, highland, sub-humid", nil
}
func (fakeGIS) GrowingPeriod(context.Context, float64, float64) (int, error) { return 150, nil }
func (fakeGIS) MaizeVarieties(context.Context, float64, int) ([]farmbase.MaizeVariety, error) {
	return []farmbase.MaizeVariety{{VarietyName: "H614D"}}, nil
}
func (fakeGIS) SuitabilityIndex(context.Context, float64, float64) (*farmbase.SuitabilityIndex, error) {
	return &farmbase.SuitabilityIndex{}, nil
}
func (fakeGIS) Markets(context.Context, float64, float64) ([]farmbase.Market, error) { return nil, nil }
func (fakeGIS) MarketPrices(context.Context, int64) ([]farmbase.MarketPrice, error)  { return nil, nil }

func newRegistry(t *testing.T, store ContactStore) *agents.Registry {
	t.Helper()
	tools, err := NewTools(store, fakeGIS{})
	require.NoError(t, err, "tool schemas must be strict")
	r, err := NewRegistry("gpt-4.1", tools)
	require.NoError(t, err)
	return r
}

func TestCatalogGraph(t *testing.T) {
	r := newRegistry(t, &fakeStore{})

	assert.Equal(t, TriageAgent, r.Default())
	infos := r.List()
	require.Len(t, infos, 8)

	triage, err := r.Resolve("")
	require.NoError(t, err)
	assert.Len(t, triage.Handoffs, 7)

	for _, info := range infos[1:] {
		assert.Equal(t, []string{TriageAgent}, info.Handoffs, info.Name)
		assert.True(t, r.CanHandoff(TriageAgent, info.Name))
	}

	maize, _ := r.Resolve(MaizeVarietySelector)
	assert.ElementsMatch(t, []string{"elevation", "soil_properties", "aez_classification", "growing_period", "maize_varieties", "update_contact"}, maize.Tools)
	assert.Equal(t, "gpt-4.1", maize.Model)
}

func TestInstructionsIncludeUserDetails(t *testing.T) {
	r := newRegistry(t, &fakeStore{})
	triage, _ := r.Resolve("")
	text := triage.Instructions(agents.UserContext{ContactID: 3, Name: "Achieng", Location: "-0.1,34.7", Memory: "Grows beans."})
	assert.Contains(t, text, "These are the details of the current user")
	assert.Contains(t, text, "location=-0.1,34.7")
	assert.Contains(t, text, "Grows beans.")
	assert.Contains(t, text, `"button_title":"Select activity"`)
	assert.NotContains(t, text, "%!")
}

func TestHandoffFilters(t *testing.T) {
	r := newRegistry(t, &fakeStore{})
	triage, _ := r.Resolve("")
	soil, _ := r.Resolve(SoilAdvisor)

	history := []agents.Item{
		agents.UserMessageItem{Text: "see photo", Image: "data:image/jpeg;base64,AA"},
		agents.ToolCallItem{CallID: "1", Name: "soil_properties"},
		agents.ToolCallOutputItem{CallID: "1", Output: "{}"},
	}
	assert.Equal(t, []agents.Item{agents.UserMessageItem{Text: "see photo"}}, triage.InputFilter(history))
	assert.Equal(t, []agents.Item{history[0]}, soil.InputFilter(history), "specialists keep images")
}

func TestUpdateContactTool(t *testing.T) {
	store := &fakeStore{}
	r := newRegistry(t, store)
	onboarding, _ := r.Resolve(OnboardingAgent)

	out, err := r.Tools().Call(context.Background(), onboarding, ToolUpdateContact,
		agents.UserContext{ContactID: 9}, json.RawMessage(`{"name":null,"location":"-1.28,36.82","onboarded":null}`))
	require.NoError(t, err)
	assert.Equal(t, "-1.28,36.82", out.(*db.Contact).Location)
	require.Len(t, store.updates, 1)
	assert.Nil(t, store.updates[0].Name)

	_, err = r.Tools().Call(context.Background(), onboarding, ToolUpdateContact, agents.UserContext{}, json.RawMessage(`{}`))
	assert.Error(t, err)

	_, err = r.Tools().Call(context.Background(), onboarding, ToolCreateFarm,
		agents.UserContext{ContactID: 9}, json.RawMessage(`{"farm_name":"Achieng's Farm","latitude":-1.28,"longitude":36.82}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Achieng's Farm"}, store.farms)
}
