package activities

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/db"
	"github.com/farmwise/farmwise/go/orchestrator/internal/llm"
	"github.com/farmwise/farmwise/go/orchestrator/internal/policy"
	"github.com/farmwise/farmwise/go/orchestrator/internal/weather"
	"github.com/farmwise/farmwise/go/orchestrator/internal/whatsapp"
)

// Store is the part of the farmbase store the activities use.
type Store interface {
	ContactsWithLocation(ctx context.Context) ([]db.Contact, error)
	SaveMessage(ctx context.Context, m *db.Message) (int64, bool, error)
	UpdateMessageText(ctx context.Context, id int64, text string) error
	MessageByIdempotencyKey(ctx context.Context, key string) (*db.Message, error)
	LogEventSent(ctx context.Context, contactID int64, identifier, title string) (bool, error)
	RecentNotes(ctx context.Context, since time.Time) ([]db.Note, error)
	FarmsNear(ctx context.Context, lat, lon, radiusKm float64, excludeFarmID int64) ([]db.FarmWithContacts, error)
}

// Messenger sends approved WhatsApp templates.
type Messenger interface {
	SendTemplate(ctx context.Context, m whatsapp.TemplateMessage) (string, error)
}

type Forecaster interface {
	Forecast(ctx context.Context, query string) (*weather.ForecastDetails, error)
}

// Writer produces the language model texts sent by workflows.
type Writer interface {
	SummarizeForecast(ctx context.Context, f weather.ForecastDetails) (*llm.ForecastSummary, error)
	GenerateAlert(ctx context.Context, n db.Note) (*llm.AlertMessage, error)
}

type PolicyEvaluator interface {
	Evaluate(ctx context.Context, in policy.MessageInput) (*policy.Decision, error)
}

// Activities holds the dependencies shared by every activity.
type Activities struct {
	store    Store
	whatsapp Messenger
	weather  Forecaster
	writer   Writer
	policy   PolicyEvaluator
	logger   *zap.Logger
	now      func() time.Time
}

// Deps lists the collaborators of NewActivities. Policy may be nil, in which
// case every send is allowed.
type Deps struct {
	Store    Store
	WhatsApp Messenger
	Weather  Forecaster
	Writer   Writer
	Policy   PolicyEvaluator
}

// NewActivities creates a new activities instance with dependencies
func NewActivities(deps Deps, logger *zap.Logger) *Activities {
	return &Activities{
		store:    deps.Store,
		whatsapp: deps.WhatsApp,
		weather:  deps.Weather,
		writer:   deps.Writer,
		policy:   deps.Policy,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}
