package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/constants"
	"github.com/farmwise/farmwise/go/orchestrator/internal/db"
	"github.com/farmwise/farmwise/go/orchestrator/internal/schedules"
	"github.com/farmwise/farmwise/go/orchestrator/internal/temporal"
	"github.com/farmwise/farmwise/go/orchestrator/internal/workflows"
)

// Starter starts workflows at most once per id.
type Starter interface {
	StartWorkflow(ctx context.Context, workflowType, id, taskQueue string, args ...interface{}) (*temporal.Handle, error)
}

type ContactLookup interface {
	ContactByID(ctx context.Context, id int64) (*db.Contact, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, desired []schedules.Definition) (schedules.Report, error)
}

// WorkflowHandler triggers workflows and schedule reconciliation.
type WorkflowHandler struct {
	starter    Starter
	contacts   ContactLookup
	reconciler Reconciler
	desired    func() []schedules.Definition
	demoMode   bool
	now        func() time.Time
	logger     *zap.Logger
}

type WorkflowConfig struct {
	Starter    Starter
	Contacts   ContactLookup
	Reconciler Reconciler
	// Desired returns the schedules to reconcile. It is called per request so
	// a reloaded config takes effect.
	Desired  func() []schedules.Definition
	DemoMode bool
}

func NewWorkflowHandler(cfg WorkflowConfig, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		starter:    cfg.Starter,
		contacts:   cfg.Contacts,
		reconciler: cfg.Reconciler,
		desired:    cfg.Desired,
		demoMode:   cfg.DemoMode,
		now:        time.Now,
		logger:     logger,
	}
}

// RegisterRoutes registers workflow routes. wrap guards the workflow
// triggers and admin guards schedule reconciliation.
func (h *WorkflowHandler) RegisterRoutes(mux *http.ServeMux, wrap, admin func(http.Handler) http.Handler) {
	mux.Handle("POST /api/v1/crop-cycles", wrap(http.HandlerFunc(h.handleCropCycle)))
	mux.Handle("POST /api/v1/weather-forecasts", wrap(http.HandlerFunc(h.handleWeather)))
	mux.Handle("POST /api/v1/pest-alerts", wrap(http.HandlerFunc(h.handlePestAlert)))
	mux.Handle("POST /api/v1/schedules/sync", admin(http.HandlerFunc(h.handleSync)))
}

type cropCycleRequest struct {
	ContactID    int64                      `json:"contact_id"`
	PlantingDate string                     `json:"planting_date"` // YYYY-MM-DD
	Events       []workflows.ScheduledEvent `json:"events"`
	DemoMode     *bool                      `json:"demo_mode,omitempty"`
}

// POST /api/v1/crop-cycles
func (h *WorkflowHandler) handleCropCycle(w http.ResponseWriter, r *http.Request) {
	var req cropCycleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	planting, err := time.Parse("2006-01-02", req.PlantingDate)
	switch {
	case req.ContactID <= 0:
		writeError(w, http.StatusBadRequest, "contact_id is required")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "planting_date must be YYYY-MM-DD")
		return
	case len(req.Events) == 0:
		writeError(w, http.StatusBadRequest, "events must not be empty")
		return
	}

	contact, err := h.contacts.ContactByID(r.Context(), req.ContactID)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "contact not found")
		return
	}
	if err != nil {
		h.logger.Error("Contact lookup failed", zap.Int64("contact_id", req.ContactID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "contact lookup failed")
		return
	}

	demo := h.demoMode
	if req.DemoMode != nil {
		demo = *req.DemoMode
	}
	input := workflows.CropCycleInput{
		Contact:      *contact,
		PlantingDate: planting,
		Events:       req.Events,
		DemoMode:     demo,
	}
	h.start(w, r, constants.CropCycleWorkflow, workflows.CropCycleWorkflowID(contact.ID, planting), constants.CropCycleTaskQueue, input)
}

// POST /api/v1/weather-forecasts
func (h *WorkflowHandler) handleWeather(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, constants.WeatherForecastWorkflow, workflows.WeatherForecastWorkflowID(h.now()), constants.WeatherTaskQueue)
}

// POST /api/v1/pest-alerts
func (h *WorkflowHandler) handlePestAlert(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, constants.PestAlertWorkflow, workflows.PestAlertWorkflowID(h.now()), constants.PestAlertTaskQueue)
}

func (h *WorkflowHandler) start(w http.ResponseWriter, r *http.Request, workflowType, id, queue string, args ...interface{}) {
	handle, err := h.starter.StartWorkflow(r.Context(), workflowType, id, queue, args...)
	if err != nil {
		h.logger.Error("Failed to start workflow", zap.String("workflow_id", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to start workflow")
		return
	}
	code := http.StatusAccepted
	if handle.Attached {
		code = http.StatusOK
	}
	writeJSON(w, code, handle)
}

// POST /api/v1/schedules/sync
func (h *WorkflowHandler) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Reconcile(r.Context(), h.desired())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case isDefinitionError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("Schedule sync failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func isDefinitionError(err error) bool {
	for _, target := range []error{
		schedules.ErrInvalidCronExpression,
		schedules.ErrIntervalTooShort,
		schedules.ErrInvalidTimezone,
		schedules.ErrDuplicateID,
		schedules.ErrIncomplete,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
