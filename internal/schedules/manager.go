package schedules

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/metrics"
)

// Engine is the slice of the workflow engine the reconciler needs.
type Engine interface {
	ListSchedules(ctx context.Context) ([]Existing, error)
	CreateSchedule(ctx context.Context, d Definition) error
	// UpdateSchedule replaces the whole schedule with d.
	UpdateSchedule(ctx context.Context, d Definition) error
}

// Manager reconciles desired schedules against the engine. Schedules that
// exist in the engine but are not desired are never touched.
type Manager struct {
	engine      Engine
	logger      *zap.Logger
	cronParser  cron.Parser
	minInterval time.Duration
}

func NewManager(engine Engine, logger *zap.Logger) *Manager {
	return &Manager{
		engine:      engine,
		logger:      logger,
		cronParser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		minInterval: 15 * time.Minute,
	}
}

// Validate checks every definition before anything is sent to the engine.
func (m *Manager) Validate(desired []Definition) error {
	seen := make(map[string]bool, len(desired))
	for _, d := range desired {
		if d.ID == "" || d.Workflow == "" || d.TaskQueue == "" {
			return fmt.Errorf("%w: %+v", ErrIncomplete, d)
		}
		if seen[d.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, d.ID)
		}
		seen[d.ID] = true

		loc, err := time.LoadLocation(d.Timezone)
		if err != nil || d.Timezone == "" {
			return fmt.Errorf("%w: %q (schedule %s)", ErrInvalidTimezone, d.Timezone, d.ID)
		}
		sched, err := m.cronParser.Parse(d.Cron)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidCronExpression, d.ID, err)
		}
		if !m.intervalOK(sched, loc) {
			return fmt.Errorf("%w: %s fires more than once per %s", ErrIntervalTooShort, d.ID, m.minInterval)
		}
	}
	return nil
}

// intervalOK samples the next few firings from a fixed reference time.
func (m *Manager) intervalOK(sched cron.Schedule, loc *time.Location) bool {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)
	prev := sched.Next(t)
	for i := 0; i < 5; i++ {
		next := sched.Next(prev)
		if next.Sub(prev) < m.minInterval {
			return false
		}
		prev = next
	}
	return true
}

// Reconcile creates absent schedules and replaces changed ones. A schedule
// whose stored fingerprint matches is left alone, so a second pass with the
// same desired set issues no engine writes. Engine errors are returned as is.
func (m *Manager) Reconcile(ctx context.Context, desired []Definition) (Report, error) {
	var report Report
	if err := m.Validate(desired); err != nil {
		return report, err
	}

	existing, err := m.engine.ListSchedules(ctx)
	if err != nil {
		return report, fmt.Errorf("list schedules: %w", err)
	}
	byID := make(map[string]Existing, len(existing))
	for _, e := range existing {
		byID[e.ID] = e
	}

	for _, d := range desired {
		cur, found := byID[d.ID]
		switch {
		case !found:
			if err := m.engine.CreateSchedule(ctx, d); err != nil {
				return report, fmt.Errorf("create schedule %s: %w", d.ID, err)
			}
			report.Created = append(report.Created, d.ID)
			metrics.ScheduleReconcile.WithLabelValues("created").Inc()
			m.logger.Info("Schedule created", zap.String("schedule_id", d.ID), zap.String("cron", d.Cron), zap.String("timezone", d.Timezone))

		case cur.Fingerprint != d.Fingerprint():
			if err := m.engine.UpdateSchedule(ctx, d); err != nil {
				return report, fmt.Errorf("update schedule %s: %w", d.ID, err)
			}
			report.Updated = append(report.Updated, d.ID)
			metrics.ScheduleReconcile.WithLabelValues("updated").Inc()
			m.logger.Info("Schedule updated", zap.String("schedule_id", d.ID), zap.String("cron", d.Cron), zap.String("timezone", d.Timezone))

		default:
			report.Unchanged = append(report.Unchanged, d.ID)
			metrics.ScheduleReconcile.WithLabelValues("unchanged").Inc()
			m.logger.Debug("Schedule unchanged", zap.String("schedule_id", d.ID))
		}
	}

	for id := range byID {
		if !containsID(desired, id) {
			m.logger.Info("Leaving undeclared schedule in place", zap.String("schedule_id", id))
		}
	}
	return report, nil
}

func containsID(defs []Definition, id string) bool {
	for _, d := range defs {
		if d.ID == id {
			return true
		}
	}
	return false
}
