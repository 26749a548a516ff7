package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/farmwise/farmwise/go/orchestrator/internal/constants"
	"github.com/farmwise/farmwise/go/orchestrator/internal/db"
	"github.com/farmwise/farmwise/go/orchestrator/internal/schedules"
	"github.com/farmwise/farmwise/go/orchestrator/internal/workflows"
)

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "Manage the Temporal schedules declared in config",
}

var syncDryRun bool

var schedulesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Create or update the configured schedules",
	RunE: func(cmd *cobra.Command, _ []string) error {
		desired := schedules.Desired(features.Schedules)
		if syncDryRun {
			if err := schedules.NewManager(nil, logger).Validate(desired); err != nil {
				return err
			}
			for _, d := range desired {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\tpaused=%t\n", d.ID, d.Cron, d.Timezone, d.Paused)
			}
			return nil
		}

		engine, err := dialEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer engine.Client().Close()
		report, err := schedules.NewManager(engine, logger).Reconcile(cmd.Context(), desired)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

var (
	cropContactID int64
	cropPlanting  string
	cropEvents    string
	cropDemo      bool
)

var cropCycleCmd = &cobra.Command{
	Use:   "crop-cycle",
	Short: "Crop-cycle reminder workflows",
}

var cropCycleStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the reminder workflow for one contact and planting",
	Long: `start reads the crop events from a YAML file, a list of entries with
event_type, identifier, start_day, end_day and description, and starts one
workflow per contact and planting date. Starting it twice attaches to the
running workflow.

Example:
  farmwise crop-cycle start --contact 42 --planting-date 2025-03-10 --events maize.yaml`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		planting, err := time.Parse("2006-01-02", cropPlanting)
		if err != nil {
			return fmt.Errorf("--planting-date must be YYYY-MM-DD: %w", err)
		}
		events, err := loadEvents(cropEvents)
		if err != nil {
			return err
		}

		store, err := db.NewClient(features.Postgres, db.Options{}, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		contact, err := store.ContactByID(cmd.Context(), cropContactID)
		if err != nil {
			return fmt.Errorf("contact %d: %w", cropContactID, err)
		}

		engine, err := dialEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer engine.Client().Close()

		demo := features.CropCycle.DemoMode
		if cmd.Flags().Changed("demo") {
			demo = cropDemo
		}
		handle, err := engine.StartWorkflow(cmd.Context(),
			constants.CropCycleWorkflow,
			workflows.CropCycleWorkflowID(contact.ID, planting),
			constants.CropCycleTaskQueue,
			workflows.CropCycleInput{Contact: *contact, PlantingDate: planting, Events: events, DemoMode: demo},
		)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), handle)
	},
}

var weatherCmd = &cobra.Command{
	Use:   "weather",
	Short: "Weather forecast workflow",
}

var weatherTriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Run the daily forecast broadcast now",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return trigger(cmd, constants.WeatherForecastWorkflow, workflows.WeatherForecastWorkflowID(time.Now()), constants.WeatherTaskQueue)
	},
}

var pestAlertCmd = &cobra.Command{
	Use:   "pest-alert",
	Short: "Pest alert workflow",
}

var pestAlertTriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Run the pest alert fan-out now",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return trigger(cmd, constants.PestAlertWorkflow, workflows.PestAlertWorkflowID(time.Now()), constants.PestAlertTaskQueue)
	},
}

func init() {
	schedulesSyncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "validate and print the desired schedules without contacting Temporal")
	schedulesCmd.AddCommand(schedulesSyncCmd)

	cropCycleStartCmd.Flags().Int64Var(&cropContactID, "contact", 0, "contact id (required)")
	cropCycleStartCmd.Flags().StringVar(&cropPlanting, "planting-date", "", "planting date, YYYY-MM-DD (required)")
	cropCycleStartCmd.Flags().StringVar(&cropEvents, "events", "", "YAML file with the crop events (required)")
	cropCycleStartCmd.Flags().BoolVar(&cropDemo, "demo", false, "measure event windows in minutes instead of days")
	for _, f := range []string{"contact", "planting-date", "events"} {
		_ = cropCycleStartCmd.MarkFlagRequired(f)
	}
	cropCycleCmd.AddCommand(cropCycleStartCmd)

	weatherCmd.AddCommand(weatherTriggerCmd)
	pestAlertCmd.AddCommand(pestAlertTriggerCmd)

	rootCmd.AddCommand(schedulesCmd, cropCycleCmd, weatherCmd, pestAlertCmd)
}

func trigger(cmd *cobra.Command, workflowType, id, queue string) error {
	engine, err := dialEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer engine.Client().Close()
	handle, err := engine.StartWorkflow(cmd.Context(), workflowType, id, queue)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), handle)
}

func loadEvents(path string) ([]workflows.ScheduledEvent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	var events []workflows.ScheduledEvent
	if err := yaml.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("parse events %s: %w", path, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%s lists no events", path)
	}
	return events, nil
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
