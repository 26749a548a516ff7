package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/farmwise/farmwise/go/orchestrator/internal/agents/catalog"
)

var agentsJSON bool

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the agents and their handoff graph",
	RunE: func(cmd *cobra.Command, _ []string) error {
		// The tools are only listed, never called, so they need no backends.
		tools, err := catalog.NewTools(nil, nil)
		if err != nil {
			return err
		}
		registry, err := catalog.NewRegistry(features.LLM.AgentModel, tools)
		if err != nil {
			return err
		}
		list := registry.List()
		out := cmd.OutOrStdout()
		if agentsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}
		for _, a := range list {
			marker := " "
			if a.Name == registry.Default() {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %s\n", marker, a.Name)
			if a.Description != "" {
				fmt.Fprintf(out, "    %s\n", a.Description)
			}
			if len(a.Handoffs) > 0 {
				fmt.Fprintf(out, "    handoffs: %s\n", strings.Join(a.Handoffs, ", "))
			}
			if len(a.Tools) > 0 {
				fmt.Fprintf(out, "    tools: %s\n", strings.Join(a.Tools, ", "))
			}
		}
		return nil
	},
}

func init() {
	agentsCmd.Flags().BoolVar(&agentsJSON, "json", false, "print JSON")
	rootCmd.AddCommand(agentsCmd)
}
