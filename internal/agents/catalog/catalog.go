// Package catalog defines the FarmWise agents and their tools.
package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/farmwise/farmwise/go/orchestrator/internal/agents"
	"github.com/farmwise/farmwise/go/orchestrator/internal/response"
)

// Agent names.
const (
	TriageAgent            = "Triage Agent"
	OnboardingAgent        = "Onboarding Agent"
	MaizeVarietySelector   = "Maize Variety Selector"
	CropSuitabilityAgent   = "Crop Suitability Agent"
	CropPathogenDiagnosis  = "Crop Pathogen Diagnosis Agent"
	MarketPriceAgent       = "Market Price Agent"
	SoilAdvisor            = "Soil Advisor"
	FieldRegistrationAgent = "Field Registration Agent"
)

// handoffPrefix is prepended to every agent's instructions.
const handoffPrefix = `# System context
You are part of a multi-agent system designed to make agent coordination and execution easy. Agents use two primary
abstractions: Agents and Handoffs. An agent encompasses instructions and tools and can hand off a conversation to
another agent when appropriate. Handoffs are achieved by calling a handoff function, generally named
transfer_to_<agent_name>. Transfers between agents are handled seamlessly in the background; do not mention or draw
attention to these transfers in your conversation with the user.
`

var (
	// IntoTriage is applied to the history when control returns to triage.
	IntoTriage = agents.Compose(agents.RemoveWhatsAppInteractivity, agents.RemoveImages, agents.RemoveAllTools)
	// IntoSpecialist is applied when triage hands off to a specialist.
	IntoSpecialist = agents.Compose(agents.RemoveWhatsAppInteractivity, agents.RemoveAllTools)
)

var activities = response.SectionList{
	ButtonTitle: "Select activity",
	Sections: []response.Section{{
		Title: "Activities",
		Rows: []response.SectionRow{
			{Title: "Maize varieties", CallbackData: "Recommend maize varieties for my farm"},
			{Title: "Crop suitability", CallbackData: "Which crops are suitable for my farm?"},
			{Title: "Diagnose pest/disease", CallbackData: "Diagnose a crop pest or disease"},
			{Title: "Soil advice", CallbackData: "Give me advice on managing my soil"},
			{Title: "Market prices", CallbackData: "Show me market prices near me"},
			{Title: "Register a field", CallbackData: "Register a field"},
		},
	}},
}

func jsonText(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func prompt(body string) func(agents.UserContext) string {
	return func(u agents.UserContext) string {
		return handoffPrefix + "\n" + body + "\n\n" + u.Profile()
	}
}

// Agents returns the catalogue. Triage is the default agent and can hand off
// to every specialist; each specialist hands back to triage only.
func Agents(model string) []*agents.Agent {
	specialists := []*agents.Agent{
		{
			Name:               OnboardingAgent,
			HandoffDescription: "This agent is used for onboarding new users into the system.",
			Instructions:       prompt(onboardingInstructions),
			Tools:              []string{ToolUpdateContact, ToolCreateFarm},
		},
		{
			Name:               MaizeVarietySelector,
			HandoffDescription: "An agent that can recommend suitable varieties of maize.",
			Instructions:       prompt(maizeInstructions),
			Tools:              []string{ToolElevation, ToolSoilProperties, ToolAEZClassification, ToolGrowingPeriod, ToolMaizeVarieties, ToolUpdateContact},
		},
		{
			Name:               CropSuitabilityAgent,
			HandoffDescription: "A helpful agent that can answer questions about crop suitability.",
			Instructions:       prompt(fmt.Sprintf(suitabilityInstructions, jsonText(activities))),
			Tools:              []string{ToolSuitabilityIndex, ToolUpdateContact, ToolSoilProperties},
		},
		{
			Name:               CropPathogenDiagnosis,
			HandoffDescription: "Diagnoses crop pests and diseases from photos or descriptions.",
			Instructions:       prompt(pathogenInstructions),
			Tools:              []string{ToolUpdateContact, ToolCreateNote},
		},
		{
			Name:               MarketPriceAgent,
			HandoffDescription: "Provides current market prices based on farm location and product interests.",
			Instructions:       prompt(fmt.Sprintf(marketInstructions, jsonText(activities))),
			Tools:              []string{ToolGetMarkets, ToolMarketPrices},
		},
		{
			Name:               SoilAdvisor,
			HandoffDescription: "An agent that advises farmers on soil management.",
			Instructions:       prompt(soilInstructions),
			Tools:              []string{ToolSoilProperties},
		},
		{
			Name:               FieldRegistrationAgent,
			HandoffDescription: "This agent is used for registering a field in the system.",
			Instructions:       prompt(fieldInstructions),
			Tools:              []string{ToolUpdateContact, ToolCreateFarm},
		},
	}

	triage := &agents.Agent{
		Name: TriageAgent,
		HandoffDescription: "Provides personalised agronomic advice and manages farm records. Transfer back to this " +
			"agent when the message from the user isn't relevant to your instructions.",
		Instructions: prompt(fmt.Sprintf(triageInstructions, jsonText(activities))),
		Tools:        []string{ToolUpdateContact},
		InputFilter:  IntoTriage,
	}

	all := []*agents.Agent{triage}
	for _, s := range specialists {
		s.Model = model
		s.Handoffs = []string{TriageAgent}
		s.InputFilter = IntoSpecialist
		triage.Handoffs = append(triage.Handoffs, s.Name)
		all = append(all, s)
	}
	triage.Model = model
	return all
}

// NewRegistry builds the validated catalogue registry.
func NewRegistry(model string, tools *agents.Tools) (*agents.Registry, error) {
	return agents.NewRegistry(TriageAgent, tools, Agents(model)...)
}
