package entities

// Tools selects the grounding tools enabled for a chat turn
type Tools struct {
	Search bool `json:"search"`
	Maps   bool `json:"maps"`
}

// AgentPreset is a named chat configuration
type AgentPreset struct {
	Name              string `json:"name"`
	Role              string `json:"role"`
	SystemInstruction string `json:"system_instruction"`
	Tools             Tools  `json:"tools"`
	Thinking          bool   `json:"thinking"`
}

// AgentPresets are the built-in chat configurations, keyed by name
var AgentPresets = map[string]AgentPreset{
	"revenue-research": {
		Name:              "Revenue Research Agent",
		Role:              "Sales Intelligence",
		SystemInstruction: "Analyze prospect websites and LinkedIn profiles to find specific triggers for outreach.",
		Tools:             Tools{Search: true},
		Thinking:          true,
	},
	"billing-reconciliation": {
		Name:              "Billing Reconciliation",
		Role:              "FinOps Specialist",
		SystemInstruction: "Cross-reference invoices with payment gateways and flag discrepancies.",
	},
}
