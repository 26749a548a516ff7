package agents

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/farmwise/farmwise/go/orchestrator/internal/validation"
)

var ErrUnknownAgent = errors.New("unknown agent")

// UserContext is what instructions and tools know about the person on the
// other end of the conversation.
type UserContext struct {
	ContactID   int64  `json:"user_id"`
	Name        string `json:"name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	// Location is "lat,lon" or empty.
	Location  string `json:"location,omitempty"`
	Onboarded bool   `json:"onboarded"`
	// Memory is the conversation summary from the memory provider.
	Memory string `json:"-"`
}

// Profile renders the user details block appended to every instruction.
func (u UserContext) Profile() string {
	var b strings.Builder
	fmt.Fprintf(&b, "These are the details of the current user: user_id=%d", u.ContactID)
	if u.Name != "" {
		fmt.Fprintf(&b, " name=%q", u.Name)
	}
	if u.PhoneNumber != "" {
		fmt.Fprintf(&b, " phone_number=%s", u.PhoneNumber)
	}
	if u.Location != "" {
		fmt.Fprintf(&b, " location=%s", u.Location)
	} else {
		b.WriteString(" location=unknown")
	}
	if u.Memory != "" {
		b.WriteString("\n\n")
		b.WriteString(u.Memory)
	}
	return b.String()
}

// Agent is a static agent definition. Handoffs and Tools are names resolved
// by the Registry.
type Agent struct {
	Name               string
	HandoffDescription string
	Instructions       func(UserContext) string
	// Model overrides the runner's default model when set.
	Model    string
	Tools    []string
	Handoffs []string
	// InputFilter rewrites the history when another agent hands off to this
	// one. Nil keeps the history unchanged.
	InputFilter HandoffFilter
}

// Info is the public description of an agent.
type Info struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Handoffs    []string `json:"handoffs"`
	Tools       []string `json:"tools"`
}

// Registry is the validated, read-only set of agents.
type Registry struct {
	agents       map[string]*Agent
	order        []string
	defaultAgent string
	tools        *Tools
}

// NewRegistry validates the agent definitions and returns a registry. It
// fails on duplicate names, unknown tools, unknown handoff targets and agents
// that cannot hand back to the default agent.
func NewRegistry(defaultAgent string, tools *Tools, defs ...*Agent) (*Registry, error) {
	if tools == nil {
		tools = &Tools{byName: map[string]Tool{}}
	}
	r := &Registry{agents: make(map[string]*Agent, len(defs)), defaultAgent: defaultAgent, tools: tools}

	nodes := make([]validation.HandoffNode, 0, len(defs))
	for _, a := range defs {
		if a == nil || a.Name == "" {
			return nil, errors.New("agent without a name")
		}
		if _, dup := r.agents[a.Name]; dup {
			return nil, fmt.Errorf("duplicate agent %q", a.Name)
		}
		if a.Instructions == nil {
			return nil, fmt.Errorf("agent %q has no instructions", a.Name)
		}
		for _, tool := range a.Tools {
			if _, ok := tools.Get(tool); !ok {
				return nil, fmt.Errorf("agent %q uses unknown tool %q", a.Name, tool)
			}
		}
		seen := map[string]bool{}
		for _, h := range a.Handoffs {
			if seen[h] {
				return nil, fmt.Errorf("agent %q lists handoff %q twice", a.Name, h)
			}
			seen[h] = true
		}
		r.agents[a.Name] = a
		r.order = append(r.order, a.Name)
		nodes = append(nodes, validation.HandoffNode{Name: a.Name, Handoffs: a.Handoffs})
	}

	if err := validation.ValidateHandoffGraph(nodes, defaultAgent); err != nil {
		return nil, err
	}
	return r, nil
}

// Resolve returns the named agent, or the default agent for an empty name.
func (r *Registry) Resolve(name string) (*Agent, error) {
	if name == "" {
		name = r.defaultAgent
	}
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	return a, nil
}

func (r *Registry) Default() string { return r.defaultAgent }

func (r *Registry) Tools() *Tools { return r.tools }

// CanHandoff reports whether from declares to as a handoff target.
func (r *Registry) CanHandoff(from, to string) bool {
	a, ok := r.agents[from]
	if !ok {
		return false
	}
	for _, h := range a.Handoffs {
		if h == to {
			return true
		}
	}
	return false
}

// List describes the agents in registration order.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		a := r.agents[name]
		handoffs := append([]string(nil), a.Handoffs...)
		sort.Strings(handoffs)
		out = append(out, Info{
			Name:        a.Name,
			Description: a.HandoffDescription,
			Handoffs:    handoffs,
			Tools:       append([]string(nil), a.Tools...),
		})
	}
	return out
}

// HandoffToolName is the function name the model calls to transfer to agent.
func HandoffToolName(agent string) string {
	var b strings.Builder
	b.WriteString("transfer_to_")
	lastUnderscore := true
	for _, r := range strings.ToLower(agent) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
