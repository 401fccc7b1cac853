package definition

// AgentDefinition is one declarative agent loaded from the definition
// directory. Immutable once loaded; a reload builds a whole new AgentMap.
type AgentDefinition struct {
	Name      string   `yaml:"name"`
	Community string   `yaml:"community"`
	Opener    bool     `yaml:"opener"`
	Task      string   `yaml:"task"`

	// Instructions is the system instruction template. Placeholders
	// {{task}}, {{summary}} and {{states}} are substituted when the
	// provider connection is primed.
	Instructions string `yaml:"instructions"`

	// Tools declared inline by this agent.
	Tools []ToolSpec `yaml:"tools"`

	// UseTools references tools declared in shared toolset documents.
	UseTools []string `yaml:"use_tools"`

	Flow ConversationFlow `yaml:"flow"`

	// resolvedTools is the ordered union of inline and shared tools,
	// filled by the loader.
	resolvedTools []ToolSpec
}

// ResolvedTools returns the ordered set of tools available to this agent,
// inline declarations first.
func (a *AgentDefinition) ResolvedTools() []ToolSpec {
	return a.resolvedTools
}

// Tool returns the named tool, or nil when the agent does not declare it.
func (a *AgentDefinition) Tool(name string) *ToolSpec {
	for i := range a.resolvedTools {
		if a.resolvedTools[i].Name == name {
			return &a.resolvedTools[i]
		}
	}
	return nil
}

// ToolSpec declares one callable tool: name, where it runs, and the JSON
// schema its arguments are validated against.
type ToolSpec struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Server      string                 `yaml:"server"` // MCP server id
	Parameters  map[string]interface{} `yaml:"parameters"`
}

// ConversationFlow is the per-agent state machine. Exactly one state is
// initial; at least one state is terminal.
type ConversationFlow struct {
	Initial string  `yaml:"initial"`
	States  []State `yaml:"states"`
}

// State returns the named state, or nil.
func (f *ConversationFlow) State(name string) *State {
	for i := range f.States {
		if f.States[i].Name == name {
			return &f.States[i]
		}
	}
	return nil
}

// InitialState returns the flow's entry state.
func (f *ConversationFlow) InitialState() *State {
	return f.State(f.Initial)
}

// State is one conversation-flow node.
type State struct {
	Name         string       `yaml:"name"`
	Description  string       `yaml:"description"`
	Instructions []string     `yaml:"instructions"`
	Examples     []string     `yaml:"examples"`
	Transitions  []Transition `yaml:"transitions"`

	// End marks an explicitly terminal state.
	End bool `yaml:"end"`
}

// Terminal reports whether the state ends the flow.
func (s *State) Terminal() bool {
	return s.End || len(s.Transitions) == 0
}

// Transition moves the conversation to another state when its condition
// matches the turn's inferred intent. A non-empty Agent makes this a
// cross-community hand-off: the session swaps to that agent, entering either
// the named target state or the target flow's initial state.
type Transition struct {
	Condition string `yaml:"condition"`
	Target    string `yaml:"target"`
	Agent     string `yaml:"agent"`
}

// Handoff reports whether the transition crosses into another agent.
func (t *Transition) Handoff() bool {
	return t.Agent != ""
}

// toolsetDoc is a shared tool declaration document (a YAML file with tools
// but no agent name).
type toolsetDoc struct {
	Tools []ToolSpec `yaml:"tools"`
}
