package definition

import (
	"fmt"
)

// validate enforces the structural invariants of a definition set:
// every flow has exactly one initial and at least one terminal state,
// every transition target resolves, every condition is non-empty, and
// duplicate tool or state names are rejected.
func validate(m *AgentMap, sources map[string]string) error {
	for _, a := range m.agents {
		file := sources[a.Name]

		if a.Community == "" {
			return &ValidationError{File: file, Reason: fmt.Sprintf("agent %q has no community", a.Name)}
		}

		seenTools := make(map[string]bool)
		for _, tool := range a.resolvedTools {
			if tool.Name == "" {
				return &ValidationError{File: file, Reason: fmt.Sprintf("agent %q declares a tool without a name", a.Name)}
			}
			if seenTools[tool.Name] {
				return &ValidationError{File: file, Reason: fmt.Sprintf("agent %q declares tool %q twice", a.Name, tool.Name)}
			}
			seenTools[tool.Name] = true
		}

		if err := validateFlow(m, a, file); err != nil {
			return err
		}
	}

	return nil
}

func validateFlow(m *AgentMap, a *AgentDefinition, file string) error {
	flow := &a.Flow

	if len(flow.States) == 0 {
		return &ValidationError{File: file, Reason: fmt.Sprintf("agent %q has no conversation-flow states", a.Name)}
	}

	seen := make(map[string]bool, len(flow.States))
	for i := range flow.States {
		st := &flow.States[i]
		if st.Name == "" {
			return &ValidationError{File: file, Reason: fmt.Sprintf("agent %q has a state without a name", a.Name)}
		}
		if seen[st.Name] {
			return &ValidationError{File: file, Reason: fmt.Sprintf("agent %q declares state %q twice", a.Name, st.Name)}
		}
		seen[st.Name] = true
	}

	if flow.Initial == "" {
		return &ValidationError{File: file, Reason: fmt.Sprintf("agent %q flow has no initial state", a.Name)}
	}
	if flow.State(flow.Initial) == nil {
		return &ValidationError{File: file, Reason: fmt.Sprintf("agent %q initial state %q not defined", a.Name, flow.Initial)}
	}

	terminal := false
	for i := range flow.States {
		st := &flow.States[i]
		if st.Terminal() {
			terminal = true
		}

		for _, tr := range st.Transitions {
			if tr.Condition == "" {
				return &ValidationError{File: file, Reason: fmt.Sprintf("agent %q state %q has a transition without a condition", a.Name, st.Name)}
			}

			if tr.Handoff() {
				target := m.Agent(tr.Agent)
				if target == nil {
					return &ValidationError{File: file, Reason: fmt.Sprintf("agent %q state %q hands off to unknown agent %q", a.Name, st.Name, tr.Agent)}
				}
				if tr.Target != "" && target.Flow.State(tr.Target) == nil {
					return &ValidationError{File: file, Reason: fmt.Sprintf("agent %q state %q hands off to unknown state %q of agent %q", a.Name, st.Name, tr.Target, tr.Agent)}
				}
				continue
			}

			if tr.Target == "" {
				return &ValidationError{File: file, Reason: fmt.Sprintf("agent %q state %q has a transition without a target", a.Name, st.Name)}
			}
			if flow.State(tr.Target) == nil {
				return &ValidationError{File: file, Reason: fmt.Sprintf("agent %q state %q transition targets unknown state %q", a.Name, st.Name, tr.Target)}
			}
		}
	}

	if !terminal {
		return &ValidationError{File: file, Reason: fmt.Sprintf("agent %q flow has no terminal state", a.Name)}
	}

	return nil
}
