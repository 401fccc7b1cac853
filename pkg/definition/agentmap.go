package definition

import (
	"fmt"
	"sort"
)

// AgentMap is the process-wide routing graph over agent definitions. Nodes
// are agents held in a flat arena and referenced by stable name; edges are
// cross-community transitions. Cycles are legitimate: a hand-off chain may
// return to an earlier community. Read-only after Load.
type AgentMap struct {
	agents []*AgentDefinition
	index  map[string]int
	opener int
}

// Agent returns the named agent definition, or nil.
func (m *AgentMap) Agent(name string) *AgentDefinition {
	i, ok := m.index[name]
	if !ok {
		return nil
	}
	return m.agents[i]
}

// Opener returns the agent every new session starts with.
func (m *AgentMap) Opener() *AgentDefinition {
	return m.agents[m.opener]
}

// Agents returns all definitions in load order.
func (m *AgentMap) Agents() []*AgentDefinition {
	return m.agents
}

// Communities returns the sorted set of community names.
func (m *AgentMap) Communities() []string {
	seen := make(map[string]bool)
	for _, a := range m.agents {
		seen[a.Community] = true
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// ResolveTransition resolves a transition taken from the given agent to the
// concrete target agent and state. Same-flow transitions keep the agent;
// hand-offs swap to the target agent and enter either the named state or the
// target flow's initial state.
func (m *AgentMap) ResolveTransition(from *AgentDefinition, t Transition) (*AgentDefinition, *State, error) {
	if !t.Handoff() {
		st := from.Flow.State(t.Target)
		if st == nil {
			return nil, nil, fmt.Errorf("agent %s: transition target state %q not found", from.Name, t.Target)
		}
		return from, st, nil
	}

	target := m.Agent(t.Agent)
	if target == nil {
		return nil, nil, fmt.Errorf("agent %s: hand-off target agent %q not found", from.Name, t.Agent)
	}

	stateName := t.Target
	if stateName == "" {
		stateName = target.Flow.Initial
	}
	st := target.Flow.State(stateName)
	if st == nil {
		return nil, nil, fmt.Errorf("agent %s: hand-off state %q not found in agent %q", from.Name, stateName, t.Agent)
	}
	return target, st, nil
}
