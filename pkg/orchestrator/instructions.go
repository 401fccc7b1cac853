package orchestrator

import (
	"fmt"
	"strings"

	"github.com/vocalis/vocalis/pkg/definition"
	"github.com/vocalis/vocalis/pkg/provider"
	"github.com/vocalis/vocalis/pkg/store"
)

// renderInstructions fills an agent's instruction template for priming a
// provider session. Placeholders: {{task}}, {{summary}}, {{states}}.
func renderInstructions(agent *definition.AgentDefinition, state *definition.State, summary string) string {
	instructions := agent.Instructions
	instructions = strings.ReplaceAll(instructions, "{{task}}", agent.Task)
	instructions = strings.ReplaceAll(instructions, "{{summary}}", summary)
	instructions = strings.ReplaceAll(instructions, "{{states}}", renderFlow(&agent.Flow))

	var b strings.Builder
	b.WriteString(instructions)

	if state != nil {
		fmt.Fprintf(&b, "\n\nYou are currently in the %q conversation state.", state.Name)
		if state.Description != "" {
			b.WriteString(" ")
			b.WriteString(state.Description)
		}
		for _, line := range state.Instructions {
			b.WriteString("\n- ")
			b.WriteString(line)
		}
		if len(state.Examples) > 0 {
			b.WriteString("\nExample responses:")
			for _, ex := range state.Examples {
				b.WriteString("\n  ")
				b.WriteString(ex)
			}
		}
	}
	return b.String()
}

// renderFlow describes the conversation flow for the {{states}} placeholder.
func renderFlow(flow *definition.ConversationFlow) string {
	var b strings.Builder
	for i := range flow.States {
		st := &flow.States[i]
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", st.Name, st.Description)
		for _, tr := range st.Transitions {
			if tr.Handoff() {
				fmt.Fprintf(&b, "\n  -> hand off to %s when %s", tr.Agent, tr.Condition)
			} else {
				fmt.Fprintf(&b, "\n  -> %s when %s", tr.Target, tr.Condition)
			}
		}
	}
	return b.String()
}

// summarize builds the prior-conversation summary substituted into a new
// agent's instructions on hand-off and reconnect. Recent turns verbatim,
// oldest first, bounded.
func summarize(history []store.Message) string {
	const maxTurns = 20

	start := 0
	if len(history) > maxTurns {
		start = len(history) - maxTurns
	}

	var b strings.Builder
	for _, msg := range history[start:] {
		if msg.Content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", msg.Role, msg.Content)
	}
	return b.String()
}

// toolDecls converts an agent's resolved tools to the provider-neutral form.
func toolDecls(agent *definition.AgentDefinition) []provider.ToolDecl {
	tools := agent.ResolvedTools()
	decls := make([]provider.ToolDecl, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, provider.ToolDecl{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return decls
}
