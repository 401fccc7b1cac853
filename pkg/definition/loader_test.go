package definition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const supportAgent = `
name: Greeter
community: CustomerSupport
opener: true
task: Greet the caller and figure out what they need.
instructions: |
  You are a friendly support agent. {{task}}
use_tools:
  - lookup_order
flow:
  initial: Greeting
  states:
    - name: Greeting
      description: Open the conversation.
      instructions:
        - Welcome the caller.
      examples:
        - "Hi, how can I help you today?"
      transitions:
        - condition: PurchaseInquiry
          agent: SalesRep
        - condition: OrderStatus
          target: Lookup
    - name: Lookup
      description: Look up the order.
      transitions:
        - condition: Resolved
          target: Farewell
    - name: Farewell
      end: true
`

const salesAgent = `
name: SalesRep
community: Sales
task: Qualify the purchase and close the sale.
instructions: |
  You are a sales agent. {{task}}
flow:
  initial: Qualify
  states:
    - name: Qualify
      transitions:
        - condition: NeedsSupport
          agent: Greeter
          target: Lookup
        - condition: ReadyToBuy
          target: Close
    - name: Close
      end: true
`

const sharedTools = `
tools:
  - name: lookup_order
    description: Look up an order by id.
    server: orders-mcp
    parameters:
      type: object
      properties:
        order_id:
          type: string
      required:
        - order_id
`

func writeDefinitions(t *testing.T, docs map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0600))
	}
	return dir
}

func validSet(t *testing.T) string {
	return writeDefinitions(t, map[string]string{
		"greeter.yaml": supportAgent,
		"sales.yaml":   salesAgent,
		"tools.yaml":   sharedTools,
	})
}

func TestLoad_ValidSet(t *testing.T) {
	m, err := Load(validSet(t))
	require.NoError(t, err)

	assert.Equal(t, "Greeter", m.Opener().Name)
	assert.Equal(t, []string{"CustomerSupport", "Sales"}, m.Communities())

	greeter := m.Agent("Greeter")
	require.NotNil(t, greeter)
	require.NotNil(t, greeter.Tool("lookup_order"), "shared tool resolves onto the agent")
	assert.Equal(t, "orders-mcp", greeter.Tool("lookup_order").Server)

	initial := greeter.Flow.InitialState()
	require.NotNil(t, initial)
	assert.Equal(t, "Greeting", initial.Name)
	assert.False(t, initial.Terminal())
	assert.True(t, greeter.Flow.State("Farewell").Terminal())
}

func TestLoad_IgnoresNonYAMLFiles(t *testing.T) {
	dir := writeDefinitions(t, map[string]string{
		"greeter.yaml": supportAgent,
		"sales.yaml":   salesAgent,
		"tools.yaml":   sharedTools,
		"notes.md":     "# scratch",
	})
	_, err := Load(dir)
	assert.NoError(t, err)
}

func TestLoad_RejectsWholeSet(t *testing.T) {
	tests := []struct {
		name string
		docs map[string]string
	}{
		{
			"transition to unknown state",
			map[string]string{"a.yaml": `
name: A
community: C
opener: true
instructions: x
flow:
  initial: S1
  states:
    - name: S1
      transitions:
        - condition: Go
          target: Nowhere
    - name: S2
      end: true
`},
		},
		{
			"handoff to unknown agent",
			map[string]string{"a.yaml": `
name: A
community: C
opener: true
instructions: x
flow:
  initial: S1
  states:
    - name: S1
      transitions:
        - condition: Go
          agent: Ghost
    - name: S2
      end: true
`},
		},
		{
			"missing initial state",
			map[string]string{"a.yaml": `
name: A
community: C
opener: true
instructions: x
flow:
  states:
    - name: S1
      end: true
`},
		},
		{
			"initial state not defined",
			map[string]string{"a.yaml": `
name: A
community: C
opener: true
instructions: x
flow:
  initial: Missing
  states:
    - name: S1
      end: true
`},
		},
		{
			"no terminal state",
			map[string]string{"a.yaml": `
name: A
community: C
opener: true
instructions: x
flow:
  initial: S1
  states:
    - name: S1
      transitions:
        - condition: Loop
          target: S2
    - name: S2
      transitions:
        - condition: Loop
          target: S1
`},
		},
		{
			"undeclared shared tool",
			map[string]string{"a.yaml": `
name: A
community: C
opener: true
instructions: x
use_tools: [missing_tool]
flow:
  initial: S1
  states:
    - name: S1
      end: true
`},
		},
		{
			"no opener",
			map[string]string{"a.yaml": `
name: A
community: C
instructions: x
flow:
  initial: S1
  states:
    - name: S1
      end: true
`},
		},
		{
			"two openers",
			map[string]string{
				"a.yaml": "name: A\ncommunity: C\nopener: true\ninstructions: x\nflow:\n  initial: S1\n  states:\n    - name: S1\n      end: true\n",
				"b.yaml": "name: B\ncommunity: C\nopener: true\ninstructions: x\nflow:\n  initial: S1\n  states:\n    - name: S1\n      end: true\n",
			},
		},
		{
			"duplicate agent name",
			map[string]string{
				"a.yaml": "name: A\ncommunity: C\nopener: true\ninstructions: x\nflow:\n  initial: S1\n  states:\n    - name: S1\n      end: true\n",
				"b.yaml": "name: A\ncommunity: C\ninstructions: x\nflow:\n  initial: S1\n  states:\n    - name: S1\n      end: true\n",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeDefinitions(t, tt.docs)
			_, err := Load(dir)
			require.Error(t, err)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestAgentMap_ResolveTransition(t *testing.T) {
	m, err := Load(validSet(t))
	require.NoError(t, err)

	greeter := m.Agent("Greeter")
	greeting := greeter.Flow.State("Greeting")

	// Same-flow transition.
	agent, state, err := m.ResolveTransition(greeter, greeting.Transitions[1])
	require.NoError(t, err)
	assert.Equal(t, "Greeter", agent.Name)
	assert.Equal(t, "Lookup", state.Name)

	// Cross-community hand-off lands on the target flow's initial state.
	agent, state, err = m.ResolveTransition(greeter, greeting.Transitions[0])
	require.NoError(t, err)
	assert.Equal(t, "SalesRep", agent.Name)
	assert.Equal(t, "Qualify", state.Name)

	// Hand-off back with an explicit target state: graph cycles are fine.
	sales := m.Agent("SalesRep")
	back := sales.Flow.State("Qualify").Transitions[0]
	agent, state, err = m.ResolveTransition(sales, back)
	require.NoError(t, err)
	assert.Equal(t, "Greeter", agent.Name)
	assert.Equal(t, "Lookup", state.Name)
}
