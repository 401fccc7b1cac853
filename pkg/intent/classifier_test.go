package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalis/vocalis/internal/config"
)

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier()
	candidates := []string{"PurchaseInquiry", "order_status", "Resolved"}

	tests := []struct {
		name string
		text string
		want string
	}{
		{"camel-case condition", "I have a purchase inquiry about the new plan", "PurchaseInquiry"},
		{"snake-case condition", "what is my order status", "order_status"},
		{"single word", "great, that is resolved then", "Resolved"},
		{"case insensitive", "PURCHASE INQUIRY please", "PurchaseInquiry"},
		{"partial words do not match", "I want to purchase", ""},
		{"no match", "tell me a joke", ""},
		{"empty text", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Classify(context.Background(), Turn{UserText: tt.text}, candidates)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeywordClassifier_Deterministic(t *testing.T) {
	c := NewKeywordClassifier()
	turn := Turn{UserText: "purchase inquiry and order status in one breath"}
	candidates := []string{"PurchaseInquiry", "order_status"}

	first, err := c.Classify(context.Background(), turn, candidates)
	require.NoError(t, err)
	second, err := c.Classify(context.Background(), turn, candidates)
	require.NoError(t, err)

	assert.Equal(t, "PurchaseInquiry", first, "declaration order breaks ties")
	assert.Equal(t, first, second)
}

func TestConditionWords(t *testing.T) {
	assert.Equal(t, []string{"purchase", "inquiry"}, conditionWords("PurchaseInquiry"))
	assert.Equal(t, []string{"order", "status"}, conditionWords("order_status"))
	assert.Equal(t, []string{"needs", "support"}, conditionWords("needs-support"))
	assert.Empty(t, conditionWords(""))
}

func TestParseChoice(t *testing.T) {
	candidates := []string{"PurchaseInquiry", "Resolved"}

	assert.Equal(t, "PurchaseInquiry", parseChoice("PurchaseInquiry", candidates))
	assert.Equal(t, "PurchaseInquiry", parseChoice(" purchaseinquiry ", candidates))
	assert.Equal(t, "Resolved", parseChoice(`"Resolved"`, candidates))
	assert.Equal(t, "", parseChoice("none", candidates))
	assert.Equal(t, "", parseChoice("NONE", candidates))
	assert.Equal(t, "", parseChoice("SomethingElse", candidates))
	assert.Equal(t, "", parseChoice("", candidates))
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt(Turn{UserText: "I want to buy", AssistantText: "How can I help?"},
		[]string{"PurchaseInquiry"})
	assert.Contains(t, prompt, "- PurchaseInquiry")
	assert.Contains(t, prompt, "User said: I want to buy")
	assert.Contains(t, prompt, "Assistant said: How can I help?")
}

func TestNew_SelectsBackend(t *testing.T) {
	c, err := New(config.IntentConfig{Classifier: "keyword"})
	require.NoError(t, err)
	assert.IsType(t, &KeywordClassifier{}, c)

	c, err = New(config.IntentConfig{})
	require.NoError(t, err)
	assert.IsType(t, &KeywordClassifier{}, c)

	c, err = New(config.IntentConfig{Classifier: "openai", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.IsType(t, &openaiClassifier{}, c)

	c, err = New(config.IntentConfig{Classifier: "anthropic", APIKey: "sk-ant-test"})
	require.NoError(t, err)
	assert.IsType(t, &anthropicClassifier{}, c)

	_, err = New(config.IntentConfig{Classifier: "bard"})
	assert.Error(t, err)
}
