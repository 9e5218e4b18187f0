package azure

import (
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	_, err := New("", "key", "gpt-4o")
	assert.Error(t, err)
	_, err = New("https://example.openai.azure.com", "key", "")
	assert.Error(t, err)

	l, err := New("https://example.openai.azure.com", "key", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", l.deployment)
}

func TestUsage_Accumulates(t *testing.T) {
	l := &LLM{deployment: "test"}
	u := &azopenai.CompletionsUsage{
		PromptTokens:     to.Ptr(int32(50)),
		CompletionTokens: to.Ptr(int32(20)),
		TotalTokens:      to.Ptr(int32(70)),
	}
	l.record(u)
	l.record(u)
	l.record(nil)
	assert.Equal(t, TokenUsage{PromptTokens: 100, CompletionTokens: 40, TotalTokens: 140}, l.Usage())
}

func TestFirstContent(t *testing.T) {
	text, err := firstContent(azopenai.ChatCompletions{
		Choices: []azopenai.ChatChoice{
			{Message: &azopenai.ChatResponseMessage{Content: to.Ptr("   ")}},
			{Message: &azopenai.ChatResponseMessage{Content: to.Ptr(" Spray neem oil at dusk. ")}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Spray neem oil at dusk.", text)

	_, err = firstContent(azopenai.ChatCompletions{})
	assert.ErrorIs(t, err, domain.ErrDependencyUnavailable)
}
