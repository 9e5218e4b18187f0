// Package azure provides an LLM backed by an Azure OpenAI chat deployment.
package azure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/ports"
)

// TokenUsage accumulates tokens consumed by the deployment.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLM implements ports.LLM with GetChatCompletions.
type LLM struct {
	client      *azopenai.Client
	deployment  string
	system      string
	temperature float32

	mu    sync.Mutex
	usage TokenUsage
}

// DefaultSystemPrompt frames every completion.
const DefaultSystemPrompt = "You are an agronomy assistant helping smallholder farmers. Answer briefly and practically."

// New creates a client for the deployment at endpoint.
func New(endpoint, apiKey, deployment string) (*LLM, error) {
	if endpoint == "" || deployment == "" {
		return nil, errors.New("azure openai: endpoint and deployment are required")
	}
	client, err := azopenai.NewClientWithKeyCredential(endpoint, azcore.NewKeyCredential(apiKey), nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure OpenAI client: %w", err)
	}
	return &LLM{
		client:      client,
		deployment:  deployment,
		system:      DefaultSystemPrompt,
		temperature: 0.2,
	}, nil
}

// Complete implements ports.LLM.
func (l *LLM) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := l.client.GetChatCompletions(ctx, azopenai.ChatCompletionsOptions{
		DeploymentName: to.Ptr(l.deployment),
		Temperature:    to.Ptr(l.temperature),
		Messages: []azopenai.ChatRequestMessageClassification{
			&azopenai.ChatRequestUserMessage{
				Content: azopenai.NewChatRequestUserMessageContent(l.system + "\n\n" + prompt),
			},
		},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("azure openai: %w: %w", domain.ErrDependencyUnavailable, err)
	}
	l.record(resp.Usage)
	return firstContent(resp.ChatCompletions)
}

// Usage returns the tokens consumed so far.
func (l *LLM) Usage() TokenUsage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usage
}

func (l *LLM) record(u *azopenai.CompletionsUsage) {
	if u == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if u.PromptTokens != nil {
		l.usage.PromptTokens += int(*u.PromptTokens)
	}
	if u.CompletionTokens != nil {
		l.usage.CompletionTokens += int(*u.CompletionTokens)
	}
	if u.TotalTokens != nil {
		l.usage.TotalTokens += int(*u.TotalTokens)
	}
}

func firstContent(c azopenai.ChatCompletions) (string, error) {
	for _, choice := range c.Choices {
		if choice.Message != nil && choice.Message.Content != nil {
			if text := strings.TrimSpace(*choice.Message.Content); text != "" {
				return text, nil
			}
		}
	}
	return "", fmt.Errorf("azure openai: %w: no completion received", domain.ErrDependencyUnavailable)
}

var _ ports.LLM = (*LLM)(nil)
