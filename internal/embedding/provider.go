package embedding

import (
	"fmt"

	"github.com/Harshitk-cp/memlayer/internal/domain"
)

const (
	ProviderNone   = ""
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// NewClient creates an embedding client based on the provider name. An empty
// provider returns a nil client: memories are stored without vectors and
// matching stays lexical.
func NewClient(provider, apiKey, baseURL string) (domain.EmbeddingClient, error) {
	switch provider {
	case ProviderNone:
		return nil, nil

	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI embedding provider")
		}
		return NewOpenAIClient(apiKey, WithBaseURL(baseURL)), nil

	case ProviderMock:
		return NewMockClient(), nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (valid options: openai, mock)", provider)
	}
}
