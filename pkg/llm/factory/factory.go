package factory

import (
	"ai-refinery/internal/constant"
	"ai-refinery/pkg/llm"
	"ai-refinery/pkg/llm/huggingface"
	"ai-refinery/pkg/llm/ollama"
	"fmt"
)

func NewLLMProvider(providerType, modelName, baseURL, apiKey string) (llm.LLMProvider, error) {
	switch providerType {
	case "ollama":
		if baseURL == "" {
			baseURL = constant.OllamaDefaultBaseURL
		}
		if modelName == "" {
			modelName = constant.OllamaDefaultModel
		}
		return ollama.NewOllamaProvider(baseURL, modelName), nil
	case "huggingface", "openai":
		return huggingface.NewHuggingFaceProvider(apiKey, baseURL, modelName), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", providerType)
	}
}
