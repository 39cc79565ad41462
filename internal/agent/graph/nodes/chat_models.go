package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/pro-search-agent/server/internal/agent/model"
	logx "github.com/pro-search-agent/server/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	Client *genai.Client
	Stages map[model.Stage]model.ModelConfig
	// ThinkingBudget caps reasoning tokens on models that support thinking.
	ThinkingBudget int32
}

// ChatModels holds one chat model per model-backed stage.
type ChatModels struct {
	Models     map[model.Stage]einomodel.BaseChatModel
	ModelNames map[model.Stage]string
}

// NewGeminiClient creates the Gemini API client shared by chat models, web search and embeddings.
func NewGeminiClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions.BaseURL = baseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// NewChatModels creates a Gemini chat model for every configured stage.
// Stages sharing a model and temperature share one instance.
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("genai client is nil")
	}

	type key struct {
		name string
		temp float32
		max  int
	}
	built := make(map[key]*gemini.ChatModel)
	cms := &ChatModels{
		Models:     make(map[model.Stage]einomodel.BaseChatModel, len(config.Stages)),
		ModelNames: make(map[model.Stage]string, len(config.Stages)),
	}

	for stage, mc := range config.Stages {
		k := key{name: mc.Model, temp: mc.Temperature, max: mc.MaxTokens}
		cm, ok := built[k]
		if !ok {
			temperature := mc.Temperature
			gc := &gemini.Config{
				Client:      config.Client,
				Model:       mc.Model,
				Temperature: &temperature,
			}
			if mc.MaxTokens > 0 {
				maxTokens := mc.MaxTokens
				gc.MaxTokens = &maxTokens
			}
			if supportsThinking(mc.Model) && config.ThinkingBudget > 0 {
				gc.ThinkingConfig = &genai.ThinkingConfig{
					IncludeThoughts: false,
					ThinkingBudget:  genai.Ptr(config.ThinkingBudget),
				}
			}

			var err error
			cm, err = gemini.NewChatModel(ctx, gc)
			if err != nil {
				logx.Error().Err(err).Str("stage", string(stage)).Str("model", mc.Model).Msg("Error creating chat model")
				return nil, fmt.Errorf("error creating %s model: %w", stage, err)
			}
			built[k] = cm
		}
		cms.Models[stage] = cm
		cms.ModelNames[stage] = mc.Model
	}

	logx.Debug().Int("stages", len(cms.Models)).Int("instances", len(built)).Msg("Chat models created")
	return cms, nil
}

func supportsThinking(name string) bool {
	return strings.HasPrefix(name, "gemini-2.5")
}
