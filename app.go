package main

import (
	"context"
	"fmt"

	"github.com/pro-search-agent/server/internal/agent/graph"
	"github.com/pro-search-agent/server/internal/agent/graph/nodes"
	"github.com/pro-search-agent/server/internal/agent/graph/tools"
	"github.com/pro-search-agent/server/internal/agent/repo"
	logx "github.com/pro-search-agent/server/pkg/logger"
)

type app struct {
	runner graph.Runner
	close  func()
}

// buildApp wires the Gemini client, evidence sources and conversation store into a runner.
func buildApp(ctx context.Context, cfg *AppConfig, inMemory bool) (*app, error) {
	if err := cfg.Research.Validate(); err != nil {
		return nil, err
	}

	client, err := nodes.NewGeminiClient(ctx, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	cms, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		Client:         client,
		Stages:         cfg.Research.StageModels(),
		ThinkingBudget: cfg.ThinkingBudget,
	})
	if err != nil {
		return nil, err
	}
	invoker, err := nodes.NewChatInvoker(ctx, cms, cfg.Research.Retry)
	if err != nil {
		return nil, err
	}

	web, err := tools.NewGeminiWebSearcher(client, cfg.Search, cfg.Research.Retry)
	if err != nil {
		return nil, err
	}

	gc := graph.Config{
		Invoker:      invoker,
		Web:          web,
		Research:     cfg.Research,
		Search:       cfg.Search,
		Conversation: cfg.Conversation,
	}

	if cfg.KnowledgeEnabled {
		wc, err := cfg.Weaviate.New()
		if err != nil {
			return nil, err
		}
		embedder, err := tools.NewGenAIEmbedder(client, cfg.Search.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		ks, err := tools.NewWeaviateKnowledgeSearcher(wc, embedder, cfg.Search, cfg.Research.Retry)
		if err != nil {
			return nil, err
		}
		gc.Knowledge = ks
	}

	closeFn := func() {}
	if inMemory {
		gc.ConversationRepo = repo.NewMemoryConversationRepository()
	} else {
		rdb, err := cfg.Redis.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise Redis client: %w", err)
		}
		gc.ConversationRepo = repo.NewRedisConversationRepository(rdb, cfg.Conversation.TTL)
		closeFn = func() { _ = rdb.Close() }
	}

	runner, err := graph.BuildResearchGraph(ctx, gc)
	if err != nil {
		closeFn()
		return nil, err
	}

	logx.Debug().
		Bool("knowledge_search", gc.Knowledge != nil).
		Bool("in_memory", inMemory).
		Str("force_search_mode", string(cfg.Research.ForceSearchMode)).
		Msg("Research agent ready")
	return &app{runner: runner, close: closeFn}, nil
}
