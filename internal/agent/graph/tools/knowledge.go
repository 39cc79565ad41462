package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/pro-search-agent/server/internal/agent/model"
	errx "github.com/pro-search-agent/server/internal/core/error"
	logx "github.com/pro-search-agent/server/pkg/logger"
	"github.com/pro-search-agent/server/pkg/retry"
)

// Passage is one retrieved knowledge base chunk.
type Passage struct {
	Text     string
	Distance float64
}

// KnowledgeSearcher returns up to topK passages ranked by relevance.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]Passage, error)
}

// Embedder turns a query into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// WeaviateKnowledgeSearcher runs nearVector queries against one Weaviate class.
type WeaviateKnowledgeSearcher struct {
	client    *weaviate.Client
	embedder  Embedder
	className string
	textField string
	retry     retry.Policy
}

func NewWeaviateKnowledgeSearcher(client *weaviate.Client, embedder Embedder, cfg model.SearchConfig, policy retry.Policy) (*WeaviateKnowledgeSearcher, error) {
	if client == nil {
		return nil, fmt.Errorf("weaviate client is nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	return &WeaviateKnowledgeSearcher{
		client:    client,
		embedder:  embedder,
		className: cfg.KnowledgeClass,
		textField: cfg.KnowledgeTextField,
		retry:     policy,
	}, nil
}

func (s *WeaviateKnowledgeSearcher) Search(ctx context.Context, query string, topK int) ([]Passage, error) {
	if topK <= 0 {
		topK = 10
	}

	var vector []float32
	err := retry.Do(ctx, s.retry, func(ctx context.Context, attempt int) error {
		v, err := s.embedder.Embed(ctx, query)
		if err != nil {
			logx.Warn().Err(err).Int("attempt", attempt).Msg("query embedding failed")
			return err
		}
		vector = v
		return nil
	})
	if err != nil {
		return nil, errx.WrapSearch(string(model.SearchKindKnowledge), fmt.Errorf("embed query: %w", err))
	}

	fields := []graphql.Field{
		{Name: s.textField},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	var result *models.GraphQLResponse
	err = retry.Do(ctx, s.retry, func(ctx context.Context, attempt int) error {
		r, err := s.client.GraphQL().Get().
			WithClassName(s.className).
			WithFields(fields...).
			WithNearVector(nearVector).
			WithLimit(topK).
			Do(ctx)
		if err != nil {
			logx.Warn().Err(err).Int("attempt", attempt).Msg("knowledge query failed")
			return err
		}
		if len(r.Errors) > 0 {
			return retry.Permanent(errors.New(r.Errors[0].Message))
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, errx.WrapSearch(string(model.SearchKindKnowledge), err)
	}

	return parsePassages(result, s.className, s.textField), nil
}

// parsePassages reads Get.<class>[] objects in ranking order.
func parsePassages(result *models.GraphQLResponse, className, textField string) []Passage {
	if result == nil {
		return nil
	}
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[className].([]interface{})
	if !ok {
		return nil
	}

	passages := make([]Passage, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		text, _ := m[textField].(string)
		p := Passage{Text: text}
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			if d, ok := add["distance"].(float64); ok {
				p.Distance = d
			}
		}
		passages = append(passages, p)
	}
	return passages
}
