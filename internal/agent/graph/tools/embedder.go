package tools

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// retrievalQueryTask is the Gemini embedding task type for search queries.
const retrievalQueryTask = "RETRIEVAL_QUERY"

// GenAIEmbedder embeds queries with a Gemini embedding model.
type GenAIEmbedder struct {
	client *genai.Client
	model  string
}

func NewGenAIEmbedder(client *genai.Client, model string) (*GenAIEmbedder, error) {
	if client == nil {
		return nil, fmt.Errorf("genai client is nil")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	return &GenAIEmbedder{client: client, model: model}, nil
}

// Embed generates an embedding for a single text.
func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: retrievalQueryTask,
	})
	if err != nil {
		return nil, fmt.Errorf("genai embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 || result.Embeddings[0] == nil {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}
