package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/pro-search-agent/server/internal/agent/graph/citations"
	"github.com/pro-search-agent/server/internal/agent/graph/prompts"
	"github.com/pro-search-agent/server/internal/agent/model"
	errx "github.com/pro-search-agent/server/internal/core/error"
	logx "github.com/pro-search-agent/server/pkg/logger"
	"github.com/pro-search-agent/server/pkg/retry"
)

// GroundedResult is generated text plus the grounding that supports it.
// Support offsets are byte offsets into Text.
type GroundedResult struct {
	Text     string
	Chunks   []citations.Chunk
	Supports []citations.Support
}

// WebSearcher runs one grounded web search.
type WebSearcher interface {
	Search(ctx context.Context, query string) (*GroundedResult, error)
}

// GeminiWebSearcher answers a query with Gemini and the Google Search tool.
type GeminiWebSearcher struct {
	client      *genai.Client
	model       string
	temperature float32
	cfg         model.SearchConfig
	retry       retry.Policy
}

func NewGeminiWebSearcher(client *genai.Client, cfg model.SearchConfig, policy retry.Policy) (*GeminiWebSearcher, error) {
	if client == nil {
		return nil, fmt.Errorf("genai client is nil")
	}
	if cfg.WebModel == "" {
		return nil, fmt.Errorf("web search model is empty")
	}
	return &GeminiWebSearcher{
		client:      client,
		model:       cfg.WebModel,
		temperature: cfg.WebTemperature,
		cfg:         cfg,
		retry:       policy,
	}, nil
}

func (s *GeminiWebSearcher) Search(ctx context.Context, query string) (*GroundedResult, error) {
	promptText, err := prompts.Render(ctx, model.StageWebSearch, prompts.Vars{ResearchTopic: query}.Map())
	if err != nil {
		return nil, err
	}

	var resp *genai.GenerateContentResponse
	err = retry.Do(ctx, s.retry, func(ctx context.Context, attempt int) error {
		callCtx := ctx
		if s.cfg.WebTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.cfg.WebTimeout)
			defer cancel()
		}
		r, err := s.client.Models.GenerateContent(callCtx, s.model, genai.Text(promptText), &genai.GenerateContentConfig{
			Tools:       []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
			Temperature: genai.Ptr(s.temperature),
		})
		if err != nil {
			logx.Warn().Err(err).Str("query", query).Int("attempt", attempt).Msg("web search attempt failed")
			return err
		}
		if len(r.Candidates) == 0 {
			return errors.New("web search returned no candidates")
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, errx.WrapSearch(string(model.SearchKindWeb), err)
	}

	if tracker := model.UsageTrackerFrom(ctx); tracker != nil && resp.UsageMetadata != nil {
		tracker.Add(s.model, &schema.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		})
	}

	return groundedResultFrom(resp), nil
}

func groundedResultFrom(resp *genai.GenerateContentResponse) *GroundedResult {
	out := &GroundedResult{Text: resp.Text()}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return out
	}
	gm := resp.Candidates[0].GroundingMetadata
	if gm == nil {
		return out
	}

	out.Chunks = make([]citations.Chunk, len(gm.GroundingChunks))
	for i, ch := range gm.GroundingChunks {
		if ch == nil || ch.Web == nil {
			continue
		}
		out.Chunks[i] = citations.Chunk{URI: ch.Web.URI, Title: ch.Web.Title}
	}

	for _, sup := range gm.GroundingSupports {
		if sup == nil || sup.Segment == nil {
			continue
		}
		idx := make([]int, 0, len(sup.GroundingChunkIndices))
		for _, ci := range sup.GroundingChunkIndices {
			idx = append(idx, int(ci))
		}
		out.Supports = append(out.Supports, citations.Support{
			StartIndex:   int(sup.Segment.StartIndex),
			EndIndex:     int(sup.Segment.EndIndex),
			ChunkIndices: idx,
		})
	}
	return out
}
