package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pro-search-agent/server/internal/agent/graph/citations"
	"github.com/pro-search-agent/server/internal/agent/graph/tools"
	"github.com/pro-search-agent/server/internal/agent/model"
	errx "github.com/pro-search-agent/server/internal/core/error"
	logx "github.com/pro-search-agent/server/pkg/logger"
)

const (
	// KnowledgeNoResultsText replaces an empty knowledge search result.
	KnowledgeNoResultsText = "No search results were found. Try again with different keywords."
	// WebNoResultsText replaces an empty web search answer.
	WebNoResultsText = "The web search returned no content for this query."
)

// SearchTask is one unit of a fan-out wave. ID is fixed at dispatch time.
type SearchTask struct {
	Kind  model.SearchKind
	ID    int
	Query string
}

// TaskFunc runs one search task. It never fails: errors become a degraded
// result block so one bad query cannot sink its wave.
type TaskFunc func(ctx context.Context, task SearchTask) model.SearchPatch

// NewWebSearchTask searches the web, maps grounding URLs to short tokens
// scoped to the task ID and embeds citation markers in the text.
func NewWebSearchTask(web tools.WebSearcher) TaskFunc {
	return func(ctx context.Context, task SearchTask) model.SearchPatch {
		patch := model.SearchPatch{Kind: model.SearchKindWeb, ID: task.ID, Query: task.Query}

		res, err := web.Search(ctx, task.Query)
		if err != nil {
			logx.Error().Err(err).Int("query_id", task.ID).Str("query", task.Query).Msg("Web search failed")
			patch.Result = fmt.Sprintf("Web search failed for %q: %v", task.Query, err)
			patch.Degraded = true
			return patch
		}
		if res == nil || strings.TrimSpace(res.Text) == "" {
			patch.Result = WebNoResultsText
			return patch
		}

		resolved := citations.ResolveURLs(res.Chunks, task.ID)
		cits := citations.Build(res.Supports, res.Chunks, resolved)
		patch.Result = citations.InsertMarkers(res.Text, cits)
		patch.Sources = citations.Sources(cits)

		logx.Debug().
			Int("query_id", task.ID).
			Int("chunks", len(res.Chunks)).
			Int("sources", len(patch.Sources)).
			Msg("Web search done")
		return patch
	}
}

// NewKnowledgeSearchTask retrieves up to topK passages and joins them in rank order.
func NewKnowledgeSearchTask(ks tools.KnowledgeSearcher, topK int) TaskFunc {
	return func(ctx context.Context, task SearchTask) model.SearchPatch {
		patch := model.SearchPatch{Kind: model.SearchKindKnowledge, ID: task.ID, Query: task.Query}

		passages, err := ks.Search(ctx, task.Query, topK)
		if errors.Is(err, errx.ErrEmptySearchResult) {
			err, passages = nil, nil
		}
		if err != nil {
			logx.Error().Err(err).Int("query_id", task.ID).Str("query", task.Query).Msg("Knowledge search failed")
			patch.Result = fmt.Sprintf("Knowledge search failed: %v", err)
			patch.Degraded = true
			return patch
		}

		texts := make([]string, 0, len(passages))
		for _, p := range passages {
			if t := strings.TrimSpace(p.Text); t != "" {
				texts = append(texts, t)
			}
		}
		if len(texts) == 0 {
			patch.Result = KnowledgeNoResultsText
			return patch
		}
		patch.Result = strings.Join(texts, "\n\n")

		logx.Debug().Int("query_id", task.ID).Int("passages", len(texts)).Msg("Knowledge search done")
		return patch
	}
}
