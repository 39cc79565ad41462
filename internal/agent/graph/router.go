package graph

import (
	"fmt"

	"github.com/pro-search-agent/server/internal/agent/graph/nodes"
	"github.com/pro-search-agent/server/internal/agent/model"
)

// Route is the router's decision after a stage: the next stage and, when the
// next stage is a search wave, the tasks to dispatch.
type Route struct {
	Next  model.Stage
	Tasks []nodes.SearchTask
}

// Router holds the pure transition function of the research state machine.
type Router struct {
	cfg model.ResearchConfig
}

// NewRouter returns a router for cfg.
func NewRouter(cfg model.ResearchConfig) *Router {
	return &Router{cfg: cfg}
}

// Next decides where the run goes after stage, reading the merged state.
func (r *Router) Next(stage model.Stage, s *model.State) (Route, error) {
	if stage.IsTerminal() {
		return Route{Next: model.StageEnd}, nil
	}

	switch stage {
	case model.StageGuardrail:
		if !s.IsSafeInput {
			return Route{Next: model.StageBlocked}, nil
		}
		return Route{Next: model.StageClassify}, nil

	case model.StageClassify:
		if !s.NeedsWebSearch && !s.NeedsKnowledgeSearch {
			return Route{Next: model.StageDirectAnswer}, nil
		}
		if r.cfg.EnableIntentClarify {
			return Route{Next: model.StageClarify}, nil
		}
		return Route{Next: r.searchBranch(s)}, nil

	case model.StageClarify:
		if r.cfg.EnableIntentClarify &&
			s.IntentClarifyCount < r.cfg.MaxIntentClarifyAttempts &&
			s.NeedsClarification {
			return Route{Next: model.StageProvideClarification}, nil
		}
		return Route{Next: r.searchBranch(s)}, nil

	case model.StageGenerateWebQuery:
		return r.wave(model.SearchKindWeb, s.GeneratedQueries, s), nil
	case model.StageGenerateKnowledgeQuery:
		return r.wave(model.SearchKindKnowledge, s.GeneratedQueries, s), nil

	case model.StageWebSearch:
		return Route{Next: model.StageWebReflect}, nil
	case model.StageKnowledgeSearch:
		return Route{Next: model.StageKnowledgeReflect}, nil

	case model.StageWebReflect:
		return r.afterReflection(model.SearchKindWeb, s), nil
	case model.StageKnowledgeReflect:
		return r.afterReflection(model.SearchKindKnowledge, s), nil
	}

	return Route{}, fmt.Errorf("no route from stage %q", stage)
}

// searchBranch picks the query generation stage for the flagged kind. When
// both kinds are flagged the configured precedence wins.
func (r *Router) searchBranch(s *model.State) model.Stage {
	web, knowledge := s.NeedsWebSearch, s.NeedsKnowledgeSearch
	if web && knowledge {
		if r.cfg.SearchPrecedence == model.SearchKindKnowledge {
			return model.StageGenerateKnowledgeQuery
		}
		return model.StageGenerateWebQuery
	}
	if web {
		return model.StageGenerateWebQuery
	}
	if knowledge {
		return model.StageGenerateKnowledgeQuery
	}
	return model.StageDirectAnswer
}

func (r *Router) afterReflection(kind model.SearchKind, s *model.State) Route {
	if s.IsSufficient || s.ResearchLoopCount >= s.MaxResearchLoops || len(s.FollowUpQueries) == 0 {
		return Route{Next: model.StageFinalize}
	}
	return r.wave(kind, s.FollowUpQueries, s)
}

// wave builds one task per query. IDs continue from NumberOfRanQueries so
// they never collide with a previous wave.
func (r *Router) wave(kind model.SearchKind, queries []string, s *model.State) Route {
	next := model.StageWebSearch
	if kind == model.SearchKindKnowledge {
		next = model.StageKnowledgeSearch
	}
	tasks := make([]nodes.SearchTask, len(queries))
	for i, q := range queries {
		tasks[i] = nodes.SearchTask{Kind: kind, ID: s.NumberOfRanQueries + i, Query: q}
	}
	return Route{Next: next, Tasks: tasks}
}
