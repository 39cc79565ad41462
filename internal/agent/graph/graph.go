package graph

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pro-search-agent/server/internal/agent/graph/conversations"
	"github.com/pro-search-agent/server/internal/agent/graph/nodes"
	"github.com/pro-search-agent/server/internal/agent/graph/observers"
	"github.com/pro-search-agent/server/internal/agent/graph/tools"
	"github.com/pro-search-agent/server/internal/agent/model"
	logx "github.com/pro-search-agent/server/pkg/logger"
)

const tracerName = "github.com/pro-search-agent/server/internal/agent/graph"

// Runner executes one conversational turn through the research graph.
type Runner interface {
	Invoke(ctx context.Context, in model.QueryInput) (*model.RunResult, error)
}

// Config holds everything needed to compose the research graph end-to-end.
// Web and Knowledge may be nil when the matching search can never be routed to.
type Config struct {
	Invoker          nodes.ModelInvoker
	Web              tools.WebSearcher
	Knowledge        tools.KnowledgeSearcher
	Research         model.ResearchConfig
	Search           model.SearchConfig
	Conversation     model.ConversationConfig
	ConversationRepo model.ConversationRepository
}

// GraphBuilder collects the stage functions and search tasks of the graph.
type GraphBuilder struct {
	config *Config
	stages map[model.Stage]nodes.StageFunc
	tasks  map[model.SearchKind]nodes.TaskFunc
}

type graphRunner struct {
	config  *Config
	manager *conversations.MessagesManager
	stages  map[model.Stage]nodes.StageFunc
	tasks   map[model.SearchKind]nodes.TaskFunc
	router  *Router
	tracer  trace.Tracer
}

// BuildResearchGraph validates cfg, wires every stage and returns a Runner.
func BuildResearchGraph(ctx context.Context, cfg Config) (Runner, error) {
	if cfg.Invoker == nil {
		return nil, fmt.Errorf("model invoker is nil")
	}
	if cfg.ConversationRepo == nil {
		return nil, fmt.Errorf("conversation repo is nil")
	}
	if err := cfg.Research.Validate(); err != nil {
		return nil, fmt.Errorf("invalid research config: %w", err)
	}
	if cfg.Web == nil && cfg.Research.ForceSearchMode == model.SearchModeWeb {
		return nil, fmt.Errorf("web search is forced but no web searcher is configured")
	}
	if cfg.Knowledge == nil && cfg.Research.ForceSearchMode == model.SearchModeKnowledge {
		return nil, fmt.Errorf("knowledge search is forced but no knowledge searcher is configured")
	}

	builder := &GraphBuilder{
		config: &cfg,
		stages: make(map[model.Stage]nodes.StageFunc),
		tasks:  make(map[model.SearchKind]nodes.TaskFunc),
	}
	builder.addNodes()
	builder.addTasks()

	return builder.compile(ctx)
}

// addNodes registers one function per non-search stage.
func (b *GraphBuilder) addNodes() {
	inv, rc := b.config.Invoker, b.config.Research

	b.stages[model.StageGuardrail] = nodes.NewGuardrailNode(inv)
	b.stages[model.StageBlocked] = nodes.NewBlockedNode()
	b.stages[model.StageClassify] = nodes.NewClassifyNode(inv, rc)
	b.stages[model.StageClarify] = nodes.NewClarifyNode(inv, rc)
	b.stages[model.StageProvideClarification] = nodes.NewProvideClarificationNode(rc)
	b.stages[model.StageDirectAnswer] = nodes.NewDirectAnswerNode(inv)
	b.stages[model.StageGenerateWebQuery] = nodes.NewGenerateQueryNode(inv, model.SearchKindWeb, rc)
	b.stages[model.StageGenerateKnowledgeQuery] = nodes.NewGenerateQueryNode(inv, model.SearchKindKnowledge, rc)
	b.stages[model.StageWebReflect] = nodes.NewReflectNode(inv, model.SearchKindWeb)
	b.stages[model.StageKnowledgeReflect] = nodes.NewReflectNode(inv, model.SearchKindKnowledge)
	b.stages[model.StageFinalize] = nodes.NewFinalizeNode(inv)
}

// addTasks registers the search task of every evidence source. A source that
// is not configured still answers, with a degraded block per query.
func (b *GraphBuilder) addTasks() {
	b.tasks[model.SearchKindWeb] = unavailableTask(model.SearchKindWeb)
	b.tasks[model.SearchKindKnowledge] = unavailableTask(model.SearchKindKnowledge)

	if b.config.Web != nil {
		b.tasks[model.SearchKindWeb] = nodes.NewWebSearchTask(b.config.Web)
	}
	if b.config.Knowledge != nil {
		topK := b.config.Search.KnowledgeTopK
		if topK <= 0 {
			topK = 10
		}
		b.tasks[model.SearchKindKnowledge] = nodes.NewKnowledgeSearchTask(b.config.Knowledge, topK)
	}
}

func unavailableTask(kind model.SearchKind) nodes.TaskFunc {
	return func(ctx context.Context, task nodes.SearchTask) model.SearchPatch {
		logx.Warn().Str("kind", string(kind)).Int("query_id", task.ID).Msg("Search source not configured")
		return model.SearchPatch{
			Kind:     kind,
			ID:       task.ID,
			Query:    task.Query,
			Result:   fmt.Sprintf("%s search is not available.", kind),
			Degraded: true,
		}
	}
}

// compile finalizes the graph into a runner.
func (b *GraphBuilder) compile(ctx context.Context) (Runner, error) {
	r := &graphRunner{
		config:  b.config,
		manager: conversations.NewMessagesManager(b.config.ConversationRepo, b.config.Conversation),
		stages:  b.stages,
		tasks:   b.tasks,
		router:  NewRouter(b.config.Research),
		tracer:  otel.Tracer(tracerName),
	}
	logx.Debug().
		Int("stages", len(b.stages)).
		Bool("web", b.config.Web != nil).
		Bool("knowledge", b.config.Knowledge != nil).
		Msg("Research graph compiled successfully")
	return r, nil
}

func (r *graphRunner) Invoke(ctx context.Context, in model.QueryInput) (*model.RunResult, error) {
	ctx, span := r.tracer.Start(ctx, "research.run", trace.WithAttributes(attribute.String("conversation_id", in.ConversationID)))
	defer span.End()

	turn, err := r.manager.StartTurn(ctx, in.ConversationID, in.Query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rc := r.config.Research
	s := model.NewState(turn.Messages, turn.IntentClarifyCount)
	s.InitialQueryCount = in.InitialQueryCount
	s.MaxResearchLoops = rc.MaxResearchLoops
	if in.MaxResearchLoops != nil && *in.MaxResearchLoops >= 0 {
		s.MaxResearchLoops = *in.MaxResearchLoops
	}

	tracker := &model.UsageTracker{}
	ctx = model.WithUsageTracker(ctx, tracker)

	eng := &engine{
		stages:      r.stages,
		tasks:       r.tasks,
		router:      r.router,
		tracer:      r.tracer,
		concurrency: rc.SearchConcurrency,
		maxSteps:    maxRunSteps(rc, s.MaxResearchLoops),
	}
	terminal, err := eng.run(ctx, s)
	if err != nil {
		observers.RecordRun("error", s.ResearchLoopCount)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logx.Error().Err(err).Str("conversation_id", in.ConversationID).Str("stage", string(terminal)).Msg("Research run failed")
		return nil, err
	}

	// an answered turn starts the clarification budget over
	clarifyCount := 0
	if terminal == model.StageProvideClarification {
		clarifyCount = s.IntentClarifyCount
	}
	if err := r.manager.SaveTurn(ctx, in.ConversationID, turn, s.Answer, clarifyCount); err != nil {
		span.RecordError(err)
		return nil, err
	}

	observers.RecordRun(string(terminal), s.ResearchLoopCount)
	usage := tracker.Summary()
	span.SetAttributes(
		attribute.String("terminal_stage", string(terminal)),
		attribute.Int("research_loops", s.ResearchLoopCount),
		attribute.Int("search_queries", len(s.SearchQueries)),
	)
	logx.Info().
		Str("conversation_id", in.ConversationID).
		Str("stage", string(terminal)).
		Int("research_loop_count", s.ResearchLoopCount).
		Int("search_queries", len(s.SearchQueries)).
		Int("sources", len(s.SourcesGathered)).
		Float64("cost_usd", usage.TotalCostUSD).
		Msg("Research run finished")

	return &model.RunResult{
		ConversationID:    in.ConversationID,
		Answer:            s.Answer,
		Sources:           s.SourcesGathered,
		Stage:             terminal,
		QueryType:         s.QueryClassification,
		SearchQueries:     s.SearchQueries,
		ResearchLoopCount: s.ResearchLoopCount,
		Violations:        s.GuardrailViolations,
		Usage:             usage,
	}, nil
}
