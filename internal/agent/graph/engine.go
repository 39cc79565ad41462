package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pro-search-agent/server/internal/agent/graph/nodes"
	"github.com/pro-search-agent/server/internal/agent/graph/observers"
	"github.com/pro-search-agent/server/internal/agent/model"
	errx "github.com/pro-search-agent/server/internal/core/error"
	logx "github.com/pro-search-agent/server/pkg/logger"
)

// engine drives one run: it executes the current stage or wave, merges the
// resulting patches and asks the router for the next step. It is the only
// writer of the state.
type engine struct {
	stages      map[model.Stage]nodes.StageFunc
	tasks       map[model.SearchKind]nodes.TaskFunc
	router      *Router
	tracer      trace.Tracer
	concurrency int
	maxSteps    int
}

// run executes the state machine from guardrail until a terminal stage and
// returns that stage.
func (e *engine) run(ctx context.Context, s *model.State) (model.Stage, error) {
	stage := model.StageGuardrail
	var tasks []nodes.SearchTask

	for step := 0; ; step++ {
		if step >= e.maxSteps {
			return stage, fmt.Errorf("stage %s at step %d: %w", stage, step, errx.ErrMaxStepsExceeded)
		}
		if err := ctx.Err(); err != nil {
			return stage, err
		}

		var err error
		switch stage {
		case model.StageWebSearch, model.StageKnowledgeSearch:
			err = e.runWave(ctx, stage, tasks, s)
		default:
			err = e.runStage(ctx, stage, s)
		}
		if err != nil {
			return stage, err
		}

		route, err := e.router.Next(stage, s)
		if err != nil {
			return stage, err
		}
		logx.Debug().Str("from", string(stage)).Str("to", string(route.Next)).Int("tasks", len(route.Tasks)).Msg("Route")
		if route.Next == model.StageEnd {
			return stage, nil
		}
		stage, tasks = route.Next, route.Tasks
	}
}

func (e *engine) runStage(ctx context.Context, stage model.Stage, s *model.State) error {
	fn, ok := e.stages[stage]
	if !ok {
		return fmt.Errorf("no function registered for stage %q", stage)
	}

	ctx, span := e.tracer.Start(ctx, "stage."+string(stage))
	defer span.End()

	start := time.Now()
	patch, err := fn(ctx, s)
	observers.ObserveStage(string(stage), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logx.Error().Err(err).Str("stage", string(stage)).Msg("Stage failed")
		return fmt.Errorf("stage %s: %w", stage, err)
	}

	s.Merge(patch)
	return nil
}

// runWave runs the tasks of a search stage and merges their patches in ID order.
func (e *engine) runWave(ctx context.Context, stage model.Stage, tasks []nodes.SearchTask, s *model.State) error {
	kind := model.SearchKindWeb
	if stage == model.StageKnowledgeSearch {
		kind = model.SearchKindKnowledge
	}
	run, ok := e.tasks[kind]
	if !ok {
		return fmt.Errorf("no search task registered for %s", kind)
	}

	ctx, span := e.tracer.Start(ctx, "stage."+string(stage), trace.WithAttributes(attribute.Int("tasks", len(tasks))))
	defer span.End()

	start := time.Now()
	patches := runWave(ctx, e.tracer, run, tasks, e.concurrency)
	if err := ctx.Err(); err != nil {
		observers.ObserveStage(string(stage), time.Since(start), err)
		return err
	}
	observers.ObserveStage(string(stage), time.Since(start), nil)

	sort.SliceStable(patches, func(i, j int) bool { return patches[i].ID < patches[j].ID })
	for _, p := range patches {
		s.Merge(p)
	}
	return nil
}

// maxRunSteps bounds a run: the fixed stages plus a wave and a reflection per loop.
func maxRunSteps(cfg model.ResearchConfig, maxLoops int) int {
	if cfg.MaxRunSteps > 0 {
		return cfg.MaxRunSteps
	}
	return max(10+2*(maxLoops+1), 20)
}
