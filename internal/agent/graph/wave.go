package graph

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/pro-search-agent/server/internal/agent/graph/nodes"
	"github.com/pro-search-agent/server/internal/agent/graph/observers"
	"github.com/pro-search-agent/server/internal/agent/model"
	logx "github.com/pro-search-agent/server/pkg/logger"
)

// runWave dispatches every task concurrently, at most limit at a time, and
// waits for all of them. patches[i] belongs to tasks[i]. A task never fails
// the wave: a panic is turned into a degraded block like any other error.
func runWave(ctx context.Context, tracer trace.Tracer, run nodes.TaskFunc, tasks []nodes.SearchTask, limit int) []model.SearchPatch {
	patches := make([]model.SearchPatch, len(tasks))
	if len(tasks) == 0 {
		return patches
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	start := time.Now()
	for i, task := range tasks {
		g.Go(func() error {
			patches[i] = runTask(ctx, tracer, run, task)
			return nil
		})
	}
	_ = g.Wait()

	kind := string(tasks[0].Kind)
	observers.ObserveWave(kind, len(tasks))
	logx.Debug().
		Str("kind", kind).
		Int("tasks", len(tasks)).
		Int("first_id", tasks[0].ID).
		Dur("elapsed", time.Since(start)).
		Msg("Search wave joined")
	return patches
}

func runTask(ctx context.Context, tracer trace.Tracer, run nodes.TaskFunc, task nodes.SearchTask) (patch model.SearchPatch) {
	ctx, span := tracer.Start(ctx, "search."+string(task.Kind),
		trace.WithAttributes(
			attribute.Int("query_id", task.ID),
			attribute.String("query", task.Query),
		))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			logx.Error().Interface("panic", r).Int("query_id", task.ID).Msg("Search task panicked")
			patch = model.SearchPatch{
				Kind:     task.Kind,
				ID:       task.ID,
				Query:    task.Query,
				Result:   fmt.Sprintf("Search failed for %q: %v", task.Query, r),
				Degraded: true,
			}
		}
		if patch.Degraded {
			span.SetStatus(codes.Error, "degraded")
		}
		span.SetAttributes(attribute.Int("sources", len(patch.Sources)))
		observers.RecordSearchTask(string(task.Kind), patch.Degraded)
	}()

	patch = run(ctx, task)
	// the reducer relies on these matching the dispatched task
	patch.Kind, patch.ID, patch.Query = task.Kind, task.ID, task.Query
	return patch
}
