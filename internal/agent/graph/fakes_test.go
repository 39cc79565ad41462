package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pro-search-agent/server/internal/agent/graph/citations"
	"github.com/pro-search-agent/server/internal/agent/graph/tools"
	"github.com/pro-search-agent/server/internal/agent/model"
	errx "github.com/pro-search-agent/server/internal/core/error"
)

type handler func(vars map[string]any) (string, error)

// scriptedInvoker answers each stage with its handler and counts calls.
type scriptedInvoker struct {
	mu       sync.Mutex
	handlers map[model.Stage]handler
	calls    map[model.Stage]int
	lastVars map[model.Stage]map[string]any
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{
		handlers: map[model.Stage]handler{},
		calls:    map[model.Stage]int{},
		lastVars: map[model.Stage]map[string]any{},
	}
}

func (f *scriptedInvoker) handle(stage model.Stage, h handler) *scriptedInvoker {
	f.handlers[stage] = h
	return f
}

func (f *scriptedInvoker) json(stage model.Stage, v any) *scriptedInvoker {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return f.handle(stage, func(map[string]any) (string, error) { return string(b), nil })
}

func (f *scriptedInvoker) Generate(ctx context.Context, stage model.Stage, vars map[string]any) (string, error) {
	f.mu.Lock()
	f.calls[stage]++
	f.lastVars[stage] = vars
	h, ok := f.handlers[stage]
	f.mu.Unlock()
	if !ok {
		return "", errx.WrapModel(string(stage), fmt.Errorf("no handler"))
	}
	return h(vars)
}

func (f *scriptedInvoker) callCount(stage model.Stage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stage]
}

func (f *scriptedInvoker) summaries(stage model.Stage) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, _ := f.lastVars[stage]["Summaries"].(string)
	return s
}

// researchInvoker answers every stage with a safe, clear, web-only verdict
// that asks for three queries and is satisfied after the first wave.
func researchInvoker() *scriptedInvoker {
	return newScriptedInvoker().
		json(model.StageGuardrail, model.GuardrailResult{IsSafe: true, Violations: []string{}}).
		json(model.StageClassify, model.QueryClassification{NeedsWebSearch: true, QueryType: "factual"}).
		json(model.StageClarify, model.IntentClarity{IsClear: true, Category: "clear"}).
		json(model.StageGenerateWebQuery, model.SearchQueryList{Query: []string{"q1", "q2", "q3"}, Rationale: "cover it"}).
		json(model.StageGenerateKnowledgeQuery, model.SearchQueryList{Query: []string{"k1", "k2", "k3"}, Rationale: "cover it"}).
		json(model.StageWebReflect, model.Reflection{IsSufficient: true}).
		json(model.StageKnowledgeReflect, model.Reflection{IsSufficient: true}).
		handle(model.StageFinalize, echoSummaries).
		handle(model.StageDirectAnswer, func(map[string]any) (string, error) { return "Hello there!", nil })
}

// echoSummaries answers with the evidence it was given, citation markers included.
func echoSummaries(vars map[string]any) (string, error) {
	s, _ := vars["Summaries"].(string)
	return "Answer: " + s, nil
}

// recordingWeb returns one grounded sentence per query citing urlFor(query).
type recordingWeb struct {
	mu       sync.Mutex
	queries  []string
	urlFor   func(query string) string
	fail     map[string]bool
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func newRecordingWeb() *recordingWeb {
	return &recordingWeb{
		urlFor: func(q string) string { return "https://example.com/" + q },
		fail:   map[string]bool{},
	}
}

func (w *recordingWeb) Search(ctx context.Context, query string) (*tools.GroundedResult, error) {
	n := w.inFlight.Add(1)
	defer w.inFlight.Add(-1)
	for {
		p := w.peak.Load()
		if n <= p || w.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if w.delay > 0 {
		time.Sleep(w.delay)
	}

	w.mu.Lock()
	w.queries = append(w.queries, query)
	w.mu.Unlock()

	if w.fail[query] {
		return nil, errx.WrapSearch("web", fmt.Errorf("backend down"))
	}
	text := "Finding about " + query + "."
	return &tools.GroundedResult{
		Text:     text,
		Chunks:   []citations.Chunk{{URI: w.urlFor(query), Title: "example.com"}},
		Supports: []citations.Support{{StartIndex: 0, EndIndex: len(text), ChunkIndices: []int{0}}},
	}, nil
}

func (w *recordingWeb) calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.queries...)
}

type recordingKnowledge struct {
	mu       sync.Mutex
	queries  []string
	passages map[string][]tools.Passage
}

func (k *recordingKnowledge) Search(ctx context.Context, query string, topK int) ([]tools.Passage, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.queries = append(k.queries, query)
	return k.passages[query], nil
}

func (k *recordingKnowledge) calls() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.queries...)
}
