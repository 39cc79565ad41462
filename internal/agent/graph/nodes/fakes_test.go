package nodes

import (
	"context"
	"sync"

	"github.com/pro-search-agent/server/internal/agent/graph/tools"
	"github.com/pro-search-agent/server/internal/agent/model"
)

type fakeInvoker struct {
	mu        sync.Mutex
	responses map[model.Stage][]string
	errs      map[model.Stage]error
	calls     map[model.Stage]int
	vars      map[model.Stage]map[string]any
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		responses: map[model.Stage][]string{},
		errs:      map[model.Stage]error{},
		calls:     map[model.Stage]int{},
		vars:      map[model.Stage]map[string]any{},
	}
}

func (f *fakeInvoker) on(stage model.Stage, responses ...string) *fakeInvoker {
	f.responses[stage] = append(f.responses[stage], responses...)
	return f
}

func (f *fakeInvoker) fail(stage model.Stage, err error) *fakeInvoker {
	f.errs[stage] = err
	return f
}

func (f *fakeInvoker) Generate(ctx context.Context, stage model.Stage, vars map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[stage]++
	f.vars[stage] = vars
	if err := f.errs[stage]; err != nil {
		return "", err
	}
	queue := f.responses[stage]
	if len(queue) == 0 {
		return "", nil
	}
	out := queue[0]
	if len(queue) > 1 {
		f.responses[stage] = queue[1:]
	}
	return out, nil
}

type fakeWeb struct {
	result *tools.GroundedResult
	err    error
}

func (f *fakeWeb) Search(ctx context.Context, query string) (*tools.GroundedResult, error) {
	return f.result, f.err
}

type fakeKnowledge struct {
	passages []tools.Passage
	err      error
	topK     int
}

func (f *fakeKnowledge) Search(ctx context.Context, query string, topK int) ([]tools.Passage, error) {
	f.topK = topK
	return f.passages, f.err
}
