package observers

import (
	"context"
	"strings"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/pro-search-agent/server/pkg/logger"
)

type modelStartKey struct{}

// newModelHandler builds a typed ModelCallbackHandler that logs model calls
// and observes their latency.
func newModelHandler() *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ev := logx.Debug().Str("component", info.Name)
			if input != nil {
				ev = ev.Int("messages", len(input.Messages))
				if um := lastUserContent(input.Messages); um != "" {
					ev = ev.Int("prompt_len", len(um))
				}
			}
			ev.Msg("model call start")
			return context.WithValue(ctx, modelStartKey{}, time.Now())
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			observeModelLatency(ctx, info.Name)
			ev := logx.Debug().Str("component", info.Name)
			if output != nil && output.Message != nil {
				ev = ev.Int("completion_len", len(strings.TrimSpace(output.Message.Content)))
			}
			ev.Msg("model call end")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			observeModelLatency(ctx, info.Name)
			modelErrors.WithLabelValues(info.Name).Inc()
			logx.Warn().Err(err).Str("component", info.Name).Msg("model call error")
			return ctx
		},
	}
}

func observeModelLatency(ctx context.Context, name string) {
	if start, ok := ctx.Value(modelStartKey{}).(time.Time); ok {
		modelLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}
