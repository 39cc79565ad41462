package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/pro-search-agent/server/internal/agent/graph/observers"
	"github.com/pro-search-agent/server/internal/agent/graph/parsers"
	"github.com/pro-search-agent/server/internal/agent/graph/prompts"
	"github.com/pro-search-agent/server/internal/agent/model"
	errx "github.com/pro-search-agent/server/internal/core/error"
	logx "github.com/pro-search-agent/server/pkg/logger"
	"github.com/pro-search-agent/server/pkg/retry"
)

// ModelInvoker renders the prompt of a stage with vars and returns the model's text.
// Failures after the retry budget match errx.ErrModelInvocation.
type ModelInvoker interface {
	Generate(ctx context.Context, stage model.Stage, vars map[string]any) (string, error)
}

var errEmptyCompletion = errors.New("empty completion")

// ChatInvoker runs one compiled template -> chat model chain per stage.
type ChatInvoker struct {
	chains     map[model.Stage]compose.Runnable[map[string]any, *schema.Message]
	modelNames map[model.Stage]string
	retry      retry.Policy
}

// NewChatInvoker compiles a chain for every stage in cms.
func NewChatInvoker(ctx context.Context, cms *ChatModels, policy retry.Policy) (*ChatInvoker, error) {
	if cms == nil || len(cms.Models) == 0 {
		return nil, fmt.Errorf("chat models are not properly initialized")
	}

	inv := &ChatInvoker{
		chains:     make(map[model.Stage]compose.Runnable[map[string]any, *schema.Message], len(cms.Models)),
		modelNames: cms.ModelNames,
		retry:      policy,
	}
	for stage, cm := range cms.Models {
		r, err := compileStageChain(ctx, stage, cm)
		if err != nil {
			return nil, err
		}
		inv.chains[stage] = r
	}
	return inv, nil
}

func compileStageChain(ctx context.Context, stage model.Stage, cm einomodel.BaseChatModel) (compose.Runnable[map[string]any, *schema.Message], error) {
	tpl, err := prompts.ChatTemplate(stage)
	if err != nil {
		return nil, err
	}

	chain := compose.NewChain[map[string]any, *schema.Message]().
		AppendChatTemplate(tpl, compose.WithNodeName(string(stage)+"_prompt")).
		AppendChatModel(cm, compose.WithNodeName(string(stage)+"_model"))

	r, err := chain.Compile(ctx, compose.WithGraphName(string(stage)))
	if err != nil {
		logx.Error().Err(err).Str("stage", string(stage)).Msg("Error compiling stage chain")
		return nil, fmt.Errorf("error compiling %s chain: %w", stage, err)
	}
	return r, nil
}

func (inv *ChatInvoker) Generate(ctx context.Context, stage model.Stage, vars map[string]any) (string, error) {
	chain, ok := inv.chains[stage]
	if !ok {
		return "", errx.WrapModel(string(stage), fmt.Errorf("no chat model configured"))
	}

	var content string
	err := retry.Do(ctx, inv.retry, func(ctx context.Context, attempt int) error {
		out, err := chain.Invoke(ctx, vars, compose.WithCallbacks(observers.NewAllCallbacks()))
		if err != nil {
			logx.Warn().Err(err).Str("stage", string(stage)).Int("attempt", attempt).Msg("model call failed")
			return err
		}
		inv.recordUsage(ctx, stage, out)
		if out == nil || strings.TrimSpace(out.Content) == "" {
			logx.Warn().Str("stage", string(stage)).Int("attempt", attempt).Msg("model returned empty content")
			return errEmptyCompletion
		}
		content = out.Content
		return nil
	})
	if err != nil {
		return "", errx.WrapModel(string(stage), err)
	}
	return content, nil
}

// recordUsage computes and logs usage cost and feeds the run's tracker.
func (inv *ChatInvoker) recordUsage(ctx context.Context, stage model.Stage, out *schema.Message) {
	if out == nil || out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
		return
	}
	usage := out.ResponseMeta.Usage
	modelName := inv.modelNames[stage]
	inC, outC, totalC := model.ComputeCost(usage, model.ResolvePricing(modelName))
	if tracker := model.UsageTrackerFrom(ctx); tracker != nil {
		tracker.Add(modelName, usage)
	}
	observers.RecordModelUsage(modelName, usage, totalC)

	logx.Debug().
		Str("stage", string(stage)).
		Str("model", modelName).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Int("total_tokens", usage.TotalTokens).
		Float64("input_cost_usd", inC).
		Float64("output_cost_usd", outC).
		Float64("total_cost_usd", totalC).
		Msg("LLM usage")
}

// InvokeStructured asks the stage for a JSON object and decodes it into T.
// Undecodable output is reported as a model invocation error.
func InvokeStructured[T any](ctx context.Context, inv ModelInvoker, stage model.Stage, vars map[string]any) (*T, error) {
	content, err := inv.Generate(ctx, stage, vars)
	if err != nil {
		return nil, err
	}
	out, err := parsers.ParseStructured[T](content)
	if err != nil {
		logx.Error().Err(err).Str("stage", string(stage)).Msg("Error parsing structured output")
		return nil, errx.WrapModel(string(stage), err)
	}
	return out, nil
}
