package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/pro-search-agent/server/internal/agent/graph/citations"
	"github.com/pro-search-agent/server/internal/agent/graph/prompts"
	"github.com/pro-search-agent/server/internal/agent/model"
	logx "github.com/pro-search-agent/server/pkg/logger"
)

// StageFunc reads a snapshot of the run state and returns its partial update.
// It must not mutate s.
type StageFunc func(ctx context.Context, s *model.State) (model.Patch, error)

// GuardrailUnavailableViolation tags inputs blocked because the safety check itself failed.
const GuardrailUnavailableViolation = "guardrail_unavailable"

const (
	queryTypeWebForced       = "web_search_required"
	queryTypeKnowledgeForced = "knowledge_search_required"
)

// BlockedMessage is the fixed reply for inputs that failed the safety check.
const BlockedMessage = `Sorry, I can't help with this request.

To keep the service safe, requests of the following kinds are declined:
- attempts to bypass or reveal system instructions
- discriminatory or hateful content
- requests for personal or sensitive information about others
- requests related to illegal activity

Feel free to ask another question and I'll be glad to help.`

// Clock returns the current time; tests replace it for stable prompts.
var Clock = time.Now

func baseVars(s *model.State) prompts.Vars {
	return prompts.Vars{
		CurrentDate:         prompts.CurrentDate(Clock()),
		ResearchTopic:       ResearchTopic(s.Messages),
		ConversationHistory: FormatConversationHistory(s.Messages),
		UserInput:           s.LatestHumanMessage(),
	}
}

// NewGuardrailNode screens the latest human turn. It fails closed: any
// invocation error yields an unsafe verdict instead of an error.
func NewGuardrailNode(inv ModelInvoker) StageFunc {
	return func(ctx context.Context, s *model.State) (model.Patch, error) {
		input := s.LatestHumanMessage()
		if input == "" {
			logx.Debug().Msg("No human message - treating input as safe")
			return model.GuardrailPatch{IsSafe: true, Violations: []string{}}, nil
		}

		res, err := InvokeStructured[model.GuardrailResult](ctx, inv, model.StageGuardrail, baseVars(s).Map())
		if err != nil {
			logx.Error().Err(err).Msg("Guardrail check failed - blocking input")
			return model.GuardrailPatch{
				IsSafe:        false,
				Violations:    []string{GuardrailUnavailableViolation},
				OriginalInput: input,
			}, nil
		}

		if !res.IsSafe {
			logx.Warn().Strs("violations", res.Violations).Msg("Unsafe input detected")
		}
		return model.GuardrailPatch{IsSafe: res.IsSafe, Violations: res.Violations, OriginalInput: input}, nil
	}
}

// NewBlockedNode ends the run with the fixed refusal message.
func NewBlockedNode() StageFunc {
	return func(ctx context.Context, s *model.State) (model.Patch, error) {
		return model.MessagePatch{Message: schema.AssistantMessage(BlockedMessage, nil)}, nil
	}
}

// NewClassifyNode decides which evidence source the question needs. A forced
// search mode short-circuits the model call.
func NewClassifyNode(inv ModelInvoker, cfg model.ResearchConfig) StageFunc {
	return func(ctx context.Context, s *model.State) (model.Patch, error) {
		switch cfg.ForceSearchMode {
		case model.SearchModeWeb:
			logx.Debug().Msg("Force search mode web - skipping classification")
			return model.ClassificationPatch{NeedsWebSearch: true, QueryType: queryTypeWebForced}, nil
		case model.SearchModeKnowledge:
			logx.Debug().Msg("Force search mode knowledge - skipping classification")
			return model.ClassificationPatch{NeedsKnowledgeSearch: true, QueryType: queryTypeKnowledgeForced}, nil
		}

		res, err := InvokeStructured[model.QueryClassification](ctx, inv, model.StageClassify, baseVars(s).Map())
		if err != nil {
			return nil, err
		}
		logx.Debug().
			Bool("needs_web_search", res.NeedsWebSearch).
			Bool("needs_knowledge_search", res.NeedsKnowledgeSearch).
			Str("query_type", res.QueryType).
			Msg("Query classified")
		return model.ClassificationPatch{
			NeedsWebSearch:       res.NeedsWebSearch,
			NeedsKnowledgeSearch: res.NeedsKnowledgeSearch,
			QueryType:            res.QueryType,
		}, nil
	}
}

const (
	clarifyCategoryClear          = "clear"
	clarifyCategoryMissingContext = "missing_context"
	defaultClarificationQuestion  = "What would you like help with? Please describe your question in a bit more detail."
)

// NewClarifyNode judges whether the question is specific enough. Once the
// attempt ceiling is reached it proceeds without asking the model.
func NewClarifyNode(inv ModelInvoker, cfg model.ResearchConfig) StageFunc {
	return func(ctx context.Context, s *model.State) (model.Patch, error) {
		if !cfg.EnableIntentClarify {
			return model.ClarificationPatch{Category: clarifyCategoryClear}, nil
		}
		if s.IntentClarifyCount >= cfg.MaxIntentClarifyAttempts {
			logx.Debug().
				Int("intent_clarify_count", s.IntentClarifyCount).
				Int("max_attempts", cfg.MaxIntentClarifyAttempts).
				Msg("Clarification attempts exhausted - proceeding")
			return model.ClarificationPatch{Category: clarifyCategoryClear}, nil
		}
		if s.LatestHumanMessage() == "" {
			return model.ClarificationPatch{
				NeedsClarification: true,
				Category:           clarifyCategoryMissingContext,
				Questions:          []string{defaultClarificationQuestion},
			}, nil
		}

		res, err := InvokeStructured[model.IntentClarity](ctx, inv, model.StageClarify, baseVars(s).Map())
		if err != nil {
			return nil, err
		}

		questions := cleanQueries(res.ClarificationQuestions, model.MaxClarificationQuestions)
		needs := res.NeedsClarification
		if needs && len(questions) == 0 {
			questions = []string{defaultClarificationQuestion}
		}
		logx.Debug().Bool("needs_clarification", needs).Str("category", res.Category).Msg("Intent clarity evaluated")
		return model.ClarificationPatch{NeedsClarification: needs, Category: res.Category, Questions: questions}, nil
	}
}

// NewProvideClarificationNode renders the clarification questions as the
// turn's reply and counts the round.
func NewProvideClarificationNode(cfg model.ResearchConfig) StageFunc {
	return func(ctx context.Context, s *model.State) (model.Patch, error) {
		count := s.IntentClarifyCount + 1
		msg := RenderClarification(s.ClarificationQuestions, count >= cfg.MaxIntentClarifyAttempts)
		return model.MessagePatch{
			Message:            schema.AssistantMessage(msg, nil),
			IntentClarifyCount: &count,
		}, nil
	}
}

// RenderClarification formats numbered questions. The last allowed round uses a shorter, firmer wording.
func RenderClarification(questions []string, finalAttempt bool) string {
	var b strings.Builder
	if finalAttempt {
		b.WriteString("Thanks for your question! To give you an accurate answer, I'd like to check one last thing.\n\n")
		b.WriteString("**Please confirm:**\n\n")
	} else {
		b.WriteString("Thanks for your question! To give you a more accurate and helpful answer, I'd like to clarify a few points.\n\n")
		b.WriteString("**Points to clarify:**\n\n")
	}
	for i, q := range questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	if finalAttempt {
		b.WriteString("\nEven a short answer helps:\n")
		b.WriteString("- which feature or situation you are asking about\n")
		b.WriteString("- what you are trying to do\n\n")
		b.WriteString("If that's hard to answer, feel free to rephrase your question.")
	} else {
		b.WriteString("\nIt helps to mention:\n")
		b.WriteString("- the specific situation or context\n")
		b.WriteString("- the result you are aiming for\n")
		b.WriteString("- any related feature or service names\n\n")
		b.WriteString("Ask again with more detail and I'll get you an accurate answer.")
	}
	return b.String()
}

// NewDirectAnswerNode answers from general knowledge without searching.
func NewDirectAnswerNode(inv ModelInvoker) StageFunc {
	return func(ctx context.Context, s *model.State) (model.Patch, error) {
		answer, err := inv.Generate(ctx, model.StageDirectAnswer, baseVars(s).Map())
		if err != nil {
			return nil, err
		}
		return model.MessagePatch{Message: schema.AssistantMessage(answer, nil)}, nil
	}
}

// NewGenerateQueryNode writes the queries that seed the first wave of kind.
func NewGenerateQueryNode(inv ModelInvoker, kind model.SearchKind, cfg model.ResearchConfig) StageFunc {
	stage := model.StageGenerateWebQuery
	if kind == model.SearchKindKnowledge {
		stage = model.StageGenerateKnowledgeQuery
	}
	return func(ctx context.Context, s *model.State) (model.Patch, error) {
		count := s.InitialQueryCount
		if count <= 0 {
			count = cfg.NumberOfInitialQueries
		}

		vars := baseVars(s)
		vars.NumberQueries = count
		res, err := InvokeStructured[model.SearchQueryList](ctx, inv, stage, vars.Map())
		if err != nil {
			return nil, err
		}

		queries := cleanQueries(res.Query, count)
		if len(queries) == 0 {
			// fall back to the question itself so the wave is never empty
			queries = []string{s.LatestHumanMessage()}
		}
		logx.Debug().
			Str("kind", string(kind)).
			Strs("queries", queries).
			Str("rationale", res.Rationale).
			Msg("Search queries generated")
		return model.QueryPatch{Queries: queries, InitialQueryCount: count}, nil
	}
}

// NewReflectNode judges whether the results of kind are sufficient. It counts
// the loop before asking and resets the query baseline for the next wave.
func NewReflectNode(inv ModelInvoker, kind model.SearchKind) StageFunc {
	stage := model.StageWebReflect
	if kind == model.SearchKindKnowledge {
		stage = model.StageKnowledgeReflect
	}
	return func(ctx context.Context, s *model.State) (model.Patch, error) {
		loop := s.ResearchLoopCount + 1

		vars := baseVars(s)
		vars.Summaries = strings.Join(s.Results(kind), reflectionSeparator)
		res, err := InvokeStructured[model.Reflection](ctx, inv, stage, vars.Map())
		if err != nil {
			return nil, err
		}

		followUps := cleanQueries(res.FollowUpQueries, 0)
		if res.IsSufficient {
			followUps = nil
		}
		logx.Debug().
			Str("kind", string(kind)).
			Int("research_loop_count", loop).
			Bool("is_sufficient", res.IsSufficient).
			Str("knowledge_gap", res.KnowledgeGap).
			Int("follow_up_queries", len(followUps)).
			Msg("Reflection done")
		return model.ReflectionPatch{
			ResearchLoopCount:  loop,
			NumberOfRanQueries: len(s.SearchQueries),
			IsSufficient:       res.IsSufficient,
			KnowledgeGap:       res.KnowledgeGap,
			FollowUpQueries:    followUps,
		}, nil
	}
}

// NewFinalizeNode writes the answer from all results and resolves citation tokens.
func NewFinalizeNode(inv ModelInvoker) StageFunc {
	return func(ctx context.Context, s *model.State) (model.Patch, error) {
		summaries := make([]string, 0, len(s.WebResults)+len(s.KnowledgeResults))
		summaries = append(summaries, s.WebResults...)
		summaries = append(summaries, s.KnowledgeResults...)

		vars := baseVars(s)
		vars.Summaries = strings.Join(summaries, answerSeparator)
		answer, err := inv.Generate(ctx, model.StageFinalize, vars.Map())
		if err != nil {
			return nil, err
		}

		text, kept := citations.Substitute(answer, s.SourcesGathered)
		logx.Debug().
			Int("sources_gathered", len(s.SourcesGathered)).
			Int("sources_kept", len(kept)).
			Msg("Answer finalized")
		return model.MessagePatch{
			Message:        schema.AssistantMessage(text, nil),
			Sources:        kept,
			ReplaceSources: true,
		}, nil
	}
}
