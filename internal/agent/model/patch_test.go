package model

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenPrefix = "https://vertexaisearch.cloud.google.com/id/"

func TestMergeSearchPatchAppends(t *testing.T) {
	s := NewState([]*schema.Message{schema.UserMessage("q")}, 0)

	s.Merge(SearchPatch{Kind: SearchKindWeb, ID: 0, Query: "a", Result: "ra",
		Sources: []Source{{ShortRef: tokenPrefix + "0-0", Value: "https://a.example", Label: "a"}}})
	s.Merge(SearchPatch{Kind: SearchKindWeb, ID: 1, Query: "b", Result: "rb"})
	s.Merge(SearchPatch{Kind: SearchKindKnowledge, ID: 2, Query: "c", Result: "rc",
		Sources: nil})

	assert.Equal(t, []string{"a", "b", "c"}, s.SearchQueries)
	assert.Equal(t, []string{"ra", "rb"}, s.WebResults)
	assert.Equal(t, []string{"rc"}, s.KnowledgeResults)
	require.Len(t, s.SourcesGathered, 1)
	assert.Equal(t, "https://a.example", s.SourcesGathered[0].Value)
}

func TestMergeSearchPatchReusesTokenForKnownURL(t *testing.T) {
	s := NewState(nil, 0)
	s.Merge(SearchPatch{Kind: SearchKindWeb, ID: 0, Query: "a",
		Result:  "first [a](" + tokenPrefix + "0-0)",
		Sources: []Source{{ShortRef: tokenPrefix + "0-0", Value: "https://same.example"}}})
	s.Merge(SearchPatch{Kind: SearchKindWeb, ID: 1, Query: "b",
		Result: "second [a](" + tokenPrefix + "1-0) and [b](" + tokenPrefix + "1-1)",
		Sources: []Source{
			{ShortRef: tokenPrefix + "1-0", Value: "https://same.example"},
			{ShortRef: tokenPrefix + "1-1", Value: "https://other.example"},
		}})

	require.Len(t, s.SourcesGathered, 2)
	assert.Equal(t, tokenPrefix+"0-0", s.SourcesGathered[0].ShortRef)
	assert.Equal(t, tokenPrefix+"1-1", s.SourcesGathered[1].ShortRef)
	assert.Equal(t, "second [a]("+tokenPrefix+"0-0) and [b]("+tokenPrefix+"1-1)", s.WebResults[1])
}

func TestMergeSearchPatchSkipsDuplicateRefs(t *testing.T) {
	s := NewState(nil, 0)
	src := Source{ShortRef: tokenPrefix + "0-0", Value: "https://a.example"}
	s.Merge(SearchPatch{Kind: SearchKindWeb, Query: "a", Result: "r", Sources: []Source{src, src}})
	assert.Len(t, s.SourcesGathered, 1)
}

func TestMergeReflectionPatchOverwrites(t *testing.T) {
	s := NewState(nil, 0)
	s.Merge(ReflectionPatch{ResearchLoopCount: 1, NumberOfRanQueries: 3, FollowUpQueries: []string{"x", "y"}})
	s.Merge(ReflectionPatch{ResearchLoopCount: 2, NumberOfRanQueries: 5, IsSufficient: true, KnowledgeGap: ""})

	assert.Equal(t, 2, s.ResearchLoopCount)
	assert.Equal(t, 5, s.NumberOfRanQueries)
	assert.True(t, s.IsSufficient)
	assert.Empty(t, s.FollowUpQueries)
}

func TestMergeReflectionPatchNeverDecrementsLoopCount(t *testing.T) {
	s := NewState(nil, 0)
	s.Merge(ReflectionPatch{ResearchLoopCount: 2})
	s.Merge(ReflectionPatch{ResearchLoopCount: 1})
	assert.Equal(t, 2, s.ResearchLoopCount)
}

func TestMergeGuardrailKeepsFirstOriginalInput(t *testing.T) {
	s := NewState(nil, 0)
	s.Merge(GuardrailPatch{IsSafe: true, OriginalInput: "first"})
	s.Merge(GuardrailPatch{IsSafe: false, Violations: []string{"x"}, OriginalInput: "second"})

	assert.Equal(t, "first", s.OriginalInput)
	assert.False(t, s.IsSafeInput)
	assert.Equal(t, []string{"x"}, s.GuardrailViolations)
}

func TestMergeMessagePatch(t *testing.T) {
	s := NewState([]*schema.Message{schema.UserMessage("q")}, 1)
	s.SourcesGathered = []Source{{ShortRef: "r1"}, {ShortRef: "r2"}}
	count := 2

	s.Merge(MessagePatch{
		Message:            schema.AssistantMessage("answer", nil),
		Sources:            []Source{{ShortRef: "r2"}},
		ReplaceSources:     true,
		IntentClarifyCount: &count,
	})

	require.Len(t, s.Messages, 2)
	assert.Equal(t, "answer", s.Answer)
	assert.Equal(t, []Source{{ShortRef: "r2"}}, s.SourcesGathered)
	assert.Equal(t, 2, s.IntentClarifyCount)
}

func TestLatestHumanMessage(t *testing.T) {
	s := NewState([]*schema.Message{
		schema.UserMessage("one"),
		schema.AssistantMessage("reply", nil),
		schema.UserMessage("two"),
		schema.AssistantMessage("reply", nil),
	}, 0)
	assert.Equal(t, "two", s.LatestHumanMessage())
	assert.Equal(t, "", NewState(nil, 0).LatestHumanMessage())
}

func TestUsageTracker(t *testing.T) {
	var tr UsageTracker
	cost := tr.Add("gemini-2.5-pro", &schema.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 100_000, TotalTokens: 1_100_000})
	tr.Add("unknown-model", &schema.TokenUsage{PromptTokens: 10, TotalTokens: 10})
	tr.Add("gemini-2.5-pro", nil)

	assert.InDelta(t, 2.25, cost, 1e-9)
	sum := tr.Summary()
	assert.Equal(t, 2, sum.Calls)
	assert.Equal(t, 1_000_010, sum.PromptTokens)
	assert.InDelta(t, 2.25, sum.TotalCostUSD, 1e-9)
}
