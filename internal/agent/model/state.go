package model

import (
	"github.com/cloudwego/eino/schema"
)

// Stage names a step of the research state machine.
type Stage string

const (
	StageGuardrail              Stage = "guardrail"
	StageBlocked                Stage = "blocked"
	StageClassify               Stage = "classify"
	StageClarify                Stage = "clarify"
	StageProvideClarification   Stage = "provide_clarification"
	StageDirectAnswer           Stage = "direct_answer"
	StageGenerateWebQuery       Stage = "generate_web_query"
	StageGenerateKnowledgeQuery Stage = "generate_knowledge_query"
	StageWebSearch              Stage = "web_search"
	StageKnowledgeSearch        Stage = "knowledge_search"
	StageWebReflect             Stage = "web_reflect"
	StageKnowledgeReflect       Stage = "knowledge_reflect"
	StageFinalize               Stage = "finalize"
	StageEnd                    Stage = "end"
)

// IsTerminal reports whether the stage emits the final message of a run.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageBlocked, StageProvideClarification, StageDirectAnswer, StageFinalize:
		return true
	}
	return false
}

// Source ties a short reference token used in generated text to its full URL.
type Source struct {
	ShortRef string `json:"short_url"`
	Value    string `json:"value"`
	Label    string `json:"label,omitempty"`
}

// State is the per-run record threaded through every stage.
// Concurrency model:
//   - Only the engine mutates State, through Merge, after a stage or a whole
//     search wave has returned.
//   - Stages and search tasks read a snapshot and return a Patch.
type State struct {
	Messages      []*schema.Message
	OriginalInput string

	SearchQueries      []string
	GeneratedQueries   []string
	InitialQueryCount  int
	NumberOfRanQueries int

	WebResults       []string
	KnowledgeResults []string
	SourcesGathered  []Source

	ResearchLoopCount int
	MaxResearchLoops  int
	IsSufficient      bool
	KnowledgeGap      string
	FollowUpQueries   []string

	NeedsWebSearch       bool
	NeedsKnowledgeSearch bool
	QueryClassification  string

	IsSafeInput         bool
	GuardrailViolations []string

	NeedsClarification     bool
	ClarificationCategory  string
	ClarificationQuestions []string
	IntentClarifyCount     int

	// Answer is the content of the final assistant message once a terminal stage ran.
	Answer string
}

// NewState creates the state for one run from the conversation so far.
func NewState(messages []*schema.Message, intentClarifyCount int) *State {
	msgs := make([]*schema.Message, len(messages))
	copy(msgs, messages)
	return &State{
		Messages:           msgs,
		IntentClarifyCount: intentClarifyCount,
	}
}

// LatestHumanMessage returns the content of the last user turn, or "" if none.
func (s *State) LatestHumanMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m != nil && m.Role == schema.User {
			return m.Content
		}
	}
	return ""
}

// Results returns the accumulated result blocks of one kind.
func (s *State) Results(kind SearchKind) []string {
	if kind == SearchKindKnowledge {
		return s.KnowledgeResults
	}
	return s.WebResults
}
