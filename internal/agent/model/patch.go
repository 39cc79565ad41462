package model

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Patch is the partial state returned by a stage or a search task.
// The set of patches is closed; State.Merge is the only reducer.
type Patch interface {
	apply(s *State)
}

// GuardrailPatch carries the safety verdict.
type GuardrailPatch struct {
	IsSafe        bool
	Violations    []string
	OriginalInput string
}

// ClassificationPatch carries the search-need verdict.
type ClassificationPatch struct {
	NeedsWebSearch       bool
	NeedsKnowledgeSearch bool
	QueryType            string
}

// ClarificationPatch carries the ambiguity verdict.
type ClarificationPatch struct {
	NeedsClarification bool
	Category           string
	Questions          []string
}

// QueryPatch carries the queries that seed the first wave.
type QueryPatch struct {
	Queries           []string
	InitialQueryCount int
}

// SearchPatch is the output of one search task of a wave. Degraded marks a
// result block that explains a failure instead of carrying evidence.
type SearchPatch struct {
	Kind     SearchKind
	ID       int
	Query    string
	Result   string
	Sources  []Source
	Degraded bool
}

// ReflectionPatch carries the sufficiency verdict and loop bookkeeping.
type ReflectionPatch struct {
	ResearchLoopCount  int
	NumberOfRanQueries int
	IsSufficient       bool
	KnowledgeGap       string
	FollowUpQueries    []string
}

// MessagePatch appends the assistant message of a terminal stage.
// When ReplaceSources is set, SourcesGathered becomes Sources.
// A non-nil IntentClarifyCount overwrites the clarification counter.
type MessagePatch struct {
	Message            *schema.Message
	Sources            []Source
	ReplaceSources     bool
	IntentClarifyCount *int
}

// Merge applies p to the state. Sequence fields concatenate and scalar fields overwrite.
func (s *State) Merge(p Patch) {
	if p == nil {
		return
	}
	p.apply(s)
}

func (p GuardrailPatch) apply(s *State) {
	s.IsSafeInput = p.IsSafe
	s.GuardrailViolations = append([]string(nil), p.Violations...)
	if s.OriginalInput == "" {
		s.OriginalInput = p.OriginalInput
	}
}

func (p ClassificationPatch) apply(s *State) {
	s.NeedsWebSearch = p.NeedsWebSearch
	s.NeedsKnowledgeSearch = p.NeedsKnowledgeSearch
	s.QueryClassification = p.QueryType
}

func (p ClarificationPatch) apply(s *State) {
	s.NeedsClarification = p.NeedsClarification
	s.ClarificationCategory = p.Category
	s.ClarificationQuestions = append([]string(nil), p.Questions...)
}

func (p QueryPatch) apply(s *State) {
	s.GeneratedQueries = append([]string(nil), p.Queries...)
	if p.InitialQueryCount > 0 {
		s.InitialQueryCount = p.InitialQueryCount
	}
}

func (p ReflectionPatch) apply(s *State) {
	if p.ResearchLoopCount > s.ResearchLoopCount {
		s.ResearchLoopCount = p.ResearchLoopCount
	}
	s.NumberOfRanQueries = p.NumberOfRanQueries
	s.IsSufficient = p.IsSufficient
	s.KnowledgeGap = p.KnowledgeGap
	s.FollowUpQueries = append([]string(nil), p.FollowUpQueries...)
}

func (p MessagePatch) apply(s *State) {
	if p.Message != nil {
		s.Messages = append(s.Messages, p.Message)
		s.Answer = p.Message.Content
	}
	if p.ReplaceSources {
		s.SourcesGathered = append([]Source(nil), p.Sources...)
	}
	if p.IntentClarifyCount != nil {
		s.IntentClarifyCount = *p.IntentClarifyCount
	}
}

// apply appends the task's block, its query and its new sources.
// A URL already registered earlier in the run keeps its first token: the
// task's own token is rewritten in the result text and the duplicate source
// is skipped, so one URL maps to one token for the whole run.
func (p SearchPatch) apply(s *State) {
	result := p.Result
	if len(p.Sources) > 0 {
		byURL := make(map[string]string, len(s.SourcesGathered))
		byRef := make(map[string]struct{}, len(s.SourcesGathered))
		for _, src := range s.SourcesGathered {
			if _, ok := byURL[src.Value]; !ok {
				byURL[src.Value] = src.ShortRef
			}
			byRef[src.ShortRef] = struct{}{}
		}
		for _, src := range p.Sources {
			if ref, ok := byURL[src.Value]; ok && ref != src.ShortRef {
				result = strings.ReplaceAll(result, "("+src.ShortRef+")", "("+ref+")")
				continue
			}
			if _, ok := byRef[src.ShortRef]; ok {
				continue
			}
			byURL[src.Value] = src.ShortRef
			byRef[src.ShortRef] = struct{}{}
			s.SourcesGathered = append(s.SourcesGathered, src)
		}
	}

	s.SearchQueries = append(s.SearchQueries, p.Query)
	if p.Kind == SearchKindKnowledge {
		s.KnowledgeResults = append(s.KnowledgeResults, result)
		return
	}
	s.WebResults = append(s.WebResults, result)
}
