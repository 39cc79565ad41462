package model

// Structured results requested from the model as JSON objects.

type GuardrailResult struct {
	IsSafe     bool     `json:"is_safe"`
	Violations []string `json:"violations"`
}

type QueryClassification struct {
	NeedsWebSearch       bool   `json:"needs_web_search"`
	NeedsKnowledgeSearch bool   `json:"needs_knowledge_search"`
	QueryType            string `json:"query_type"`
}

// IntentClarity is the ambiguity verdict. Category is one of
// "clear", "unclear_reference", "missing_context" or "too_broad".
type IntentClarity struct {
	IsClear                bool     `json:"is_clear"`
	NeedsClarification     bool     `json:"needs_clarification"`
	Category               string   `json:"category"`
	ClarificationQuestions []string `json:"clarification_questions"`
}

type SearchQueryList struct {
	Query     []string `json:"query"`
	Rationale string   `json:"rationale"`
}

type Reflection struct {
	IsSufficient    bool     `json:"is_sufficient"`
	KnowledgeGap    string   `json:"knowledge_gap"`
	FollowUpQueries []string `json:"follow_up_queries"`
}

// MaxClarificationQuestions bounds the questions rendered in one clarification turn.
const MaxClarificationQuestions = 3
