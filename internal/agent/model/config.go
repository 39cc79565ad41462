package model

import (
	"fmt"
	"time"

	"github.com/pro-search-agent/server/pkg/retry"
)

// ================ Config ================

// SearchMode forces the classification verdict when not "auto".
type SearchMode string

const (
	SearchModeAuto      SearchMode = "auto"
	SearchModeWeb       SearchMode = "web"
	SearchModeKnowledge SearchMode = "knowledge"
)

// SearchKind tells the two evidence sources apart.
type SearchKind string

const (
	SearchKindWeb       SearchKind = "web"
	SearchKindKnowledge SearchKind = "knowledge"
)

type ConversationConfig struct {
	TTL      time.Duration `envconfig:"CONVERSATION_TTL" default:"15m"`
	MaxTurns int           `envconfig:"CONVERSATION_MAX_TURNS" default:"20"`
}

// ModelConfig selects a Gemini model and its sampling temperature for one stage.
type ModelConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

type ResearchConfig struct {
	QueryGeneratorModel string `envconfig:"QUERY_GENERATOR_MODEL" default:"gemini-2.0-flash"`
	ReflectionModel     string `envconfig:"REFLECTION_MODEL" default:"gemini-2.5-flash"`
	AnswerModel         string `envconfig:"ANSWER_MODEL" default:"gemini-2.5-pro"`
	MaxTokens           int    `envconfig:"MODEL_MAX_TOKENS" default:"8192"`

	NumberOfInitialQueries   int        `envconfig:"NUMBER_OF_INITIAL_QUERIES" default:"3"`
	MaxResearchLoops         int        `envconfig:"MAX_RESEARCH_LOOPS" default:"2"`
	MaxIntentClarifyAttempts int        `envconfig:"MAX_INTENT_CLARIFY_ATTEMPTS" default:"2"`
	ForceSearchMode          SearchMode `envconfig:"FORCE_SEARCH_MODE" default:"auto"`
	EnableIntentClarify      bool       `envconfig:"ENABLE_INTENT_CLARIFY" default:"false"`
	// SearchPrecedence picks the branch when classification flags both kinds.
	SearchPrecedence SearchKind `envconfig:"SEARCH_PRECEDENCE" default:"web"`

	SearchConcurrency int `envconfig:"SEARCH_CONCURRENCY" default:"4"`
	MaxRunSteps       int `envconfig:"MAX_RUN_STEPS" default:"0"`

	Retry retry.Policy
}

type SearchConfig struct {
	WebModel           string        `envconfig:"WEB_SEARCH_MODEL" default:"gemini-2.0-flash"`
	WebTemperature     float32       `envconfig:"WEB_SEARCH_TEMPERATURE" default:"0"`
	WebTimeout         time.Duration `envconfig:"WEB_SEARCH_TIMEOUT" default:"60s"`
	KnowledgeTopK      int           `envconfig:"KNOWLEDGE_TOP_K" default:"10"`
	KnowledgeClass     string        `envconfig:"KNOWLEDGE_CLASS" default:"KnowledgeChunk"`
	KnowledgeTextField string        `envconfig:"KNOWLEDGE_TEXT_FIELD" default:"text"`
	EmbeddingModel     string        `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
}

// DefaultResearchConfig returns the values used when no environment is bound.
func DefaultResearchConfig() ResearchConfig {
	return ResearchConfig{
		QueryGeneratorModel:      "gemini-2.0-flash",
		ReflectionModel:          "gemini-2.5-flash",
		AnswerModel:              "gemini-2.5-pro",
		MaxTokens:                8192,
		NumberOfInitialQueries:   3,
		MaxResearchLoops:         2,
		MaxIntentClarifyAttempts: 2,
		ForceSearchMode:          SearchModeAuto,
		SearchPrecedence:         SearchKindWeb,
		SearchConcurrency:        4,
		Retry:                    retry.DefaultPolicy(),
	}
}

// Validate rejects values the engine cannot run with.
func (c ResearchConfig) Validate() error {
	switch c.ForceSearchMode {
	case SearchModeAuto, SearchModeWeb, SearchModeKnowledge:
	default:
		return fmt.Errorf("invalid force search mode %q", c.ForceSearchMode)
	}
	switch c.SearchPrecedence {
	case SearchKindWeb, SearchKindKnowledge:
	default:
		return fmt.Errorf("invalid search precedence %q", c.SearchPrecedence)
	}
	if c.NumberOfInitialQueries <= 0 {
		return fmt.Errorf("number of initial queries must be positive, got %d", c.NumberOfInitialQueries)
	}
	if c.MaxResearchLoops < 0 {
		return fmt.Errorf("max research loops must not be negative, got %d", c.MaxResearchLoops)
	}
	if c.MaxIntentClarifyAttempts < 0 {
		return fmt.Errorf("max intent clarify attempts must not be negative, got %d", c.MaxIntentClarifyAttempts)
	}
	return nil
}

// StageModels maps every model-backed stage to its model and temperature.
func (c ResearchConfig) StageModels() map[Stage]ModelConfig {
	gen := func(t float32) ModelConfig {
		return ModelConfig{Model: c.QueryGeneratorModel, Temperature: t, MaxTokens: c.MaxTokens}
	}
	return map[Stage]ModelConfig{
		StageGuardrail:              gen(0.1),
		StageClassify:               gen(0.3),
		StageClarify:                gen(0.1),
		StageGenerateWebQuery:       gen(1.0),
		StageGenerateKnowledgeQuery: gen(1.0),
		StageWebReflect:             {Model: c.ReflectionModel, Temperature: 1.0, MaxTokens: c.MaxTokens},
		StageKnowledgeReflect:       {Model: c.ReflectionModel, Temperature: 1.0, MaxTokens: c.MaxTokens},
		StageFinalize:               {Model: c.AnswerModel, Temperature: 0, MaxTokens: c.MaxTokens},
		StageDirectAnswer:           {Model: c.AnswerModel, Temperature: 0.7, MaxTokens: c.MaxTokens},
	}
}
