package model

// QueryInput is one human turn submitted to the research runner.
// Zero override values fall back to ResearchConfig.
type QueryInput struct {
	ConversationID    string
	Query             string
	InitialQueryCount int
	MaxResearchLoops  *int
}

// RunResult is the outcome of one pipeline run.
type RunResult struct {
	ConversationID    string
	Answer            string
	Sources           []Source
	Stage             Stage
	QueryType         string
	SearchQueries     []string
	ResearchLoopCount int
	Violations        []string
	Usage             UsageSummary
}
