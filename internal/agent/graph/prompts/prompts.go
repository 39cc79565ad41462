package prompts

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/pro-search-agent/server/internal/agent/model"
)

//go:embed template/*.txt
var templateFS embed.FS

var templateFiles = map[model.Stage]string{
	model.StageGuardrail:              "template/guardrail.txt",
	model.StageClassify:               "template/classify.txt",
	model.StageClarify:                "template/clarify.txt",
	model.StageGenerateWebQuery:       "template/web_query.txt",
	model.StageGenerateKnowledgeQuery: "template/knowledge_query.txt",
	model.StageWebSearch:              "template/web_search.txt",
	model.StageWebReflect:             "template/reflect.txt",
	model.StageKnowledgeReflect:       "template/knowledge_reflect.txt",
	model.StageFinalize:               "template/answer.txt",
	model.StageDirectAnswer:           "template/direct_answer.txt",
}

// Vars are the values a stage template can reference.
type Vars struct {
	CurrentDate         string
	ResearchTopic       string
	ConversationHistory string
	UserInput           string
	NumberQueries       int
	Summaries           string
}

// Map converts v to the variables map consumed by Eino chat templates.
func (v Vars) Map() map[string]any {
	date := v.CurrentDate
	if date == "" {
		date = CurrentDate(time.Now())
	}
	return map[string]any{
		"CurrentDate":         date,
		"ResearchTopic":       v.ResearchTopic,
		"ConversationHistory": v.ConversationHistory,
		"UserInput":           v.UserInput,
		"NumberQueries":       v.NumberQueries,
		"Summaries":           v.Summaries,
	}
}

// CurrentDate formats t the way templates expect, e.g. "June 02, 2025".
func CurrentDate(t time.Time) string {
	return t.Format("January 02, 2006")
}

// Template returns the raw Go template text of a stage.
func Template(stage model.Stage) (string, error) {
	file, ok := templateFiles[stage]
	if !ok {
		return "", fmt.Errorf("no prompt template for stage %q", stage)
	}
	b, err := templateFS.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read prompt template %s: %w", file, err)
	}
	return string(b), nil
}

// ChatTemplate builds the Eino chat template of a stage: one user message
// rendered with Go template syntax.
func ChatTemplate(stage model.Stage) (prompt.ChatTemplate, error) {
	text, err := Template(stage)
	if err != nil {
		return nil, err
	}
	return prompt.FromMessages(schema.GoTemplate, schema.UserMessage(text)), nil
}

// Render formats the stage template via the Eino prompt component so prompt
// callbacks fire, and returns the rendered text.
func Render(ctx context.Context, stage model.Stage, vars map[string]any) (string, error) {
	tpl, err := ChatTemplate(stage)
	if err != nil {
		return "", err
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("%s prompt render: %w", stage, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%s prompt render: empty result", stage)
	}
	return msgs[0].Content, nil
}
