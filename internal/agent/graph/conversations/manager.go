package conversations

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/pro-search-agent/server/internal/agent/model"
	errx "github.com/pro-search-agent/server/internal/core/error"
	logx "github.com/pro-search-agent/server/pkg/logger"
)

// Turn is the conversation context a run starts from.
type Turn struct {
	Query              string
	Messages           []*schema.Message
	IntentClarifyCount int
}

type MessagesManager struct {
	conversationRepo model.ConversationRepository
	maxTurns         int
}

func NewMessagesManager(conversationRepo model.ConversationRepository, config model.ConversationConfig) *MessagesManager {
	return &MessagesManager{
		conversationRepo: conversationRepo,
		maxTurns:         config.MaxTurns,
	}
}

// StartTurn returns the recent history with the user's query appended.
// Nothing is persisted until SaveTurn.
func (cm *MessagesManager) StartTurn(ctx context.Context, conversationID string, query string) (*Turn, error) {
	query = strings.TrimSpace(query)
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id is empty")
	}
	if query == "" {
		return nil, errx.New(errx.ErrEmptyQuery, http.StatusBadRequest, "query is empty")
	}

	history, err := cm.conversationRepo.LoadHistory(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msgs := make([]*schema.Message, 0, len(history.Messages)+1)
	msgs = append(msgs, history.Messages...)
	msgs = trimTail(append(msgs, schema.UserMessage(query)), cm.maxTurns)
	logx.Debug().
		Str("conversation_id", conversationID).
		Int("messages", len(history.Messages)).
		Int("kept", len(msgs)).
		Int("intent_clarify_count", history.IntentClarifyCount).
		Msg("Conversation turn started")
	return &Turn{Query: query, Messages: msgs, IntentClarifyCount: history.IntentClarifyCount}, nil
}

// SaveTurn appends the user query and the assistant reply, then stores the clarification counter.
func (cm *MessagesManager) SaveTurn(ctx context.Context, conversationID string, turn *Turn, answer string, intentClarifyCount int) error {
	if err := cm.conversationRepo.AddMessage(ctx, conversationID, schema.UserMessage(turn.Query)); err != nil {
		return err
	}
	if err := cm.conversationRepo.AddMessage(ctx, conversationID, schema.AssistantMessage(answer, nil)); err != nil {
		return err
	}
	return cm.conversationRepo.SetIntentClarifyCount(ctx, conversationID, intentClarifyCount)
}

// ====================== Helper function ======================
func trimTail(messages []*schema.Message, maxTurns int) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		if m != nil {
			out = append(out, m)
		}
	}
	if maxTurns <= 0 || len(out) <= maxTurns {
		return out
	}
	return out[len(out)-maxTurns:]
}
