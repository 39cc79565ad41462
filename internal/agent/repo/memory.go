package repo

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/pro-search-agent/server/internal/agent/model"
)

// MemoryConversationRepository keeps conversations in process memory.
// It backs the CLI when no Redis URL is configured, and tests.
type MemoryConversationRepository struct {
	mu       sync.RWMutex
	messages map[string][]*schema.Message
	counts   map[string]int
}

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{
		messages: make(map[string][]*schema.Message),
		counts:   make(map[string]int),
	}
}

func (r *MemoryConversationRepository) AddMessage(ctx context.Context, conversationID string, message *schema.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[conversationID] = append(r.messages[conversationID], message)
	return nil
}

func (r *MemoryConversationRepository) LoadHistory(ctx context.Context, conversationID string) (*model.ConversationHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msgs := make([]*schema.Message, len(r.messages[conversationID]))
	copy(msgs, r.messages[conversationID])
	return &model.ConversationHistory{
		ConversationID:     conversationID,
		Messages:           msgs,
		IntentClarifyCount: r.counts[conversationID],
	}, nil
}

func (r *MemoryConversationRepository) ClearHistory(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, conversationID)
	delete(r.counts, conversationID)
	return nil
}

func (r *MemoryConversationRepository) GetMessageCount(ctx context.Context, conversationID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.messages[conversationID]), nil
}

func (r *MemoryConversationRepository) SetIntentClarifyCount(ctx context.Context, conversationID string, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[conversationID] = count
	return nil
}

var _ model.ConversationRepository = (*MemoryConversationRepository)(nil)
