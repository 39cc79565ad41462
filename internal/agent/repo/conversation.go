package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"github.com/pro-search-agent/server/internal/agent/model"
	errx "github.com/pro-search-agent/server/internal/core/error"
	logx "github.com/pro-search-agent/server/pkg/logger"
)

const fieldIntentClarifyCount = "intent_clarify_count"

type RedisConversationRepository struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisConversationRepository(rdb redis.Cmdable, ttl time.Duration) *RedisConversationRepository {
	return &RedisConversationRepository{rdb: rdb, ttl: ttl}
}

func (r *RedisConversationRepository) conversationKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:messages", conversationID)
}

func (r *RedisConversationRepository) sessionKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:session", conversationID)
}

func (r *RedisConversationRepository) AddMessage(ctx context.Context, conversationID string, message *schema.Message) error {
	b, err := json.Marshal(message)
	if err != nil {
		logx.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to marshal message")
		return fmt.Errorf("marshal message: %w", err)
	}
	key := r.conversationKey(conversationID)

	// append message
	if err := r.rdb.RPush(ctx, key, b).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to push message to redis")
		return errx.WrapRedis(err)
	}
	return r.touch(ctx, key)
}

// touch extends the TTL of key.
func (r *RedisConversationRepository) touch(ctx context.Context, key string) error {
	if r.ttl <= 0 {
		return nil
	}
	ok, err := r.rdb.Expire(ctx, key, r.ttl).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to set expire")
		return errx.WrapRedis(err)
	}
	if !ok {
		logx.Warn().Str("key", key).Dur("ttl", r.ttl).Msg("failed to set TTL on conversation key")
	}
	return nil
}

func (r *RedisConversationRepository) LoadHistory(ctx context.Context, conversationID string) (*model.ConversationHistory, error) {
	key := r.conversationKey(conversationID)

	rows, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		logx.Error().Err(err).Str("key", key).Msg("failed to load conversation history from redis")
		return nil, errx.WrapRedis(err)
	}

	msgs := make([]*schema.Message, 0, len(rows))
	for i, s := range rows {
		var m schema.Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			logx.Error().Err(err).Str("conversation_id", conversationID).Int("index", i).Msg("failed to unmarshal message")
			return nil, fmt.Errorf("unmarshal message at index %d: %w", i, err)
		}
		msgs = append(msgs, &m)
	}

	count, err := r.intentClarifyCount(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &model.ConversationHistory{ConversationID: conversationID, Messages: msgs, IntentClarifyCount: count}, nil
}

func (r *RedisConversationRepository) intentClarifyCount(ctx context.Context, conversationID string) (int, error) {
	key := r.sessionKey(conversationID)
	v, err := r.rdb.HGet(ctx, key, fieldIntentClarifyCount).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to load session from redis")
		return 0, errx.WrapRedis(err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logx.Warn().Str("key", key).Str("value", v).Msg("invalid intent clarify count - resetting")
		return 0, nil
	}
	return n, nil
}

func (r *RedisConversationRepository) SetIntentClarifyCount(ctx context.Context, conversationID string, count int) error {
	key := r.sessionKey(conversationID)
	if err := r.rdb.HSet(ctx, key, fieldIntentClarifyCount, count).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to save session to redis")
		return errx.WrapRedis(err)
	}
	return r.touch(ctx, key)
}

func (r *RedisConversationRepository) ClearHistory(ctx context.Context, conversationID string) error {
	keys := []string{r.conversationKey(conversationID), r.sessionKey(conversationID)}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		logx.Error().Err(err).Strs("keys", keys).Msg("failed to delete conversation history from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisConversationRepository) GetMessageCount(ctx context.Context, conversationID string) (int, error) {
	key := r.conversationKey(conversationID)
	n, err := r.rdb.LLen(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to get message count from redis")
		return 0, errx.WrapRedis(err)
	}
	return int(n), nil
}

var _ model.ConversationRepository = (*RedisConversationRepository)(nil)
