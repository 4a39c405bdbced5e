package redis_session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/retirementsolutions/raymondo/internal/llm"
	"github.com/retirementsolutions/raymondo/internal/session"
)

type Store struct {
	client *redis.Client
}

func NewRedisTranscriptStore(addr, password string, db int) session.Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Store{client: rdb}
}

func transcriptKey(id string) string {
	return fmt.Sprintf("transcript:%s", id)
}

func (store *Store) Append(ctx context.Context, id string, ttl time.Duration, msgs ...llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	key := transcriptKey(id)
	payloads := make([]interface{}, len(msgs))
	for i, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode transcript message: %w", err)
		}
		payloads[i] = data
	}
	pipe := store.client.TxPipeline()
	pipe.RPush(ctx, key, payloads...)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append transcript %s: %w", id, err)
	}
	return nil
}

func (store *Store) History(ctx context.Context, id string) ([]llm.Message, error) {
	vals, err := store.client.LRange(ctx, transcriptKey(id), 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("read transcript %s: %w", id, err)
	}
	msgs := make([]llm.Message, 0, len(vals))
	for _, val := range vals {
		var m llm.Message
		if err := json.Unmarshal([]byte(val), &m); err != nil {
			return nil, fmt.Errorf("decode transcript message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
