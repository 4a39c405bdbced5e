package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/retirementsolutions/raymondo/internal/llm"
	"github.com/retirementsolutions/raymondo/internal/session"
)

type transcript struct {
	msgs      []llm.Message
	expiresAt time.Time
}

type Store struct {
	transcripts map[string]*transcript
	mu          sync.RWMutex
}

func NewInMemoryTranscriptStore() session.Store {
	return &Store{transcripts: make(map[string]*transcript)}
}

func (store *Store) Append(ctx context.Context, id string, ttl time.Duration, msgs ...llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	now := time.Now()
	// Prune here so dead sessions never accumulate; redis does this with
	// key expiry, this store has to do it by hand.
	for key, tr := range store.transcripts {
		if now.After(tr.expiresAt) {
			delete(store.transcripts, key)
		}
	}
	t, ok := store.transcripts[id]
	if !ok {
		t = &transcript{}
		store.transcripts[id] = t
	}
	t.msgs = append(t.msgs, msgs...)
	t.expiresAt = now.Add(ttl)
	return nil
}

func (store *Store) History(ctx context.Context, id string) ([]llm.Message, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	t, ok := store.transcripts[id]
	if !ok || time.Now().After(t.expiresAt) {
		return nil, nil
	}
	out := make([]llm.Message, len(t.msgs))
	copy(out, t.msgs)
	return out, nil
}
