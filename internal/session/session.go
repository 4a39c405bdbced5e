// Package session keeps per-conversation chat transcripts.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/retirementsolutions/raymondo/internal/llm"
)

// Store interface for transcript management
type Store interface {
	// Append adds messages to the transcript for id and refreshes its TTL.
	Append(ctx context.Context, id string, ttl time.Duration, msgs ...llm.Message) error
	// History returns the transcript for id in append order. Unknown or
	// expired ids yield an empty history, not an error.
	History(ctx context.Context, id string) ([]llm.Message, error)
}

// NewID mints a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}
