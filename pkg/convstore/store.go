// Package convstore holds short-lived per-conversation context: a bounded,
// sliding-TTL turn history per (agent, customer) key, plus the short-TTL
// result mailbox the pipeline hands results through.
package convstore

import (
	"context"
	"fmt"
	"time"
)

// Key identifies one logical conversation.
type Key struct {
	AgentID    string
	CustomerID string
}

func (k Key) String() string {
	return fmt.Sprintf("session:%s:%s", k.AgentID, k.CustomerID)
}

// ResultKey is the mailbox slot for one processed message.
func ResultKey(k Key, msgID string) string {
	return fmt.Sprintf("ai_result:%s:%s:%s", k.AgentID, k.CustomerID, msgID)
}

// Turn is one entry in a conversation history. Appended only, never mutated.
type Turn struct {
	Body       string    `json:"content"`
	IsCustomer bool      `json:"from_customer"`
	Kind       string    `json:"msg_type"`
	RecordedAt time.Time `json:"timestamp"`
}

// Store is the conversation-context contract the pipeline depends on.
// Implementations must provide per-key sequential consistency: concurrent
// appends to the same key must not lose turns. No cross-key ordering is
// guaranteed.
type Store interface {
	// Append pushes a turn, truncates to the bound and resets the TTL.
	Append(ctx context.Context, key Key, turn Turn) error

	// AppendOnce appends only if msgID has not been processed for this key
	// yet, atomically recording the id. Returns whether the turn was
	// appended. Retried units of work use this to avoid duplicate turns.
	AppendOnce(ctx context.Context, key Key, msgID string, turn Turn) (bool, error)

	// History returns the bounded turn list, oldest first; empty if the
	// record is missing or expired.
	History(ctx context.Context, key Key) ([]Turn, error)

	// Clear evicts a conversation record explicitly.
	Clear(ctx context.Context, key Key) error

	// PublishResult writes a serialized result blob to a mailbox slot.
	PublishResult(ctx context.Context, mailboxKey string, payload []byte, ttl time.Duration) error

	// TakeResult removes and returns a mailbox slot, reporting presence.
	TakeResult(ctx context.Context, mailboxKey string) ([]byte, bool, error)
}
