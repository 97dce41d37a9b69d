package convstore

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/kkhouse/wecopilot/pkg/logger"
)

// MemoryStore is the in-process Store implementation. One mutex guards both
// maps; all operations are read-modify-write under it, which gives every key
// sequential consistency. Expiry is lazy on access, with a cron janitor
// reclaiming untouched records.
type MemoryStore struct {
	mu       sync.Mutex
	maxTurns int
	ttl      time.Duration
	records  map[string]*record
	mailbox  map[string]mailboxSlot
}

type record struct {
	turns     []Turn
	processed map[string]struct{}
	expiresAt time.Time
}

type mailboxSlot struct {
	payload   []byte
	expiresAt time.Time
}

func NewMemoryStore(maxTurns int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		maxTurns: maxTurns,
		ttl:      ttl,
		records:  make(map[string]*record),
		mailbox:  make(map[string]mailboxSlot),
	}
}

// live returns the record for key, dropping it first if its TTL elapsed.
// Callers hold s.mu.
func (s *MemoryStore) live(key Key, now time.Time) *record {
	rec, ok := s.records[key.String()]
	if !ok {
		return nil
	}
	if now.After(rec.expiresAt) {
		delete(s.records, key.String())
		return nil
	}
	return rec
}

func (s *MemoryStore) Append(ctx context.Context, key Key, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(key, turn, time.Now())
	return nil
}

func (s *MemoryStore) AppendOnce(ctx context.Context, key Key, msgID string, turn Turn) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	rec := s.live(key, now)
	if rec != nil {
		if _, seen := rec.processed[msgID]; seen {
			// Sliding TTL still refreshes: the conversation is active.
			rec.expiresAt = now.Add(s.ttl)
			return false, nil
		}
	}
	rec = s.appendLocked(key, turn, now)
	rec.processed[msgID] = struct{}{}
	return true, nil
}

func (s *MemoryStore) appendLocked(key Key, turn Turn, now time.Time) *record {
	rec := s.live(key, now)
	if rec == nil {
		rec = &record{processed: make(map[string]struct{})}
		s.records[key.String()] = rec
	}
	rec.turns = append(rec.turns, turn)
	// Strict FIFO eviction by insertion order, independent of RecordedAt.
	if len(rec.turns) > s.maxTurns {
		rec.turns = append([]Turn(nil), rec.turns[len(rec.turns)-s.maxTurns:]...)
	}
	rec.expiresAt = now.Add(s.ttl)
	return rec
}

func (s *MemoryStore) History(ctx context.Context, key Key) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(key, time.Now())
	if rec == nil {
		return []Turn{}, nil
	}
	out := make([]Turn, len(rec.turns))
	copy(out, rec.turns)
	return out, nil
}

func (s *MemoryStore) Clear(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key.String())
	return nil
}

func (s *MemoryStore) PublishResult(ctx context.Context, mailboxKey string, payload []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mailbox[mailboxKey] = mailboxSlot{
		payload:   append([]byte(nil), payload...),
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) TakeResult(ctx context.Context, mailboxKey string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.mailbox[mailboxKey]
	if !ok {
		return nil, false, nil
	}
	delete(s.mailbox, mailboxKey)
	if time.Now().After(slot.expiresAt) {
		return nil, false, nil
	}
	return slot.payload, true, nil
}

// Sweep removes expired conversation records and mailbox slots, returning
// how many of each were reclaimed.
func (s *MemoryStore) Sweep() (records int, slots int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, rec := range s.records {
		if now.After(rec.expiresAt) {
			delete(s.records, k)
			records++
		}
	}
	for k, slot := range s.mailbox {
		if now.After(slot.expiresAt) {
			delete(s.mailbox, k)
			slots++
		}
	}
	return records, slots
}

// RunJanitor sweeps on the given cron schedule until ctx is cancelled.
func (s *MemoryStore) RunJanitor(ctx context.Context, schedule string) {
	gron := gronx.New()
	if !gron.IsValid(schedule) {
		logger.ErrorCF("convstore", "Invalid janitor schedule, janitor disabled",
			map[string]interface{}{"schedule": schedule})
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := gron.IsDue(schedule, time.Now())
			if err != nil || !due {
				continue
			}
			records, slots := s.Sweep()
			if records > 0 || slots > 0 {
				logger.DebugCF("convstore", "Janitor sweep completed",
					map[string]interface{}{"records": records, "mailbox_slots": slots})
			}
		}
	}
}
