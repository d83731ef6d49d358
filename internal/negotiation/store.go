package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"yaha-bot/internal/domain"
)

var (
	// ErrNotFound means the chat has no pending session.
	ErrNotFound = errors.New("negotiation: session not found")
	// ErrVersionConflict means another unit of work saved the session first.
	ErrVersionConflict = errors.New("negotiation: session version conflict")
)

// Store keeps pending sessions between messages. A chat has at most one
// pending session. Save is conditional on Version and increments it.
type Store interface {
	Pending(ctx context.Context, chatID string) (*domain.NegotiationSession, error)
	Save(ctx context.Context, sess *domain.NegotiationSession) error
	Delete(ctx context.Context, chatID, correlationID string) error
	Expired(ctx context.Context, now time.Time) ([]*domain.NegotiationSession, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.NegotiationSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*domain.NegotiationSession)}
}

func (m *MemoryStore) Pending(_ context.Context, chatID string) (*domain.NegotiationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s)
}

func (m *MemoryStore) Save(_ context.Context, sess *domain.NegotiationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[sess.ChatID]
	switch {
	case ok && cur.CorrelationID != sess.CorrelationID:
		return fmt.Errorf("%w: chat %s already has session %s", ErrVersionConflict, sess.ChatID, cur.CorrelationID)
	case ok && cur.Version != sess.Version:
		return fmt.Errorf("%w: have %d, stored %d", ErrVersionConflict, sess.Version, cur.Version)
	case !ok && sess.Version != 0:
		return fmt.Errorf("%w: session %s was removed", ErrVersionConflict, sess.CorrelationID)
	}
	sess.Version++
	stored, err := clone(sess)
	if err != nil {
		sess.Version--
		return err
	}
	m.sessions[sess.ChatID] = stored
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, chatID, correlationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[chatID]; ok && cur.CorrelationID == correlationID {
		delete(m.sessions, chatID)
	}
	return nil
}

func (m *MemoryStore) Expired(_ context.Context, now time.Time) ([]*domain.NegotiationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.NegotiationSession
	for _, s := range m.sessions {
		if !s.Expired(now) {
			continue
		}
		c, err := clone(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

// clone deep-copies through the session's JSON form, which also carries the record.
func clone(s *domain.NegotiationSession) (*domain.NegotiationSession, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("negotiation: copy session: %w", err)
	}
	var out domain.NegotiationSession
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("negotiation: copy session: %w", err)
	}
	return &out, nil
}
