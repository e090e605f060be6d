// Package session keeps per-farmer conversational memory in Redis with a
// bounded history, so follow-up questions can lean on recent context without
// the store growing unbounded.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/circuitbreaker"
)

const keyPrefix = "session:"

// Manager stores sessions in Redis behind the shared circuit breaker.
type Manager struct {
	redis      *circuitbreaker.RedisWrapper
	ttl        time.Duration
	maxHistory int
	logger     *zap.Logger
}

// NewManager creates a session manager. maxHistory bounds how many exchanges
// a session retains.
func NewManager(rw *circuitbreaker.RedisWrapper, ttl time.Duration, maxHistory int, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if maxHistory <= 0 {
		maxHistory = 5
	}
	return &Manager{redis: rw, ttl: ttl, maxHistory: maxHistory, logger: logger}
}

// Get loads an existing session.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := m.redis.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

// GetOrCreate loads a session, creating a fresh one if absent.
func (m *Manager) GetOrCreate(ctx context.Context, id, userID string) (*Session, error) {
	s, err := m.Get(ctx, id)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	s = &Session{ID: id, UserID: userID, CreatedAt: now, UpdatedAt: now}
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	m.logger.Debug("Session created", zap.String("session_id", id), zap.String("user_id", userID))
	return s, nil
}

// RecordExchange appends a completed exchange, trimming history to the
// configured bound, and refreshes the session TTL.
func (m *Manager) RecordExchange(ctx context.Context, id string, ex Exchange) error {
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if ex.AskedAt.IsZero() {
		ex.AskedAt = time.Now().UTC()
	}
	s.History = append(s.History, ex)
	if len(s.History) > m.maxHistory {
		s.History = s.History[len(s.History)-m.maxHistory:]
	}
	s.UpdatedAt = time.Now().UTC()
	return m.save(ctx, s)
}

// Delete removes a session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.redis.Del(ctx, keyPrefix+id).Err()
}

func (m *Manager) save(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	if err := m.redis.Set(ctx, keyPrefix+s.ID, raw, m.ttl).Err(); err != nil {
		return fmt.Errorf("store session %s: %w", s.ID, err)
	}
	return nil
}
