package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/portfolio-bridge/internal/types"
	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned for unknown or expired session tokens
var ErrSessionNotFound = errors.New("session not found")

const sessionKeyPrefix = "session:"

// SessionStore manages bearer-token sessions in Redis. Sessions expire
// through the Redis TTL; there is no separate sweeper.
type SessionStore struct {
	redis *RedisStore
	ttl   time.Duration
}

// NewSessionStore creates a new session store
func NewSessionStore(redis *RedisStore, ttl time.Duration) *SessionStore {
	return &SessionStore{redis: redis, ttl: ttl}
}

// Create issues a new session token for a user
func (s *SessionStore) Create(ctx context.Context, userID string) (*types.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &types.Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.redis.Set(ctx, sessionKeyPrefix+token, data, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	return session, nil
}

// Get resolves a session token to its session
func (s *SessionStore) Get(ctx context.Context, token string) (*types.Session, error) {
	data, err := s.redis.Get(ctx, sessionKeyPrefix+token)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session types.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

// Delete revokes a session token
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	return s.redis.Del(ctx, sessionKeyPrefix+token)
}

// generateToken returns a 64-character hex token from 32 random bytes
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
