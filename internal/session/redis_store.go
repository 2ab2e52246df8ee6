// Package session resolves bearer tokens to authenticated sessions. Session
// records are written to Redis by the external auth provider; this API only
// reads (and, on logout, revokes) them.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a token has no live session.
var ErrNotFound = errors.New("session not found")

// Session is the resolved identity attached to a request.
type Session struct {
	UserID      string    `json:"user_id"`
	WorkspaceID string    `json:"workspace_id"`
	IsAdmin     bool      `json:"is_admin"`
	CreatedAt   time.Time `json:"created_at"`
}

// RedisStore reads session records from Redis, keyed by the SHA-256 of the
// bearer token so raw tokens never land in the store.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "session:"}, nil
}

// NewRedisStoreWithClient wraps an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "session:"}
}

func (s *RedisStore) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return s.prefix + hex.EncodeToString(sum[:])
}

// Save stores a session for a token. In production the auth provider does
// this; the API itself calls it only from tests and local tooling.
func (s *RedisStore) Save(ctx context.Context, token string, sess Session, ttl time.Duration) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := s.client.Set(ctx, s.key(token), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Lookup resolves a bearer token. Unknown and expired tokens are both
// ErrNotFound.
func (s *RedisStore) Lookup(ctx context.Context, token string) (Session, error) {
	payload, err := s.client.Get(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	if sess.UserID == "" {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

// Revoke deletes a session.
func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
