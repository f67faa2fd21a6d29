package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bryanwahyu/contract-review/internal/domain/qa"
)

// Verify interface compliance
var (
	_ qa.Store        = (*SessionStore)(nil)
	_ qa.TurnAppender = (*SessionStore)(nil)
)

const (
	sessionPrefix = "qa:session:"
	reviewPrefix  = "qa:review:"

	// maxAppendAttempts bounds optimistic retries when another writer
	// touched the session between WATCH and EXEC.
	maxAppendAttempts = 10
)

// SessionStore keeps Q&A sessions in Redis. Every Save refreshes the TTL, so
// idle sessions expire on their own.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) Save(ctx context.Context, session *qa.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, sessionPrefix+session.ID, data, s.ttl)
	if session.ReviewID != "" {
		pipe.SAdd(ctx, reviewPrefix+session.ReviewID, session.ID)
		pipe.Expire(ctx, reviewPrefix+session.ReviewID, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*qa.Session, error) {
	data, err := s.client.Get(ctx, sessionPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, qa.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session qa.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// AppendTurn appends t under WATCH/MULTI so concurrent appends to the same
// session are never overwritten.
func (s *SessionStore) AppendTurn(ctx context.Context, id string, t qa.Turn) (*qa.Session, error) {
	key := sessionPrefix + id
	var session qa.Session
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return qa.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get session: %w", err)
		}
		session = qa.Session{}
		if err := json.Unmarshal(data, &session); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		session.Append(t)
		out, err := json.Marshal(&session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.ttl)
			if session.ReviewID != "" {
				pipe.Expire(ctx, reviewPrefix+session.ReviewID, s.ttl)
			}
			return nil
		})
		return err
	}

	for range maxAppendAttempts {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &session, nil
	}
	return nil, fmt.Errorf("failed to append turn to session %s: too much contention", id)
}

// Delete is idempotent.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	session, err := s.Get(ctx, id)
	if errors.Is(err, qa.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, sessionPrefix+id)
	if session.ReviewID != "" {
		pipe.SRem(ctx, reviewPrefix+session.ReviewID, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListByReview returns the live sessions opened on a review.
func (s *SessionStore) ListByReview(ctx context.Context, reviewID string) ([]*qa.Session, error) {
	ids, err := s.client.SMembers(ctx, reviewPrefix+reviewID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list review sessions: %w", err)
	}

	var out []*qa.Session
	for _, id := range ids {
		session, err := s.Get(ctx, id)
		if errors.Is(err, qa.ErrNotFound) {
			// expired; drop the stale index entry
			s.client.SRem(ctx, reviewPrefix+reviewID, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}
