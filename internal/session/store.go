// Package session keeps step-mode allocation workflows in Redis between jobs.
package session

import (
	"context"
	"errors"
	"time"

	"nomination-workers/internal/allocation"
	apperrors "nomination-workers/internal/common/errors"
	"nomination-workers/internal/common/logger"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "allocation:session:"

// Key returns the Redis key of a run's session.
func Key(runID string) string {
	return keyPrefix + runID
}

// Store saves workflow snapshots as JSON values with a TTL.
type Store struct {
	client redis.Cmdable
	logger logger.Logger
}

func NewStore(client redis.Cmdable, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Store{client: client, logger: log.WithFields(map[string]interface{}{"component": "session-store"})}
}

// Save writes the snapshot under its run id. A zero ttl keeps the key forever.
func (s *Store) Save(ctx context.Context, snap allocation.Snapshot, ttl time.Duration) error {
	data, err := allocation.MarshalSnapshot(snap)
	if err != nil {
		return apperrors.NewSessionStoreFailedError("encode", err)
	}
	if err := s.client.Set(ctx, Key(snap.RunID), data, ttl).Err(); err != nil {
		return apperrors.NewSessionStoreFailedError("set", err)
	}

	s.logger.Debug("Session saved", map[string]interface{}{
		"runId":     snap.RunID,
		"phase":     snap.State.Phase,
		"iteration": snap.State.Iteration,
		"bytes":     len(data),
	})
	return nil
}

// Load returns the snapshot of runID or SESSION_NOT_FOUND.
func (s *Store) Load(ctx context.Context, runID string) (allocation.Snapshot, error) {
	data, err := s.client.Get(ctx, Key(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return allocation.Snapshot{}, apperrors.NewSessionNotFoundError(runID)
	}
	if err != nil {
		return allocation.Snapshot{}, apperrors.NewSessionStoreFailedError("get", err)
	}

	snap, err := allocation.UnmarshalSnapshot(data)
	if err != nil {
		return allocation.Snapshot{}, apperrors.NewSessionStoreFailedError("decode", err)
	}
	return snap, nil
}

// Delete removes the session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, runID string) error {
	if err := s.client.Del(ctx, Key(runID)).Err(); err != nil {
		return apperrors.NewSessionStoreFailedError("delete", err)
	}
	return nil
}
