package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis"
)

// RedisStore persists recorder events as a per-call list of JSON blobs,
// grounded on xpanvictor-xarvis's GormConversationrepo (its
// UserMsgListKey/RPush-equivalent pattern of one Redis key per owning
// entity holding a running list of JSON-marshaled entries). go-redis v6's
// client calls don't thread ctx through (the library predates
// context-aware commands), so ctx is accepted for interface conformance
// and cancellation is left to the caller's own deadline handling.
type RedisStore struct {
	rc  *redis.Client
	ttl time.Duration
}

// NewRedisStore builds a RedisStore. ttl, if non-zero, is applied to each
// call's event-list key after every write so abandoned calls don't
// accumulate forever.
func NewRedisStore(rc *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rc: rc, ttl: ttl}
}

func eventListKey(callID string) string {
	return fmt.Sprintf("call:%s:events", callID)
}

// RecordEvent appends e's JSON encoding to its call's event list.
func (s *RedisStore) RecordEvent(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("recorder: marshal event: %w", err)
	}

	key := eventListKey(e.CallID)
	if err := s.rc.RPush(key, data).Err(); err != nil {
		return fmt.Errorf("recorder: rpush: %w", err)
	}
	if s.ttl > 0 {
		if err := s.rc.Expire(key, s.ttl).Err(); err != nil {
			return fmt.Errorf("recorder: expire: %w", err)
		}
	}
	return nil
}
