package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore provides a Redis-backed implementation of Store and CompletionNotifier.
// Completion is announced on a pub/sub channel per session, so consumers in
// other processes can wait for a transcript without polling.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the time-to-live for transcripts.
// Default is 24 hours. Set to 0 for no expiration.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for Redis keys.
// Default is "voicekit".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a new Redis-backed transcript store.
//
// Example:
//
//	store := NewRedisStore(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    WithTTL(24 * time.Hour),
//	    WithPrefix("myapp"),
//	)
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		ttl:    defaultTTLHours * time.Hour,
		prefix: "voicekit",
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Begin creates the transcript for a session.
func (s *RedisStore) Begin(ctx context.Context, sessionID, mode string, startedAt time.Time) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	data, err := json.Marshal(&Transcript{SessionID: sessionID, Mode: mode, StartedAt: startedAt})
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.metaKey(sessionID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	if !created {
		return nil
	}
	err = s.client.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(startedAt.UnixMilli()),
		Member: sessionID,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis zadd failed: %w", err)
	}
	return nil
}

// Append adds entries to a transcript. Sequence numbers are reserved with
// INCRBY so concurrent writers never collide.
func (s *RedisStore) Append(ctx context.Context, sessionID string, entries ...Entry) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	if len(entries) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	meta := pipe.Exists(ctx, s.metaKey(sessionID))
	done := pipe.Exists(ctx, s.doneKey(sessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	if meta.Val() == 0 {
		return ErrNotFound
	}
	if done.Val() > 0 {
		return ErrCompleted
	}

	last, err := s.client.IncrBy(ctx, s.seqKey(sessionID), int64(len(entries))).Result()
	if err != nil {
		return fmt.Errorf("redis incrby failed: %w", err)
	}
	first := last - int64(len(entries)) + 1

	vals := make([]interface{}, len(entries))
	for i, e := range entries {
		e.Seq = first + int64(i)
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		vals[i] = data
	}

	pipe = s.client.Pipeline()
	pipe.RPush(ctx, s.entriesKey(sessionID), vals...)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.entriesKey(sessionID), s.ttl)
		pipe.Expire(ctx, s.seqKey(sessionID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// Complete marks the transcript finished and publishes the completion.
func (s *RedisStore) Complete(ctx context.Context, sessionID, reason string, at time.Time) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	t, err := s.loadMeta(ctx, sessionID)
	if err != nil {
		return err
	}

	first, err := s.client.SetNX(ctx, s.doneKey(sessionID), at.UnixMilli(), s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	if !first {
		return nil
	}

	n, err := s.client.LLen(ctx, s.entriesKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("redis llen failed: %w", err)
	}
	t.Complete = true
	t.EndedAt = at
	t.EndReason = reason
	meta, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}
	c := Completion{SessionID: sessionID, Reason: reason, Entries: int(n), At: at}
	msg, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal completion: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.metaKey(sessionID), meta, s.ttl)
	pipe.Publish(ctx, s.completionChannel(sessionID), msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// Wait subscribes to the session's completion channel, then checks whether the
// transcript already completed so a completion published before the
// subscription is not missed.
func (s *RedisStore) Wait(ctx context.Context, sessionID string) (Completion, error) {
	if sessionID == "" {
		return Completion{}, ErrInvalidID
	}
	sub := s.client.Subscribe(ctx, s.completionChannel(sessionID))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return Completion{}, fmt.Errorf("redis subscribe failed: %w", err)
	}

	t, err := s.loadMeta(ctx, sessionID)
	switch {
	case err == nil && t.Complete:
		n, err := s.client.LLen(ctx, s.entriesKey(sessionID)).Result()
		if err != nil {
			return Completion{}, fmt.Errorf("redis llen failed: %w", err)
		}
		return Completion{SessionID: sessionID, Reason: t.EndReason, Entries: int(n), At: t.EndedAt}, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return Completion{}, err
	}

	select {
	case msg, ok := <-sub.Channel():
		if !ok {
			return Completion{}, errors.New("redis subscription closed")
		}
		var c Completion
		if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
			return Completion{}, fmt.Errorf("failed to unmarshal completion: %w", err)
		}
		return c, nil
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	}
}

// Load retrieves a transcript with all its entries.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*Transcript, error) {
	if sessionID == "" {
		return nil, ErrInvalidID
	}
	t, err := s.loadMeta(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	vals, err := s.client.LRange(ctx, s.entriesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}
	if len(vals) > 0 {
		t.Entries = make([]Entry, 0, len(vals))
	}
	for _, v := range vals {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
		}
		t.Entries = append(t.Entries, e)
	}
	return t, nil
}

func (s *RedisStore) loadMeta(ctx context.Context, sessionID string) (*Transcript, error) {
	data, err := s.client.Get(ctx, s.metaKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}
	return &t, nil
}

// Delete removes a transcript and its index entry.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	pipe := s.client.Pipeline()
	del := pipe.Del(ctx,
		s.metaKey(sessionID),
		s.entriesKey(sessionID),
		s.seqKey(sessionID),
		s.doneKey(sessionID),
	)
	pipe.ZRem(ctx, s.indexKey(), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns session IDs, newest first. Index entries older than the TTL are pruned.
func (s *RedisStore) List(ctx context.Context, opts ListOptions) ([]string, error) {
	if s.ttl > 0 {
		cutoff := time.Now().Add(-s.ttl).UnixMilli()
		err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", "("+strconv.FormatInt(cutoff, 10)).Err()
		if err != nil {
			return nil, fmt.Errorf("redis zremrangebyscore failed: %w", err)
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), int64(opts.Offset), int64(opts.Offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange failed: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) metaKey(id string) string {
	return fmt.Sprintf("%s:transcript:%s", s.prefix, id)
}

func (s *RedisStore) entriesKey(id string) string {
	return fmt.Sprintf("%s:transcript:%s:entries", s.prefix, id)
}

func (s *RedisStore) seqKey(id string) string {
	return fmt.Sprintf("%s:transcript:%s:seq", s.prefix, id)
}

func (s *RedisStore) doneKey(id string) string {
	return fmt.Sprintf("%s:transcript:%s:done", s.prefix, id)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":transcripts"
}

func (s *RedisStore) completionChannel(id string) string {
	return fmt.Sprintf("%s:completed:%s", s.prefix, id)
}
