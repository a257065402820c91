// Package redisstore keeps collections in Redis. Each document is a hash, each
// collection an ordered set of ids, and every write is announced on a pub/sub channel
// so that subscribers can reload.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"eventhub/internal/provider"
)

const keyPrefix = "eventhub:"

func docKey(collection, id string) string { return keyPrefix + collection + ":doc:" + id }
func idsKey(collection string) string { return keyPrefix + collection + ":ids" }
func seqKey(collection string) string { return keyPrefix + collection + ":seq" }
func changesChannel(collection string) string {
	return keyPrefix + collection + ":changes"
}
func uniqueKey(collection, field, value string) string {
	return keyPrefix + collection + ":unique:" + field + ":" + value
}

// Store is a provider.Provider backed by a Redis client.
type Store struct {
	logger *slog.Logger
	client *redis.Client
	newID  func() string

	mu      sync.Mutex
	streams map[*provider.Stream]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// New wraps client. The caller keeps ownership of the client.
func New(logger *slog.Logger, client *redis.Client) *Store {
	return &Store{
		logger:  logger,
		client:  client,
		newID:   uuid.NewString,
		streams: make(map[*provider.Stream]struct{}),
	}
}

// list loads every document of collection in insertion order.
func (s *Store) list(ctx context.Context, collection string) ([]provider.Document, error) {
	ids, err := s.client.ZRange(ctx, idsKey(collection), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	if len(ids) == 0 {
		return []provider.Document{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, docKey(collection, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", collection, err)
	}

	docs := make([]provider.Document, 0, len(ids))
	for i, id := range ids {
		values := cmds[i].Val()
		if len(values) == 0 {
			continue
		}
		docs = append(docs, provider.Document{ID: id, Fields: decodeHash(values)})
	}
	return docs, nil
}

// Subscribe listens on the collection's change channel and delivers a full reload
// after every announced write.
func (s *Store) Subscribe(ctx context.Context, collection string) (provider.Subscription, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, provider.ErrClosed
	}

	pubsub := s.client.Subscribe(ctx, changesChannel(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", collection, err)
	}
	docs, err := s.list(ctx, collection)
	if err != nil {
		pubsub.Close()
		return nil, err
	}

	var stream *provider.Stream
	stream = provider.NewStream(func() {
		pubsub.Close()
		s.mu.Lock()
		delete(s.streams, stream)
		s.mu.Unlock()
	})
	s.mu.Lock()
	s.streams[stream] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	stream.Publish(provider.Snapshot{Docs: docs, ReadAt: time.Now().UTC()})

	go func() {
		defer s.wg.Done()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				stream.Close()
				return
			case <-stream.Done():
				return
			case _, ok := <-messages:
				if !ok {
					stream.Fail(errors.New("redis change channel closed"))
					return
				}
			}
			docs, err := s.list(ctx, collection)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("Failed to reload collection", "collection", collection, "error", err)
				}
				continue
			}
			stream.Publish(provider.Snapshot{Docs: docs, ReadAt: time.Now().UTC()})
		}
	}()
	return stream, nil
}

// Query loads the collection and keeps the documents matching every filter.
func (s *Store) Query(ctx context.Context, collection string, filters ...provider.Filter) ([]provider.Document, error) {
	docs, err := s.list(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]provider.Document, 0, len(docs))
	for _, d := range docs {
		if provider.Matches(d, filters) {
			out = append(out, d)
		}
	}
	return out, nil
}

// resolve encodes fields for a hash, replacing ServerTimestamp with the Redis clock.
func (s *Store) resolve(ctx context.Context, fields provider.Fields) (map[string]any, error) {
	var now time.Time
	for _, v := range fields {
		if provider.IsServerTimestamp(v) {
			t, err := s.client.Time(ctx).Result()
			if err != nil {
				return nil, fmt.Errorf("failed to read server time: %w", err)
			}
			now = t
			break
		}
	}
	return encodeHash(fields, now), nil
}

// write stores fields and announces the change. Inserts move the id to the end of the
// collection order; merges keep an existing position.
func (s *Store) write(ctx context.Context, collection, id string, fields provider.Fields, insert bool) error {
	values, err := s.resolve(ctx, fields)
	if err != nil {
		return err
	}
	seq, err := s.client.Incr(ctx, seqKey(collection)).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate sequence for %s: %w", collection, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(values) > 0 {
			pipe.HSet(ctx, docKey(collection, id), values)
		}
		member := redis.Z{Score: float64(seq), Member: id}
		if insert {
			pipe.ZAdd(ctx, idsKey(collection), member)
		} else {
			pipe.ZAddNX(ctx, idsKey(collection), member)
		}
		pipe.Publish(ctx, changesChannel(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, id, err)
	}
	return nil
}

// Insert stores fields under a new random id.
func (s *Store) Insert(ctx context.Context, collection string, fields provider.Fields) (string, error) {
	id := s.newID()
	if err := s.write(ctx, collection, id, fields, true); err != nil {
		return "", err
	}
	return id, nil
}

// InsertUnique claims value with SETNX before inserting. The claim is released when the
// insert fails.
func (s *Store) InsertUnique(ctx context.Context, collection, field, value string, fields provider.Fields) (string, error) {
	id := s.newID()
	key := uniqueKey(collection, field, value)
	ok, err := s.client.SetNX(ctx, key, id, 0).Result()
	if err != nil {
		return "", fmt.Errorf("failed to claim %s=%q: %w", field, value, err)
	}
	if !ok {
		return "", fmt.Errorf("%s %s=%q: %w", collection, field, value, provider.ErrConflict)
	}
	if err := s.write(ctx, collection, id, fields, true); err != nil {
		if delErr := s.client.Del(ctx, key).Err(); delErr != nil {
			s.logger.Error("Failed to release unique claim", "key", key, "error", delErr)
		}
		return "", err
	}
	return id, nil
}

// UpsertMerge sets the given hash fields, creating the document when missing.
func (s *Store) UpsertMerge(ctx context.Context, collection, id string, fields provider.Fields) error {
	return s.write(ctx, collection, id, fields, false)
}

// Delete removes a document. Deleting an absent document is not an error.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, docKey(collection, id))
		pipe.ZRem(ctx, idsKey(collection), id)
		pipe.Publish(ctx, changesChannel(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Close ends every subscription. The Redis client is left open.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	streams := make([]*provider.Stream, 0, len(s.streams))
	for st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	for _, st := range streams {
		st.Close()
	}
	s.wg.Wait()
	return nil
}

// encodeHash flattens fields to strings. Times and ServerTimestamp become RFC 3339.
func encodeHash(fields provider.Fields, now time.Time) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch v := v.(type) {
		case string:
			out[k] = v
		case time.Time:
			out[k] = v.UTC().Format(time.RFC3339Nano)
		default:
			if provider.IsServerTimestamp(v) {
				out[k] = now.UTC().Format(time.RFC3339Nano)
				continue
			}
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

func decodeHash(values map[string]string) provider.Fields {
	out := make(provider.Fields, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
