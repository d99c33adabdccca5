package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexjbarnes/focus-sync/internal/document"
	"github.com/alexjbarnes/focus-sync/internal/identity"
	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces document hashes.
const redisKeyPrefix = "focus-sync:doc:"

// Hash fields of a stored document.
const (
	fieldData      = "data"
	fieldUpdatedAt = "updated_at"
	fieldDevice    = "device"
)

// ConnectRedis parses redisURL, connects and pings.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required for the redis backend")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return client, nil
}

// RedisStore keeps each document in a hash.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore returns a store using client. Close closes the client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func redisKey(id identity.Identity) string {
	return redisKeyPrefix + id.Key()
}

func (s *RedisStore) Get(ctx context.Context, id identity.Identity) (document.Record, error) {
	if err := checkIdentity(id); err != nil {
		return document.Record{}, err
	}

	fields, err := s.client.HGetAll(ctx, redisKey(id)).Result()
	if err != nil {
		return document.Record{}, fmt.Errorf("reading document for %s: %w", id, err)
	}

	raw, ok := fields[fieldData]
	if !ok {
		return document.Record{}, fmt.Errorf("reading document for %s: %w", id, ErrNotFound)
	}

	rec := document.Record{Device: fields[fieldDevice]}

	if err := json.Unmarshal([]byte(raw), &rec.Document); err != nil {
		return document.Record{}, fmt.Errorf("decoding document for %s: %w", id, err)
	}

	rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields[fieldUpdatedAt])
	if err != nil {
		return document.Record{}, fmt.Errorf("decoding timestamp for %s: %w", id, err)
	}

	return rec, nil
}

func (s *RedisStore) Put(ctx context.Context, id identity.Identity, doc document.Document, device string) (document.Record, error) {
	if err := checkIdentity(id); err != nil {
		return document.Record{}, err
	}

	rec := document.Record{
		Document:  doc.Clone(),
		UpdatedAt: s.now().UTC(),
		Device:    device,
	}

	data, err := json.Marshal(rec.Document)
	if err != nil {
		return document.Record{}, fmt.Errorf("marshalling document: %w", err)
	}

	err = s.client.HSet(ctx, redisKey(id), map[string]any{
		fieldData:      string(data),
		fieldUpdatedAt: rec.UpdatedAt.Format(time.RFC3339Nano),
		fieldDevice:    device,
	}).Err()
	if err != nil {
		return document.Record{}, fmt.Errorf("writing document for %s: %w", id, err)
	}

	return rec, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
