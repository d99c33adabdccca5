package docstore

import (
	"context"
	"testing"

	"github.com/alexjbarnes/focus-sync/internal/document"
	"github.com/alexjbarnes/focus-sync/internal/identity"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := ConnectRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)

	s := NewRedisStore(client)
	t.Cleanup(func() { s.Close() })

	return s, mr
}

func TestRedisStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, _ := setupTestRedis(t)
		return s
	})
}

func TestRedisStore_HashLayout(t *testing.T) {
	s, mr := setupTestRedis(t)

	_, err := s.Put(context.Background(), identity.Secondary("1098"), document.Document{"sleepHours": "8"}, "phone")
	require.NoError(t, err)

	key := "focus-sync:doc:secondary:1098"
	assert.Equal(t, `{"sleepHours":"8"}`, mr.HGet(key, "data"))
	assert.Equal(t, "phone", mr.HGet(key, "device"))
	assert.NotEmpty(t, mr.HGet(key, "updated_at"))
}

func TestRedisStore_CorruptTimestamp(t *testing.T) {
	s, mr := setupTestRedis(t)

	mr.HSet("focus-sync:doc:primary:u1", "data", "{}", "updated_at", "yesterday")

	_, err := s.Get(context.Background(), identity.Primary("u1"))
	assert.ErrorContains(t, err, "timestamp")
}

func TestRedisStore_Ping(t *testing.T) {
	s, mr := setupTestRedis(t)
	require.NoError(t, s.Ping(context.Background()))

	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}

func TestConnectRedis_BadURL(t *testing.T) {
	_, err := ConnectRedis(context.Background(), "not-a-url://")
	assert.ErrorContains(t, err, "parse redis url")
}
