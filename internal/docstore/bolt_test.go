package docstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/focus-sync/internal/document"
	"github.com/alexjbarnes/focus-sync/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBolt(t *testing.T) *BoltStore {
	t.Helper()

	s, err := OpenBolt(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestBoltStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return openTestBolt(t) })
}

func TestBoltStore_EmptyPath(t *testing.T) {
	_, err := OpenBolt("")
	assert.Error(t, err)
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "docs.db")

	s, err := OpenBolt(path)
	require.NoError(t, err)

	_, err = s.Put(context.Background(), identity.Primary("u1"), document.Document{"sleepHours": "8"}, "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenBolt(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(context.Background(), identity.Primary("u1"))
	require.NoError(t, err)
	assert.Equal(t, "8", got.Document["sleepHours"])
}

func TestBoltStore_LaterPutWins(t *testing.T) {
	s := openTestBolt(t)
	id := identity.Primary("u1")
	clock := time.Date(2025, 8, 11, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	_, err := s.Put(context.Background(), id, document.Document{"sleepHours": "8", "miscHours": "1"}, "device-a")
	require.NoError(t, err)

	clock = clock.Add(time.Second)

	_, err = s.Put(context.Background(), id, document.Document{"timeFormat": "24h"}, "device-b")
	require.NoError(t, err)

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, document.Document{"timeFormat": "24h"}, got.Document)
	assert.Equal(t, "device-b", got.Device)
	assert.True(t, clock.Equal(got.UpdatedAt))
}

func TestOpen_SelectsBackend(t *testing.T) {
	s, err := Open(context.Background(), Options{Path: filepath.Join(t.TempDir(), "docs.db")})
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &BoltStore{}, s)

	_, err = Open(context.Background(), Options{Backend: "dynamo"})
	assert.ErrorContains(t, err, "dynamo")

	_, err = Open(context.Background(), Options{Backend: BackendPostgres})
	assert.ErrorContains(t, err, "DATABASE_URL")

	_, err = Open(context.Background(), Options{Backend: BackendRedis})
	assert.ErrorContains(t, err, "REDIS_URL")
}
