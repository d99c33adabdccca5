package localstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func testBolt(t *testing.T) *BoltStore {
	t.Helper()
	s, err := OpenBolt(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenBolt_CreatesNestedDir(t *testing.T) {
	s, err := OpenBolt(filepath.Join(t.TempDir(), "a", "b", "local.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestOpenBolt_ReopensExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")

	s1, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, s1.Set("sleepHours", "8"))
	require.NoError(t, s1.Close())

	s2, err := OpenBolt(path)
	require.NoError(t, err)
	defer s2.Close()

	v, ok, err := s2.Get("sleepHours")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "8", v)
}

func TestOpenBolt_LockedByAnotherHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")

	held, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	defer held.Close()

	// bbolt uses flock, which is per open file description, so a second
	// open in the same process still contends for the lock.
	start := time.Now()
	_, err = OpenBolt(path)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.GreaterOrEqual(t, time.Since(start), storeOpenTimeout/2)
}

func TestBoltStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return testBolt(t) })
}

func TestBoltStore_SetEmptyKey_Unavailable(t *testing.T) {
	s := testBolt(t)
	err := s.Set("", "x")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestBoltStore_SetMany_AllOrNothing(t *testing.T) {
	s := testBolt(t)
	require.NoError(t, s.Set("sleepHours", "7"))

	// bbolt rejects empty keys, which aborts the whole transaction.
	err := s.SetMany(map[string]string{"sleepHours": "8", "": "bad"})
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))

	assert.Equal(t, "7", GetOr(s, "sleepHours", ""))
}

func TestBoltStore_ClosedStore_Unavailable(t *testing.T) {
	s, err := OpenBolt(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, _, err = s.Get("sleepHours")
	assert.True(t, IsUnavailable(err))

	assert.True(t, IsUnavailable(s.Set("sleepHours", "8")))
	assert.Equal(t, "default", GetOr(s, "sleepHours", "default"))
}
