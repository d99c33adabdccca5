package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/alexjbarnes/focus-sync/internal/document"
	"github.com/alexjbarnes/focus-sync/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises behaviour every backend must share.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	t.Helper()

	ctx := context.Background()

	t.Run("missing document is not found", func(t *testing.T) {
		s := open(t)

		_, err := s.Get(ctx, identity.Primary("nobody"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		s := open(t)
		doc := document.Document{
			document.KeySleepHours:       "8",
			document.KeyFocusCategories:  `[{"label":"Study"}]`,
			"focusAreas:week:2025-08-11": `{"Study":3}`,
		}

		put, err := s.Put(ctx, identity.Primary("u1"), doc, "laptop")
		require.NoError(t, err)
		assert.False(t, put.UpdatedAt.IsZero())

		got, err := s.Get(ctx, identity.Primary("u1"))
		require.NoError(t, err)
		assert.Equal(t, doc, got.Document)
		assert.Equal(t, "laptop", got.Device)
		assert.WithinDuration(t, put.UpdatedAt, got.UpdatedAt, time.Millisecond)
	})

	t.Run("put replaces the whole document", func(t *testing.T) {
		s := open(t)
		id := identity.Primary("u1")

		_, err := s.Put(ctx, id, document.Document{"sleepHours": "8", "miscHours": "2"}, "")
		require.NoError(t, err)
		_, err = s.Put(ctx, id, document.Document{"sleepHours": "7"}, "")
		require.NoError(t, err)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, document.Document{"sleepHours": "7"}, got.Document)
	})

	t.Run("identical puts are idempotent in content", func(t *testing.T) {
		s := open(t)
		id := identity.Secondary("1098")
		doc := document.Document{"notes:1": `"hello"`, "sleepHours": "8"}

		first, err := s.Put(ctx, id, doc, "")
		require.NoError(t, err)
		second, err := s.Put(ctx, id, doc, "")
		require.NoError(t, err)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, doc, got.Document)
		assert.Equal(t, first.Document, second.Document)
		assert.False(t, second.UpdatedAt.Before(first.UpdatedAt))
	})

	t.Run("identity schemes never share a record", func(t *testing.T) {
		s := open(t)

		_, err := s.Put(ctx, identity.Primary("same"), document.Document{"sleepHours": "8"}, "")
		require.NoError(t, err)

		_, err = s.Get(ctx, identity.Secondary("same"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("values survive byte for byte", func(t *testing.T) {
		s := open(t)
		raw := `{"b":1,  "a":[2,1]}` + "é\n"

		_, err := s.Put(ctx, identity.Primary("u1"), document.Document{"events": raw}, "")
		require.NoError(t, err)

		got, err := s.Get(ctx, identity.Primary("u1"))
		require.NoError(t, err)
		assert.Equal(t, raw, got.Document["events"])
	})

	t.Run("empty document", func(t *testing.T) {
		s := open(t)

		_, err := s.Put(ctx, identity.Primary("u1"), nil, "")
		require.NoError(t, err)

		got, err := s.Get(ctx, identity.Primary("u1"))
		require.NoError(t, err)
		assert.Empty(t, got.Document)
	})

	t.Run("invalid identity rejected", func(t *testing.T) {
		s := open(t)

		_, err := s.Put(ctx, identity.Identity{}, document.Document{}, "")
		assert.Error(t, err)

		_, err = s.Get(ctx, identity.Primary(""))
		assert.Error(t, err)
	})
}
