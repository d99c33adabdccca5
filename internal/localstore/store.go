// Package localstore implements the device-local key-value store that
// holds the user's full application state, plus the observable wrapper
// and broadcast bus used to detect which writes need syncing.
package localstore

import (
	"errors"
	"fmt"

	apperr "github.com/alexjbarnes/focus-sync/internal/errors"
)

// Store is a synchronous string key-value store. Implementations wrap
// every backend failure so that errors.Is(err, ErrStorageUnavailable)
// holds; callers tolerate it by falling back to defaults.
type Store interface {
	// Get returns the stored value. ok is false when the key is absent.
	Get(key string) (value string, ok bool, err error)
	// Set stores value under key, overwriting any previous value.
	Set(key, value string) error
	// Remove deletes key. Removing an absent key is a no-op.
	Remove(key string) error
	// SetMany writes all values or none of them.
	SetMany(values map[string]string) error
	// All returns a snapshot of every key and value.
	All() (map[string]string, error)
	Close() error
}

// ErrStorageUnavailable is returned (wrapped) by every backend failure.
var ErrStorageUnavailable = apperr.ErrStorageUnavailable

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// IsUnavailable reports whether err is a storage failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// GetOr returns the stored value for key, or def when the key is absent
// or the store cannot be read.
func GetOr(s Store, key, def string) string {
	v, ok, err := s.Get(key)
	if err != nil || !ok {
		return def
	}

	return v
}
