// Package docstore holds one synchronized document per user identity.
// Every backend replaces the whole document on Put and keeps no
// history: the most recent Put wins.
package docstore

import (
	"context"
	"fmt"

	"github.com/alexjbarnes/focus-sync/internal/document"
	apperr "github.com/alexjbarnes/focus-sync/internal/errors"
	"github.com/alexjbarnes/focus-sync/internal/identity"
)

// ErrNotFound is returned by Get when the identity has no document.
var ErrNotFound = apperr.ErrNotFound

// Store is a remote document backend.
type Store interface {
	// Get returns the identity's record or an error wrapping ErrNotFound.
	Get(ctx context.Context, id identity.Identity) (document.Record, error)

	// Put replaces the identity's document and stamps it with the
	// current time. device may be empty.
	Put(ctx context.Context, id identity.Identity, doc document.Document, device string) (document.Record, error)

	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	BackendBolt     Backend = "bolt"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend     Backend
	Path        string
	DatabaseURL string
	RedisURL    string
}

// Open returns the backend named by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendBolt, "":
		return OpenBolt(opts.Path)
	case BackendPostgres:
		return OpenPostgres(ctx, opts.DatabaseURL)
	case BackendRedis:
		client, err := ConnectRedis(ctx, opts.RedisURL)
		if err != nil {
			return nil, err
		}

		return NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

func checkIdentity(id identity.Identity) error {
	if !id.Valid() {
		return fmt.Errorf("invalid identity %q", id.Key())
	}

	return nil
}
