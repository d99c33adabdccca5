package syncengine

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/alexjbarnes/focus-sync/internal/document"
	apperr "github.com/alexjbarnes/focus-sync/internal/errors"
	"github.com/alexjbarnes/focus-sync/internal/identity"
	"github.com/alexjbarnes/focus-sync/internal/localstore"
)

const (
	reconnectMin = 5 * time.Second
	reconnectMax = 5 * time.Minute

	// jitterDivisor sets the random jitter added to each backoff to at
	// most backoff/jitterDivisor.
	jitterDivisor = 2

	reconnectBackoffMultiplier = 2

	// stableAfter is how long a subscription must last before the
	// backoff resets.
	stableAfter = time.Minute
)

// Subscriber opens one realtime subscription scoped to cred and calls fn
// for every delivered record. It returns when the connection ends.
type Subscriber interface {
	Subscribe(ctx context.Context, cred identity.Credential, fn func(document.Record)) error
}

// RunRealtime keeps a realtime subscription open for the signed-in
// identity and applies every delivered record server-wins. The
// credential is re-checked before every (re)connect and whenever the
// stored credential changes, so the subscription never outlives the
// identity it was opened for. While nobody is signed in it waits for a
// credential, then bootstraps before subscribing. It returns ctx.Err()
// on cancellation or the error of a rejected credential.
func (e *Engine) RunRealtime(ctx context.Context, sub Subscriber) error {
	backoff := reconnectMin

	for {
		cred, err := e.awaitCredential(ctx)
		if err != nil {
			return err
		}

		if err := e.Bootstrap(ctx); err != nil {
			e.logger.Warn("realtime: initial pull failed", slog.String("error", err.Error()))
		}

		started := time.Now()
		credChanged, err := e.subscribeOnce(ctx, sub, *cred)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if credChanged {
			e.logger.Debug("realtime: credential changed, resubscribing")
			backoff = reconnectMin

			continue
		}

		if errors.Is(err, apperr.ErrUnauthenticated) {
			return err
		}

		if time.Since(started) >= stableAfter {
			backoff = reconnectMin
		}

		e.logger.Warn("realtime: subscription lost, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("backoff", backoff),
		)

		jitter := time.Duration(rand.Int64N(int64(backoff) / jitterDivisor)) //nolint:gosec // G404: math/rand is fine for reconnect jitter, no security impact

		timer := time.NewTimer(backoff + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = min(backoff*reconnectBackoffMultiplier, reconnectMax)
	}
}

// awaitCredential returns the current credential, blocking while signed
// out until the stored credential keys change or ctx ends.
func (e *Engine) awaitCredential(ctx context.Context) (*identity.Credential, error) {
	for {
		// Watch before checking so a sign-in between the two is not missed.
		changed, unsubscribe := e.watchCredential()

		cred, err := e.credential(ctx)
		if err != nil || cred != nil {
			unsubscribe()
			return cred, err
		}

		e.logger.Info("realtime: signed out, waiting for sign-in")

		select {
		case <-ctx.Done():
			unsubscribe()
			return nil, ctx.Err()
		case <-changed:
			unsubscribe()
		}
	}
}

// watchCredential returns a channel closed on the first mutation of a
// stored credential key, from any origin.
func (e *Engine) watchCredential() (<-chan struct{}, func()) {
	changed := make(chan struct{})

	var once sync.Once

	unsubscribe := e.store.Bus().Subscribe(func(m localstore.Mutation) {
		if m.Key != identity.KeyAuthToken && m.Key != identity.KeyAuthProvider {
			return
		}

		once.Do(func() { close(changed) })
	})

	return changed, unsubscribe
}

// subscribeOnce runs one subscription. It is cancelled early when the
// stored credential keys change, reported by credChanged.
func (e *Engine) subscribeOnce(ctx context.Context, sub Subscriber, cred identity.Credential) (credChanged bool, err error) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	changed, unsubscribe := e.watchCredential()
	defer unsubscribe()

	go func() {
		select {
		case <-changed:
			cancel()
		case <-subCtx.Done():
		}
	}()

	err = sub.Subscribe(subCtx, cred, func(rec document.Record) {
		if err := e.ApplyRemote(subCtx, rec); err != nil {
			e.logger.Warn("realtime: applying update failed", slog.String("error", err.Error()))
		}
	})

	select {
	case <-changed:
		return true, err
	default:
		return false, err
	}
}

func errString(err error) string {
	if err == nil {
		return "subscription ended"
	}

	return err.Error()
}
