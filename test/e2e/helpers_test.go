package e2e_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/focus-sync/internal/client"
	"github.com/alexjbarnes/focus-sync/internal/docstore"
	"github.com/alexjbarnes/focus-sync/internal/identity"
	"github.com/alexjbarnes/focus-sync/internal/localstore"
	"github.com/alexjbarnes/focus-sync/internal/realtime"
	"github.com/alexjbarnes/focus-sync/internal/server"
	"github.com/alexjbarnes/focus-sync/internal/syncengine"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "e2e-test-secret-value-0123456789abcdef"
	testDebounce = 50 * time.Millisecond

	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// harness is one running focus-sync server.
type harness struct {
	URL    string
	Store  docstore.Store
	Tokens *identity.TokenIssuer
	Hub    *realtime.Hub
}

// newHarness starts a server over store. A nil publisher publishes to
// the server's own hub.
func newHarness(t *testing.T, store docstore.Store, fanout func(hub *realtime.Hub) realtime.Publisher) *harness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	tokens, err := identity.NewTokenIssuer(testSecret)
	require.NoError(t, err)

	hub := realtime.NewHub()

	var publisher realtime.Publisher
	if fanout != nil {
		publisher = fanout(hub)
	}

	srv := httptest.NewServer(server.NewMux(server.MuxConfig{
		Store:     store,
		Resolver:  identity.NewResolver(tokens, nil, logger),
		Hub:       hub,
		Publisher: publisher,
		Logger:    logger,
	}))
	t.Cleanup(srv.Close)

	return &harness{URL: srv.URL, Store: store, Tokens: tokens, Hub: hub}
}

// newBoltHarness starts a server over a temp bolt store.
func newBoltHarness(t *testing.T) *harness {
	t.Helper()

	store, err := docstore.OpenBolt(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return newHarness(t, store, nil)
}

// token issues a primary token for userID.
func (h *harness) token(t *testing.T, userID string) string {
	t.Helper()

	tok, err := h.Tokens.Issue(userID, time.Hour)
	require.NoError(t, err)

	return tok
}

// remoteDoc reads the stored document for userID.
func (h *harness) remoteDoc(t *testing.T, userID string) (map[string]string, bool) {
	t.Helper()

	rec, err := h.Store.Get(context.Background(), identity.Primary(userID))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, false
	}

	require.NoError(t, err)

	return rec.Document, true
}

// device is one client: a local store, its engine and its realtime
// subscriber, talking to a server over HTTP.
type device struct {
	ID     string
	Store  *localstore.Observed
	Engine *syncengine.Engine
	Sub    *realtime.Client
}

// newDevice builds a started device signed in with token. An empty
// token leaves it signed out.
func newDevice(t *testing.T, serverURL, id, token string, debounce time.Duration) *device {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	store := localstore.NewObserved(localstore.NewMemory(), localstore.NewBus(), "")
	if token != "" {
		require.NoError(t, identity.SaveCredential(store, identity.Credential{Kind: identity.KindPrimary, Token: token}))
	}

	e := syncengine.New(syncengine.Config{
		Store:    store,
		Remote:   client.New(serverURL, nil),
		Identity: identity.NewStoreProvider(store),
		Debounce: debounce,
		DeviceID: id,
		Logger:   logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)

	t.Cleanup(func() {
		e.Stop()
		cancel()
	})

	return &device{
		ID:     id,
		Store:  store,
		Engine: e,
		Sub:    realtime.NewClient(serverURL, nil, logger),
	}
}

// runRealtime runs the device's realtime subscription until the test
// ends.
func (d *device) runRealtime(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- d.Engine.RunRealtime(ctx, d.Sub) }()

	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (d *device) get(t *testing.T, key string) string {
	t.Helper()

	v, _, err := d.Store.Get(key)
	require.NoError(t, err)

	return v
}

// waitForSubscribers blocks until hub has n subscribers for userID.
func waitForSubscribers(t *testing.T, hub *realtime.Hub, userID string, n int) {
	t.Helper()

	key := identity.Primary(userID).Key()

	require.Eventually(t, func() bool { return hub.Subscribers(key) == n }, waitFor, tick)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
