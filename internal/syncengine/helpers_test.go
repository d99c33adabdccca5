package syncengine

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/focus-sync/internal/document"
	apperr "github.com/alexjbarnes/focus-sync/internal/errors"
	"github.com/alexjbarnes/focus-sync/internal/identity"
	"github.com/alexjbarnes/focus-sync/internal/localstore"
	"github.com/stretchr/testify/require"
)

const testDevice = "device-1"

var testCred = identity.Credential{Kind: identity.KindPrimary, Token: "jwt"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// tab is one engine over a shared store.
type tab struct {
	engine *Engine
	store  *localstore.Observed
}

// newTab builds an engine over base and bus with its own origin.
func newTab(base localstore.Store, bus *localstore.Bus, remote RemoteAPI, ident identity.Provider) *tab {
	store := localstore.NewObserved(base, bus, "")

	e := New(Config{
		Store:    store,
		Remote:   remote,
		Identity: ident,
		Debounce: time.Second,
		DeviceID: testDevice,
		Logger:   discardLogger(),
	})

	return &tab{engine: e, store: store}
}

// newTestEngine returns a started engine over a fresh memory store.
func newTestEngine(t *testing.T, remote RemoteAPI, ident identity.Provider) (*Engine, *localstore.Observed) {
	t.Helper()

	tb := newTab(localstore.NewMemory(), localstore.NewBus(), remote, ident)
	tb.engine.Start(t.Context())
	t.Cleanup(tb.engine.Stop)

	return tb.engine, tb.store
}

func signedIn() identity.Provider { return identity.Static(&testCred) }

func signedOut() identity.Provider { return identity.Static(nil) }

func snapshot(t *testing.T, s localstore.Store) map[string]string {
	t.Helper()

	all, err := s.All()
	require.NoError(t, err)

	return all
}

// fakeRemote is an in-memory remote document store keyed by credential
// token.
type fakeRemote struct {
	mu      sync.Mutex
	docs    map[string]document.Record
	puts    int
	putErr  error
	getErr  error
	devices []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{docs: make(map[string]document.Record)}
}

func (f *fakeRemote) GetDocument(_ context.Context, cred identity.Credential) (*document.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, f.getErr
	}

	rec, ok := f.docs[cred.Token]
	if !ok {
		return nil, apperr.ErrNotFound
	}

	rec.Document = maps.Clone(rec.Document)

	return &rec, nil
}

func (f *fakeRemote) PutDocument(_ context.Context, cred identity.Credential, doc document.Document, device string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.puts++

	if f.putErr != nil {
		return f.putErr
	}

	f.devices = append(f.devices, device)
	f.docs[cred.Token] = document.Record{Document: maps.Clone(doc), UpdatedAt: time.Now(), Device: device}

	return nil
}

func (f *fakeRemote) seed(token string, doc document.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.docs[token] = document.Record{Document: doc, UpdatedAt: time.Now()}
}

func (f *fakeRemote) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.puts
}

func (f *fakeRemote) doc(token string) document.Document {
	f.mu.Lock()
	defer f.mu.Unlock()

	return maps.Clone(f.docs[token].Document)
}

// signalCounter counts emissions per signal.
type signalCounter struct {
	mu     sync.Mutex
	counts map[Signal]int
}

func countSignals(s *Signals) *signalCounter {
	c := &signalCounter{counts: make(map[Signal]int)}

	for _, sig := range []Signal{SignalCalendarChanged, SignalFocusAreasChanged, SignalSyncApplied} {
		s.On(sig, func() {
			c.mu.Lock()
			c.counts[sig]++
			c.mu.Unlock()
		})
	}

	return c
}

func (c *signalCounter) get(sig Signal) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.counts[sig]
}
