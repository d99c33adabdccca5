// Package syncengine keeps a device's local document in step with the
// remote copy. It detects relevant local mutations, uploads the whole
// document after a quiet period, merges remote documents into the local
// store and fires local notifications after every merge.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alexjbarnes/focus-sync/internal/document"
	apperr "github.com/alexjbarnes/focus-sync/internal/errors"
	"github.com/alexjbarnes/focus-sync/internal/identity"
	"github.com/alexjbarnes/focus-sync/internal/localstore"
)

// DefaultDebounce is the quiet period before a scheduled upload fires.
const DefaultDebounce = time.Second

// RemoteAPI is the remote document API.
type RemoteAPI interface {
	GetDocument(ctx context.Context, cred identity.Credential) (*document.Record, error)
	PutDocument(ctx context.Context, cred identity.Credential, doc document.Document, device string) error
}

// State is the uploader state.
type State int

const (
	Idle State = iota
	Scheduled
	Uploading
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Uploading:
		return "uploading"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Strategy selects how Pull reconciles an existing remote document.
type Strategy int

const (
	// StrategyServerWins overwrites every local field present remotely.
	StrategyServerWins Strategy = iota

	// StrategyUploadIfAbsent only seeds the remote when it has no
	// document; an existing remote document is left alone.
	StrategyUploadIfAbsent
)

func (s Strategy) String() string {
	if s == StrategyUploadIfAbsent {
		return "upload-if-absent"
	}

	return "server-wins"
}

// Config holds the engine's collaborators.
type Config struct {
	// Store is this instance's view of the local store. Its origin
	// decides which mutations belong to this instance.
	Store    *localstore.Observed
	Remote   RemoteAPI
	Identity identity.Provider

	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration

	// DeviceID is sent with uploads and used to skip realtime echoes
	// of this device's own writes.
	DeviceID string

	Logger *slog.Logger
}

// Engine is one instance's sync state: its upload timer, in-flight flag
// and bootstrap flag. Instances sharing a store do not share state.
type Engine struct {
	store    *localstore.Observed
	remote   RemoteAPI
	ident    identity.Provider
	debounce time.Duration
	deviceID string
	logger   *slog.Logger
	signals  *Signals

	mu           sync.Mutex
	baseCtx      context.Context
	timer        *time.Timer
	gen          uint64
	scheduled    bool
	uploading    bool
	idle         chan struct{} // closed when the running upload returns
	bootstrapped bool
	unsubscribe  func()
}

// New returns an engine. Call Start to begin watching mutations.
func New(cfg Config) *Engine {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:    cfg.Store,
		remote:   cfg.Remote,
		ident:    cfg.Identity,
		debounce: debounce,
		deviceID: cfg.DeviceID,
		logger:   logger,
		signals:  newSignals(),
		baseCtx:  context.Background(),
	}
}

// Signals returns the engine's merge notifications.
func (e *Engine) Signals() *Signals { return e.signals }

// State reports the uploader state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.uploading:
		return Uploading
	case e.scheduled:
		return Scheduled
	default:
		return Idle
	}
}

// Start subscribes the change detector to the store's bus. Background
// uploads run under ctx. Stop undoes Start.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.unsubscribe != nil {
		return
	}

	e.baseCtx = ctx
	e.unsubscribe = e.store.Bus().Subscribe(e.onMutation)
}

// Stop unsubscribes from the bus and cancels a scheduled upload. An
// upload already in flight is left to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}

	e.cancelTimerLocked()
}

// onMutation is the change detector. Only relevant keys written by this
// instance as a local action schedule an upload; merges and writes by
// other instances are informational.
func (e *Engine) onMutation(m localstore.Mutation) {
	if !document.Relevant(m.Key) {
		return
	}

	if m.Remote {
		return
	}

	if m.Origin != e.store.Origin() {
		e.logger.Debug("sync: mutation from another instance",
			slog.String("key", m.Key),
			slog.String("op", m.Op.String()),
			slog.String("origin", m.Origin),
		)

		return
	}

	e.mu.Lock()
	ctx := e.baseCtx
	e.mu.Unlock()

	e.Schedule(ctx)
}

func (e *Engine) credential(ctx context.Context) (*identity.Credential, error) {
	if e.ident == nil {
		return nil, nil
	}

	return e.ident.Current(ctx)
}

// Schedule (re)starts the debounce timer. Without a signed-in identity
// it does nothing.
func (e *Engine) Schedule(ctx context.Context) {
	cred, err := e.credential(ctx)
	if err != nil {
		e.logger.Debug("sync: identity check failed", slog.String("error", err.Error()))
		return
	}

	if cred == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelTimerLocked()

	e.gen++
	gen := e.gen
	e.scheduled = true
	e.timer = time.AfterFunc(e.debounce, func() { e.fire(ctx, gen) })
}

func (e *Engine) cancelTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}

	// A callback that already started sees a newer generation and exits.
	e.gen++
	e.scheduled = false
}

// fire runs when the debounce timer expires.
func (e *Engine) fire(ctx context.Context, gen uint64) {
	e.mu.Lock()

	if gen != e.gen {
		e.mu.Unlock()
		return
	}

	e.timer = nil
	e.scheduled = false

	if e.uploading {
		e.mu.Unlock()
		e.logger.Debug("sync: upload in flight, dropping scheduled upload")

		return
	}

	e.beginUploadLocked()
	e.mu.Unlock()

	err := e.upload(ctx)

	e.endUpload()

	if err != nil {
		e.logger.Warn("sync: background upload failed", slog.String("error", err.Error()))
		return
	}

	e.logger.Debug("sync: background upload complete")
}

// upload sends the whole relevant local document.
func (e *Engine) upload(ctx context.Context) error {
	cred, err := e.credential(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrUnauthenticated, err)
	}

	if cred == nil {
		return apperr.ErrUnauthenticated
	}

	values, err := e.store.All()
	if err != nil {
		return fmt.Errorf("snapshotting local document: %w", err)
	}

	doc := document.Collect(values)

	if err := e.remote.PutDocument(ctx, *cred, doc, e.deviceID); err != nil {
		return err
	}

	e.logger.Info("sync: document uploaded", slog.Int("fields", len(doc)))

	return nil
}

// Upload uploads the local document now, replacing any scheduled
// upload. It fails with ErrUploadInFlight when another upload is
// running.
func (e *Engine) Upload(ctx context.Context) error {
	e.mu.Lock()

	if e.uploading {
		e.mu.Unlock()
		return apperr.ErrUploadInFlight
	}

	e.cancelTimerLocked()
	e.beginUploadLocked()
	e.mu.Unlock()

	defer e.endUpload()

	return e.upload(ctx)
}

func (e *Engine) beginUploadLocked() {
	e.uploading = true
	e.idle = make(chan struct{})
}

func (e *Engine) endUpload() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.uploading = false
	close(e.idle)
	e.idle = nil
}

// Flush waits for an upload already in flight, then uploads immediately
// if one is still scheduled. Short-lived processes call it before
// exiting so a pending change is not lost.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	idle := e.idle
	e.mu.Unlock()

	if idle != nil {
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.mu.Lock()
	pending := e.scheduled
	e.mu.Unlock()

	if !pending {
		return nil
	}

	return e.Upload(ctx)
}

// Pull fetches the remote document and reconciles it with the local
// store according to strategy. When the remote has no document the
// local one is uploaded verbatim. On any failure local data is left
// untouched.
func (e *Engine) Pull(ctx context.Context, strategy Strategy) error {
	cred, err := e.credential(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrUnauthenticated, err)
	}

	if cred == nil {
		return apperr.ErrUnauthenticated
	}

	rec, err := e.remote.GetDocument(ctx, *cred)
	if errors.Is(err, apperr.ErrNotFound) {
		e.logger.Info("sync: no remote document, seeding it from this device")
		return e.Upload(ctx)
	}

	if err != nil {
		return err
	}

	if strategy == StrategyUploadIfAbsent {
		e.logger.Debug("sync: remote document exists, leaving it alone")
		return nil
	}

	return e.merge(*rec)
}

// merge applies rec server-wins: every field in rec overwrites its local
// counterpart in one all-or-nothing write, and local keys absent from rec
// are left alone.
func (e *Engine) merge(rec document.Record) error {
	doc := rec.Document.Sanitize()

	if err := e.store.ApplyRemote(doc); err != nil {
		return fmt.Errorf("applying remote document: %w", err)
	}

	e.logger.Info("sync: remote document applied",
		slog.Int("fields", len(doc)),
		slog.Time("updated_at", rec.UpdatedAt),
	)

	for _, sig := range mergeSignals {
		e.signals.Emit(sig)
	}

	return nil
}

// ApplyRemote merges a record delivered by the realtime channel without
// fetching it again. Echoes of this device's own uploads are skipped.
func (e *Engine) ApplyRemote(_ context.Context, rec document.Record) error {
	if rec.Device != "" && rec.Device == e.deviceID {
		e.logger.Debug("sync: skipping echo of own upload")
		return nil
	}

	return e.merge(rec)
}

// Bootstrap runs one server-wins pull the first time a credential is
// available. Later calls, and calls while signed out, do nothing. A
// failed bootstrap is retried on the next call.
func (e *Engine) Bootstrap(ctx context.Context) error {
	e.mu.Lock()
	done := e.bootstrapped
	e.mu.Unlock()

	if done {
		return nil
	}

	cred, err := e.credential(ctx)
	if err != nil || cred == nil {
		return err
	}

	if err := e.Pull(ctx, StrategyServerWins); err != nil {
		return fmt.Errorf("bootstrap pull: %w", err)
	}

	e.mu.Lock()
	e.bootstrapped = true
	e.mu.Unlock()

	return nil
}
