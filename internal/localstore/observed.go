package localstore

import (
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Op is the kind of mutation applied to a key.
type Op int

const (
	OpWrite Op = iota
	OpRemove
)

func (o Op) String() string {
	if o == OpRemove {
		return "remove"
	}

	return "write"
}

// ExternalOrigin marks mutations made by another process sharing the
// same underlying storage.
const ExternalOrigin = "external"

// Mutation describes one successful change to a key.
type Mutation struct {
	Key string
	Op  Op
	// Origin identifies the writer: an Observed instance ID, or
	// ExternalOrigin.
	Origin string
	// Remote is set when the write applied data pulled from the remote
	// store rather than a local user action.
	Remote bool
}

// Bus delivers mutations to every subscriber sharing the same storage.
// It plays the role of a cross-tab broadcast channel: every Observed
// writer publishes to it, and every sync engine listens on it.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Mutation)
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Mutation))}
}

// Subscribe registers fn for every published mutation. The returned
// function unsubscribes; calling it more than once is safe.
func (b *Bus) Subscribe(fn func(Mutation)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers m synchronously to every subscriber in subscription
// order. Subscribers must not publish from inside their callback.
func (b *Bus) Publish(m Mutation) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	fns := make([]func(Mutation), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(m)
	}
}

// Observed wraps a Store and publishes every successful mutation to a
// Bus, tagged with this instance's origin. Each open client (tab) gets
// its own Observed over the shared Store.
type Observed struct {
	Store

	bus    *Bus
	origin string
}

// NewObserved wraps store. An empty origin gets a random one.
func NewObserved(store Store, bus *Bus, origin string) *Observed {
	if origin == "" {
		origin = uuid.NewString()
	}

	return &Observed{Store: store, bus: bus, origin: origin}
}

// Origin returns the identifier attached to this instance's mutations.
func (o *Observed) Origin() string { return o.origin }

// Bus returns the bus mutations are published to.
func (o *Observed) Bus() *Bus { return o.bus }

func (o *Observed) Set(key, value string) error {
	if err := o.Store.Set(key, value); err != nil {
		return err
	}

	o.bus.Publish(Mutation{Key: key, Op: OpWrite, Origin: o.origin})

	return nil
}

func (o *Observed) Remove(key string) error {
	if err := o.Store.Remove(key); err != nil {
		return err
	}

	o.bus.Publish(Mutation{Key: key, Op: OpRemove, Origin: o.origin})

	return nil
}

func (o *Observed) SetMany(values map[string]string) error {
	return o.setMany(values, false)
}

// ApplyRemote writes values pulled from the remote store. The resulting
// mutations carry Remote=true so they never schedule an upload.
func (o *Observed) ApplyRemote(values map[string]string) error {
	return o.setMany(values, true)
}

func (o *Observed) setMany(values map[string]string, remote bool) error {
	if err := o.Store.SetMany(values); err != nil {
		return err
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	for _, k := range keys {
		o.bus.Publish(Mutation{Key: k, Op: OpWrite, Origin: o.origin, Remote: remote})
	}

	return nil
}
