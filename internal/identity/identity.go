// Package identity models who a sync request acts for. A user is known
// by exactly one of two schemes: a primary account ID issued by this
// service, or a secondary ID derived from a separately authenticated
// Google account. The two are never mixed within a single request.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Kind names an identity scheme.
type Kind string

const (
	KindPrimary   Kind = "primary"
	KindSecondary Kind = "secondary"
)

// HeaderGoogleToken carries the Google OAuth access token used for the
// secondary scheme.
const HeaderGoogleToken = "X-Google-Access-Token"

// Identity is a resolved user: Primary(id) or Secondary(id).
type Identity struct {
	Kind Kind
	ID   string
}

// Primary returns a primary-scheme identity.
func Primary(id string) Identity { return Identity{Kind: KindPrimary, ID: id} }

// Secondary returns a secondary-scheme identity.
func Secondary(id string) Identity { return Identity{Kind: KindSecondary, ID: id} }

// Valid reports whether the identity has a known scheme and an ID.
func (i Identity) Valid() bool {
	return (i.Kind == KindPrimary || i.Kind == KindSecondary) && i.ID != ""
}

// Key is the storage key for the identity's record. Keys of the two
// schemes never collide.
func (i Identity) Key() string {
	return string(i.Kind) + ":" + i.ID
}

func (i Identity) String() string { return i.Key() }

// ParseKey is the inverse of Key.
func ParseKey(key string) (Identity, error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok {
		return Identity{}, fmt.Errorf("identity key %q: missing scheme", key)
	}

	ident := Identity{Kind: Kind(kind), ID: id}
	if !ident.Valid() {
		return Identity{}, fmt.Errorf("identity key %q: unknown scheme or empty id", key)
	}

	return ident, nil
}

// Credential is what a client holds to prove an identity: which scheme
// it belongs to and the bearer token for it.
type Credential struct {
	Kind  Kind   `json:"kind"`
	Token string `json:"token"`
}

// Apply attaches the credential to an outgoing request. A request never
// carries both schemes.
func (c Credential) Apply(h http.Header) {
	switch c.Kind {
	case KindSecondary:
		h.Set(HeaderGoogleToken, c.Token)
	default:
		h.Set("Authorization", "Bearer "+c.Token)
	}
}

// Provider reports the credential of the currently signed-in user. A nil
// credential with a nil error means nobody is signed in.
type Provider interface {
	Current(ctx context.Context) (*Credential, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (*Credential, error)

func (f ProviderFunc) Current(ctx context.Context) (*Credential, error) { return f(ctx) }

// Static returns a Provider that always reports cred. A nil cred means
// signed out.
func Static(cred *Credential) Provider {
	return ProviderFunc(func(context.Context) (*Credential, error) {
		if cred == nil {
			return nil, nil
		}

		c := *cred

		return &c, nil
	})
}
