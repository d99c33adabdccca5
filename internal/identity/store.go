package identity

import (
	"context"
	"fmt"

	"github.com/alexjbarnes/focus-sync/internal/localstore"
)

// Local store keys holding the signed-in credential. They sit outside
// the document taxonomy, so signing in or out never triggers a sync.
const (
	KeyAuthProvider = "auth:provider"
	KeyAuthToken    = "auth:token"
)

// StoreProvider reads the credential saved in the local store by
// SaveCredential. Clearing it ends the identity session.
type StoreProvider struct {
	store localstore.Store
}

// NewStoreProvider returns a Provider backed by store.
func NewStoreProvider(store localstore.Store) *StoreProvider {
	return &StoreProvider{store: store}
}

func (p *StoreProvider) Current(context.Context) (*Credential, error) {
	token, ok, err := p.store.Get(KeyAuthToken)
	if err != nil {
		return nil, fmt.Errorf("reading credential: %w", err)
	}

	if !ok || token == "" {
		return nil, nil
	}

	kind := Kind(localstore.GetOr(p.store, KeyAuthProvider, string(KindPrimary)))
	if kind != KindPrimary && kind != KindSecondary {
		return nil, fmt.Errorf("unknown identity provider %q", kind)
	}

	return &Credential{Kind: kind, Token: token}, nil
}

// SaveCredential stores cred as the signed-in credential.
func SaveCredential(store localstore.Store, cred Credential) error {
	return store.SetMany(map[string]string{
		KeyAuthProvider: string(cred.Kind),
		KeyAuthToken:    cred.Token,
	})
}

// ClearCredential signs the user out locally.
func ClearCredential(store localstore.Store) error {
	if err := store.Remove(KeyAuthToken); err != nil {
		return err
	}

	return store.Remove(KeyAuthProvider)
}
