package identity

import (
	"context"
	"net/http"
	"testing"

	"github.com/alexjbarnes/focus-sync/internal/localstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_KeysNeverCollide(t *testing.T) {
	p := Primary("123")
	s := Secondary("123")

	assert.Equal(t, "primary:123", p.Key())
	assert.Equal(t, "secondary:123", s.Key())
	assert.NotEqual(t, p.Key(), s.Key())
	assert.Equal(t, p.Key(), p.String())
}

func TestIdentity_Valid(t *testing.T) {
	assert.True(t, Primary("u1").Valid())
	assert.True(t, Secondary("g1").Valid())
	assert.False(t, Primary("").Valid())
	assert.False(t, Identity{Kind: "other", ID: "x"}.Valid())
	assert.False(t, Identity{}.Valid())
}

func TestParseKey(t *testing.T) {
	got, err := ParseKey("secondary:1098:abc")
	require.NoError(t, err)
	assert.Equal(t, Secondary("1098:abc"), got)

	for _, bad := range []string{"", "primary", "primary:", "tertiary:x"} {
		_, err := ParseKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestCredential_Apply(t *testing.T) {
	h := http.Header{}
	Credential{Kind: KindPrimary, Token: "jwt"}.Apply(h)
	assert.Equal(t, "Bearer jwt", h.Get("Authorization"))
	assert.Empty(t, h.Get(HeaderGoogleToken))

	h = http.Header{}
	Credential{Kind: KindSecondary, Token: "ya29"}.Apply(h)
	assert.Equal(t, "ya29", h.Get(HeaderGoogleToken))
	assert.Empty(t, h.Get("Authorization"))
}

func TestStatic(t *testing.T) {
	cred, err := Static(nil).Current(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cred)

	in := &Credential{Kind: KindPrimary, Token: "t"}
	cred, err = Static(in).Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, in, cred)

	cred.Token = "mutated"
	assert.Equal(t, "t", in.Token)
}

func TestStoreProvider_RoundTrip(t *testing.T) {
	store := localstore.NewMemory()
	p := NewStoreProvider(store)

	cred, err := p.Current(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cred)

	require.NoError(t, SaveCredential(store, Credential{Kind: KindSecondary, Token: "ya29"}))

	cred, err = p.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Credential{Kind: KindSecondary, Token: "ya29"}, cred)

	require.NoError(t, ClearCredential(store))

	cred, err = p.Current(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestStoreProvider_DefaultsToPrimary(t *testing.T) {
	store := localstore.NewMemory()
	require.NoError(t, store.Set(KeyAuthToken, "jwt"))

	cred, err := NewStoreProvider(store).Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KindPrimary, cred.Kind)
}

func TestStoreProvider_UnknownKind(t *testing.T) {
	store := localstore.NewMemory()
	require.NoError(t, store.Set(KeyAuthToken, "jwt"))
	require.NoError(t, store.Set(KeyAuthProvider, "apple"))

	_, err := NewStoreProvider(store).Current(context.Background())
	assert.ErrorContains(t, err, "apple")
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := NewContext(context.Background(), Secondary("1098"))
	id, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, Secondary("1098"), id)

	_, ok = FromContext(NewContext(context.Background(), Identity{}))
	assert.False(t, ok)
}
