package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStoreRoundTrip(t *testing.T) {
	store, err := NewTokenStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	token, err := store.GetToken(7)
	require.NoError(t, err)
	assert.Empty(t, token, "unknown user has no token")

	require.NoError(t, store.StoreToken(7, "bearer-abc"))

	token, err = store.GetToken(7)
	require.NoError(t, err)
	assert.Equal(t, "bearer-abc", token)

	require.NoError(t, store.DeleteToken(7))
	token, err = store.GetToken(7)
	require.NoError(t, err)
	assert.Empty(t, token)
}
