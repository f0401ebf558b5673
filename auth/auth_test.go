package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectRegistersAndResolves(t *testing.T) {
	store := NewStore()

	token, err := store.Connect("alice", "secret")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	login, err := store.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", login)
	assert.True(t, store.UserExists("alice"))
	assert.False(t, store.UserExists("bob"))
}

func TestConnectWrongPassword(t *testing.T) {
	store := NewStore()

	_, err := store.Connect("alice", "secret")
	require.NoError(t, err)

	_, err = store.Connect("alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestReconnectInvalidatesOldToken(t *testing.T) {
	store := NewStore()

	first, err := store.Connect("alice", "secret")
	require.NoError(t, err)

	second, err := store.Connect("alice", "secret")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, err = store.Resolve(first)
	assert.ErrorIs(t, err, ErrInvalidToken)

	login, err := store.Resolve(second)
	require.NoError(t, err)
	assert.Equal(t, "alice", login)
}

func TestRevoke(t *testing.T) {
	store := NewStore()

	token, err := store.Connect("alice", "secret")
	require.NoError(t, err)

	store.Revoke(token)
	_, err = store.Resolve(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Revoking twice is harmless.
	store.Revoke(token)

	// The user survives; only the session died.
	assert.True(t, store.UserExists("alice"))
}

func TestResolveUnknownToken(t *testing.T) {
	store := NewStore()

	_, err := store.Resolve("no-such-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExportRestoreKeepsPasswords(t *testing.T) {
	store := NewStore()
	_, err := store.Connect("alice", "secret")
	require.NoError(t, err)
	_, err = store.Connect("bob", "hunter2")
	require.NoError(t, err)

	users := store.Export()
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Login)
	assert.NotEqual(t, "secret", users[0].PasswordHash)

	restored := NewStore()
	restored.Restore(users)

	// Old passwords keep verifying, wrong ones keep failing.
	_, err = restored.Connect("alice", "secret")
	require.NoError(t, err)
	_, err = restored.Connect("bob", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Tokens never survive a restore.
	assert.True(t, restored.UserExists("alice"))
}
