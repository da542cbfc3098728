package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewFileStore(path)

	t.Run("missing file loads as empty session", func(t *testing.T) {
		sess, err := store.Load()
		require.NoError(t, err)
		assert.Empty(t, sess.AccessToken)
		assert.Nil(t, sess.User)
	})

	t.Run("round trip", func(t *testing.T) {
		saved := Session{
			AccessToken:  "access-0",
			RefreshToken: "refresh-0",
			User:         &User{ID: 1, Username: "alice"},
		}
		require.NoError(t, store.Save(saved))

		loaded, err := store.Load()
		require.NoError(t, err)
		assert.Equal(t, saved.AccessToken, loaded.AccessToken)
		assert.Equal(t, saved.RefreshToken, loaded.RefreshToken)
		require.NotNil(t, loaded.User)
		assert.Equal(t, "alice", loaded.User.Username)
	})

	t.Run("file is owner-only", func(t *testing.T) {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("clear removes the file", func(t *testing.T) {
		require.NoError(t, store.Clear())
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))

		// Clearing twice is not an error.
		assert.NoError(t, store.Clear())
	})
}
