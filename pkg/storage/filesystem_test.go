package storage

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveJSONAndOpen(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	name, err := store.SaveJSON("cleanup/exec-1/term-1.json", map[string]int{"events": 3})
	require.NoError(t, err)
	assert.Equal(t, "cleanup/exec-1/term-1.json", name)

	f, err := store.Open(name)
	require.NoError(t, err)
	defer f.Close()
	raw, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"events":3}`, string(raw))

	_, err = os.Stat(store.Path(name) + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(filepath.Join(dir, "inner"))
	require.NoError(t, err)

	_, err = store.Save("../../escape.json", []byte("{}"))
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "escape.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestLocalStorageCleanupOlderThan(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("old.json", []byte("{}"))
	require.NoError(t, err)
	_, err = store.Save("new.json", []byte("{}"))
	require.NoError(t, err)
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(store.Path("old.json"), past, past))

	deleted, err := store.CleanupOlderThan(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"old.json"}, deleted)
	require.NoError(t, store.Delete("new.json"))
	require.NoError(t, store.Delete("missing.json"))
}
