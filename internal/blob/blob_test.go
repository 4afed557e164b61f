package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStorePutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewLocal(LocalConfig{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "renders/site-1/books/dune.html", "text/html", strings.NewReader("<html>ok</html>"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "file://"))

	data, err := os.ReadFile(filepath.Join(dir, "renders", "site-1", "books", "dune.html"))
	require.NoError(t, err)
	require.Equal(t, "<html>ok</html>", string(data))
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := NewLocal(LocalConfig{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../escape.html", "text/html", strings.NewReader("x"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "path traversal")
}

func TestLocalStoreRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := NewLocal(LocalConfig{})
	require.Error(t, err)
}

func TestMemoryStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewMemory()
	uri, err := store.PutObject(context.Background(), "renders/site-1/index.html", "text/html", strings.NewReader("<html></html>"))
	require.NoError(t, err)
	require.Equal(t, "memory://renders/site-1/index.html", uri)

	data, ok := store.Get("renders/site-1/index.html")
	require.True(t, ok)
	require.Equal(t, "<html></html>", string(data))
	require.Equal(t, 1, store.Len())

	_, ok = store.Get("missing")
	require.False(t, ok)
}
