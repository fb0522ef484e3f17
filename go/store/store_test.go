package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotArtifactLayout(t *testing.T) {
	var s, err = NewStore(t.TempDir())
	require.NoError(t, err)

	path, err := s.StoreHTML(7, 42, []byte("<html>hi</html>"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(s.root, "7", "snapshots", "42", "content.html"), path)

	content, err := s.Read(path)
	require.NoError(t, err)
	require.Equal(t, "<html>hi</html>", string(content))
	require.Equal(t, int64(15), s.Size(path))

	// Each artifact kind lands next to the others in the snapshot directory.
	text, err := s.StoreText(7, 42, []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, filepath.Dir(path), filepath.Dir(text))
}

func TestDiffArtifactLayout(t *testing.T) {
	var s, err = NewStore(t.TempDir())
	require.NoError(t, err)

	path, err := s.StoreDiff(3, 10, 11, []byte(`{"hunks":[]}`))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(s.root, "3", "diffs", "10_11", "diff.json"), path)

	visual, err := s.StoreVisualDiff(3, 10, 11, []byte{0x89, 0x50})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(s.root, "3", "diffs", "10_11", "visual-diff.png"), visual)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	var s, err = NewStore(t.TempDir())
	require.NoError(t, err)

	path, err := s.StoreHTML(1, 1, []byte("x"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "content.html", entries[0].Name())
}

func TestSizeOfMissingFileIsZero(t *testing.T) {
	var s, err = NewStore(t.TempDir())
	require.NoError(t, err)
	require.Zero(t, s.Size(filepath.Join(s.root, "nope")))
}
