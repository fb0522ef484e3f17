// Package store lays out and persists immutable capture and diff artifacts
// on the local filesystem. Files are written to a temporary name in the
// destination directory and renamed into place, so readers never observe a
// partial artifact. Stored files are never modified afterward.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config is the artifact store configuration.
type Config struct {
	Root string `long:"root" env:"ARCHIVE_DATA_PATH" default:"/data/archives" description:"Base path under which artifacts are stored"`
}

// Store resolves and writes artifact paths under a base directory.
type Store struct {
	root string
}

// NewStore returns a Store rooted at |root|, creating it if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact root %q: %w", root, err)
	}
	return &Store{root: root}, nil
}

// SnapshotDir is <root>/<siteID>/snapshots/<snapshotID>.
func (s *Store) SnapshotDir(siteID, snapshotID int64) string {
	return filepath.Join(s.root, strconv.FormatInt(siteID, 10), "snapshots", strconv.FormatInt(snapshotID, 10))
}

// DiffDir is <root>/<siteID>/diffs/<oldID>_<newID>.
func (s *Store) DiffDir(siteID, oldID, newID int64) string {
	return filepath.Join(s.root, strconv.FormatInt(siteID, 10), "diffs",
		fmt.Sprintf("%d_%d", oldID, newID))
}

// StoreHTML persists raw capture HTML and returns its final path.
func (s *Store) StoreHTML(siteID, snapshotID int64, content []byte) (string, error) {
	return s.write(s.SnapshotDir(siteID, snapshotID), "content.html", content)
}

// StoreText persists the extracted plain-text projection.
func (s *Store) StoreText(siteID, snapshotID int64, content []byte) (string, error) {
	return s.write(s.SnapshotDir(siteID, snapshotID), "content.txt", content)
}

// StoreWARC persists the capture's WARC response record.
func (s *Store) StoreWARC(siteID, snapshotID int64, content []byte) (string, error) {
	return s.write(s.SnapshotDir(siteID, snapshotID), "original.warc", content)
}

// StoreScreenshot persists a capture screenshot PNG.
func (s *Store) StoreScreenshot(siteID, snapshotID int64, content []byte) (string, error) {
	return s.write(s.SnapshotDir(siteID, snapshotID), "screenshot.png", content)
}

// StorePDF persists a capture PDF rendering.
func (s *Store) StorePDF(siteID, snapshotID int64, content []byte) (string, error) {
	return s.write(s.SnapshotDir(siteID, snapshotID), "content.pdf", content)
}

// StoreDiff persists a serialized diff document.
func (s *Store) StoreDiff(siteID, oldID, newID int64, content []byte) (string, error) {
	return s.write(s.DiffDir(siteID, oldID, newID), "diff.json", content)
}

// StoreVisualDiff persists an annotated visual-diff PNG.
func (s *Store) StoreVisualDiff(siteID, oldID, newID int64, content []byte) (string, error) {
	return s.write(s.DiffDir(siteID, oldID, newID), "visual-diff.png", content)
}

// Read returns the contents of a previously stored artifact.
func (s *Store) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Size returns the size in bytes of a stored artifact, or 0 if it's absent.
func (s *Store) Size(path string) int64 {
	if fi, err := os.Stat(path); err == nil {
		return fi.Size()
	}
	return 0
}

// write creates |dir| on demand and atomically places |name| within it.
func (s *Store) write(dir, name string, content []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating artifact directory %q: %w", dir, err)
	}

	var tmp, err = os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temporary artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing artifact %q: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("closing artifact %q: %w", name, err)
	}

	var target = filepath.Join(dir, name)
	if err = os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("renaming artifact into place: %w", err)
	}
	return target, nil
}
