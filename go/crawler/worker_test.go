package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/govwatch/archive/go/catalog"
	"github.com/govwatch/archive/go/store"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	var cfg = catalog.Config{Driver: "sqlite3", Path: filepath.Join(t.TempDir(), "catalog.db")}

	var c, err = catalog.Open(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, c.EnsureSchema(context.Background(), cfg.Driver))
	t.Cleanup(func() { c.Close() })
	return c
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	var s, err = store.NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

// testWorker builds a Worker pointed at a local HTTP server rather than the
// public internet.
func testWorker(t *testing.T, cat *catalog.Catalog, st *store.Store, cfg Config) *Worker {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	var w = NewWorker(cat, st, stubRenderer{}, cfg)
	w.scheme = "http"
	return w
}

// stubRenderer stands in for a headless browser.
type stubRenderer struct{}

func (stubRenderer) RenderPNG(context.Context, string) ([]byte, error) {
	return []byte("png-bytes"), nil
}
func (stubRenderer) RenderPDF(context.Context, string) ([]byte, error) {
	return []byte("pdf-bytes"), nil
}

func siteFor(t *testing.T, cat *catalog.Catalog, srv *httptest.Server) *catalog.Site {
	t.Helper()
	var site = &catalog.Site{
		Domain:   strings.TrimPrefix(srv.URL, "http://"),
		Priority: 2,
		Enabled:  true,
	}
	var _, err = cat.InsertSite(context.Background(), site)
	require.NoError(t, err)
	return site
}

func TestCaptureSuccess(t *testing.T) {
	var body = "<html><head><title>Hi</title></head><body><p>Hello world</p></body></html>"
	var srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	var cat = testCatalog(t)
	var st = testStore(t)
	var worker = testWorker(t, cat, st, Config{
		EnableTextExtraction: true,
		EnableScreenshots:    true,
		EnablePDF:            true,
	})
	var site = siteFor(t, cat, srv)
	var ctx = context.Background()

	snap, err := worker.Capture(ctx, site)
	require.NoError(t, err)
	require.NotZero(t, snap.ID)

	var sum = sha256.Sum256([]byte(body))
	require.Equal(t, hex.EncodeToString(sum[:]), *snap.ContentHash)
	require.Equal(t, http.StatusOK, *snap.Status)

	// Every enabled artifact landed on disk at its recorded path.
	for _, path := range []*string{snap.HTMLPath, snap.WARCPath, snap.TextPath, snap.ScreenshotPath, snap.PDFPath} {
		require.NotNil(t, path)
		_, err := os.Stat(*path)
		require.NoError(t, err)
	}

	html, err := os.ReadFile(*snap.HTMLPath)
	require.NoError(t, err)
	require.Equal(t, body, string(html))

	warcBytes, err := os.ReadFile(*snap.WARCPath)
	require.NoError(t, err)
	require.Contains(t, string(warcBytes), "WARC-Target-URI: "+srv.URL)
	require.Contains(t, string(warcBytes), "200 OK")

	text, err := os.ReadFile(*snap.TextPath)
	require.NoError(t, err)
	require.Equal(t, "Hi\nHello world", string(text))

	require.NotNil(t, snap.SizeBytes)
	require.Greater(t, *snap.SizeBytes, int64(len(body)))

	// The catalog row matches what Capture returned.
	fetched, err := cat.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	require.Equal(t, *snap.ContentHash, *fetched.ContentHash)
	require.Equal(t, *snap.HTMLPath, *fetched.HTMLPath)
	require.Equal(t, srv.URL, fetched.Metadata["final_url"])
}

func TestCaptureDisabledDerivatives(t *testing.T) {
	var srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>minimal</body></html>"))
	}))
	defer srv.Close()

	var cat = testCatalog(t)
	var worker = testWorker(t, cat, testStore(t), Config{})
	var site = siteFor(t, cat, srv)

	snap, err := worker.Capture(context.Background(), site)
	require.NoError(t, err)

	require.NotNil(t, snap.HTMLPath)
	require.NotNil(t, snap.WARCPath)
	require.Nil(t, snap.TextPath)
	require.Nil(t, snap.ScreenshotPath)
	require.Nil(t, snap.PDFPath)
}

func TestCaptureRemoteFailure(t *testing.T) {
	var srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	var cat = testCatalog(t)
	var worker = testWorker(t, cat, testStore(t), Config{})
	var site = siteFor(t, cat, srv)
	var ctx = context.Background()

	snap, err := worker.Capture(ctx, site)
	require.Nil(t, snap)

	var ce *CaptureError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, KindRemote, ce.Kind)
	require.Equal(t, http.StatusNotFound, ce.Status)
	require.False(t, ce.Retryable())

	// No snapshot row, but the check was recorded.
	latest, err := cat.LatestSnapshot(ctx, site.ID)
	require.NoError(t, err)
	require.Nil(t, latest)

	fetched, err := cat.GetSite(ctx, site.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched.LastCheckedAt)
	require.Nil(t, fetched.LastChangedAt)
}

func TestCaptureNetworkFailure(t *testing.T) {
	var srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	var cat = testCatalog(t)
	var worker = testWorker(t, cat, testStore(t), Config{Timeout: time.Second})
	var site = siteFor(t, cat, srv)
	srv.Close()

	var _, err = worker.Capture(context.Background(), site)
	var ce *CaptureError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, KindTransient, ce.Kind)
	require.True(t, ce.Retryable())
}

func TestErrorKinds(t *testing.T) {
	require.Equal(t, KindTransient, KindOf(errors.New("plain error")))
	require.Equal(t, KindRemote, KindOf(&CaptureError{Kind: KindRemote, Status: 503}))
	require.Equal(t, "remote", KindRemote.String())
	require.True(t, (&CaptureError{Kind: KindCatalog}).Retryable())
	require.False(t, (&CaptureError{Kind: KindArtifact}).Retryable())
}
