package notify

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/govwatch/archive/go/catalog"
)

func sampleDiff() *catalog.Diff {
	return &catalog.Diff{
		ID:            7,
		SiteID:        3,
		OldSnapshotID: 11,
		NewSnapshotID: 12,
		DiffTimestamp: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		Stats:         catalog.DiffStats{Additions: 4, Deletions: 2, Total: 6},
		Significance:  2,
	}
}

func TestNotifyDiffDeliversSignedEvent(t *testing.T) {
	var received []byte
	var signature string
	var srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		received, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		signature = r.Header.Get(SignatureHeader)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
	}))
	defer srv.Close()

	var n = NewNotifier(Config{URL: srv.URL, Secret: "hunter2", Timeout: 5 * time.Second, Enabled: true})
	n.NotifyDiff(context.Background(), sampleDiff())

	require.NotEmpty(t, received)
	require.True(t, hmac.Equal([]byte(signature), []byte(Sign("hunter2", received))))

	var event Event
	require.NoError(t, json.Unmarshal(received, &event))
	require.Equal(t, "site.changed", event.Event)
	require.Equal(t, int64(7), event.DiffID)
	require.Equal(t, int64(11), event.OldSnapshotID)
	require.Equal(t, int64(12), event.NewSnapshotID)
	require.Equal(t, 2, event.Significance)
	require.Equal(t, 4, event.Additions)
}

func TestNotifyDiffDisabled(t *testing.T) {
	var called bool
	var srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	var n = NewNotifier(Config{URL: srv.URL, Timeout: time.Second})
	n.NotifyDiff(context.Background(), sampleDiff())
	require.False(t, called)
}

// Delivery failures are swallowed: a dead endpoint must not surface an
// error into the pipeline.
func TestNotifyDiffSwallowsFailures(t *testing.T) {
	var srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	var n = NewNotifier(Config{URL: srv.URL, Secret: "s", Timeout: time.Second, Enabled: true})

	n.NotifyDiff(context.Background(), sampleDiff())

	srv.Close()
	n.NotifyDiff(context.Background(), sampleDiff())
}
