// Package notify pushes change events to a downstream webhook endpoint.
// Deliveries are signed with an HMAC so the receiver can authenticate
// them, and delivery failures never propagate into the pipeline.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/govwatch/archive/go/catalog"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body, keyed
// by the shared webhook secret.
const SignatureHeader = "X-Archive-Signature"

// Config is the webhook notifier configuration.
type Config struct {
	URL     string        `long:"url" env:"WEBHOOK_API_URL" default:"http://api:3000/webhooks" description:"Endpoint receiving change events"`
	Secret  string        `long:"secret" env:"WEBHOOK_SECRET" default:"" description:"Shared secret signing event payloads"`
	Timeout time.Duration `long:"timeout" env:"WEBHOOK_TIMEOUT" default:"10s" description:"Delivery timeout"`
	Enabled bool          `long:"enabled" env:"ENABLE_WEBHOOKS" description:"Deliver change events to the webhook endpoint"`
}

// Event is the change notification delivered on each generated diff.
type Event struct {
	Event         string    `json:"event"`
	SiteID        int64     `json:"site_id"`
	OldSnapshotID int64     `json:"old_snapshot_id"`
	NewSnapshotID int64     `json:"new_snapshot_id"`
	DiffID        int64     `json:"diff_id"`
	Significance  int       `json:"significance"`
	Additions     int       `json:"additions"`
	Deletions     int       `json:"deletions"`
	Timestamp     time.Time `json:"timestamp"`
}

// Notifier delivers signed change events.
type Notifier struct {
	client *http.Client
	cfg    Config
}

// NewNotifier builds a Notifier from configuration.
func NewNotifier(cfg Config) *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

// NotifyDiff posts a change event for a generated diff. Failures are
// logged and swallowed: the pipeline must never stall on a downstream
// consumer.
func (n *Notifier) NotifyDiff(ctx context.Context, d *catalog.Diff) {
	if !n.cfg.Enabled {
		return
	}

	var event = Event{
		Event:         "site.changed",
		SiteID:        d.SiteID,
		OldSnapshotID: d.OldSnapshotID,
		NewSnapshotID: d.NewSnapshotID,
		DiffID:        d.ID,
		Significance:  d.Significance,
		Additions:     d.Stats.Additions,
		Deletions:     d.Stats.Deletions,
		Timestamp:     d.DiffTimestamp,
	}
	if err := n.deliver(ctx, event); err != nil {
		log.WithFields(log.Fields{"diff": d.ID, "err": err}).Warn("webhook delivery failed")
	}
}

func (n *Notifier) deliver(ctx context.Context, event Event) error {
	var body, err = json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(n.cfg.Secret, body))

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint answered %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of |body| under |secret|.
func Sign(secret string, body []byte) string {
	var mac = hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
