package queue

// Queue names.
const (
	Captures = "captures"
	Diffs    = "diffs"
)

// CapturePayload identifies the site a capture job operates on.
type CapturePayload struct {
	SiteID  int64  `json:"site_id"`
	Domain  string `json:"domain"`
	EntryID int64  `json:"entry_id"`
}

// DiffPayload identifies the snapshot pair a diff job compares.
type DiffPayload struct {
	SiteID        int64 `json:"site_id"`
	OldSnapshotID int64 `json:"old_snapshot_id"`
	NewSnapshotID int64 `json:"new_snapshot_id"`
	EntryID       int64 `json:"entry_id"`
}
