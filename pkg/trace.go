package veil

// Trace is the idempotency record for one payment attempt. It is
// created before any network call and back-filled with the snapshot
// ID once the broadcast is confirmed, so duplicate payments can be
// detected and results recovered across restarts.
type Trace struct {
	TraceID     string `json:"trace_id"`
	AssetID     string `json:"asset_id"`
	Amount      string `json:"amount"`
	OpponentID  string `json:"opponent_id,omitempty"`
	Destination string `json:"destination,omitempty"`
	Tag         string `json:"tag,omitempty"`
	SnapshotID  string `json:"snapshot_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}
