package api

// Request and response shapes for the HTTP API. Domain types that already
// carry JSON tags are returned directly; only the shapes that differ live
// here.

type startDownloadRequest struct {
	ItemID   string `json:"item_id"`
	SourceID string `json:"source_id,omitempty"`
}

type startSessionRequest struct {
	ItemIDs    []string `json:"item_ids"`
	StartIndex int      `json:"start_index"`
	SourceID   string   `json:"source_id,omitempty"`
}

type seekRequest struct {
	PositionMillis int64 `json:"position_millis"`
}

type speedRequest struct {
	Speed float64 `json:"speed"`
}

type trackRequest struct {
	Kind string `json:"kind"` // audio, subtitle
	ID   int    `json:"id"`   // -1 disables subtitles
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
