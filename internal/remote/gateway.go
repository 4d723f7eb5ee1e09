package remote

import "context"

// Gateway is the narrow seam to the media server. Implementations must be
// safe for concurrent use; every call is a single request/response.
type Gateway interface {
	// Item fetches display metadata for an item.
	Item(ctx context.Context, itemID string) (*Item, error)

	// DescribeSources lists the server-side playable representations of an
	// item. The returned descriptors carry no playable URL; minting one is
	// deferred until a source is actually selected for playback.
	DescribeSources(ctx context.Context, itemID string) ([]SourceDescriptor, error)

	// MintStreamURL resolves a playable URL for one source of an item.
	MintStreamURL(ctx context.Context, itemID, sourceID string) (string, error)

	// Playback telemetry. Callers treat failures as non-fatal.
	ReportPlaybackStart(ctx context.Context, itemID string) error
	ReportPlaybackProgress(ctx context.Context, itemID string, positionTicks int64, paused bool) error
	ReportPlaybackStop(ctx context.Context, itemID string, positionTicks int64) error

	// TrickplayTile fetches one seek-thumbnail tile sheet.
	TrickplayTile(ctx context.Context, itemID string, width, index int) ([]byte, error)
}

type Item struct {
	ID                  string    `json:"id"`
	Kind                string    `json:"kind"` // movie, episode
	Name                string    `json:"name"`
	SeriesID            string    `json:"series_id,omitempty"`
	SeriesName          string    `json:"series_name,omitempty"`
	Season              *int      `json:"season,omitempty"`
	Episode             *int      `json:"episode,omitempty"`
	EpisodeEnd          *int      `json:"episode_end,omitempty"`
	RuntimeTicks        int64     `json:"runtime_ticks"`
	ResumePositionTicks int64     `json:"resume_position_ticks"`
	Chapters            []Chapter `json:"chapters,omitempty"`
	Segments            []Segment `json:"segments,omitempty"`
}

type SourceDescriptor struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	Size      int64                 `json:"size"`
	Streams   []StreamDescriptor    `json:"streams"`
	Trickplay []TrickplayDescriptor `json:"trickplay,omitempty"`
}

type StreamDescriptor struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"` // video, audio, subtitle
	Codec       string `json:"codec"`
	Language    string `json:"language,omitempty"`
	Title       string `json:"title,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Channels    int    `json:"channels,omitempty"`
	VideoRange  string `json:"video_range,omitempty"`
	IsExternal  bool   `json:"is_external"`
	DeliveryURL string `json:"delivery_url,omitempty"`
}

type TrickplayDescriptor struct {
	Width          int   `json:"width"`
	Height         int   `json:"height"`
	TileWidth      int   `json:"tile_width"`
	TileHeight     int   `json:"tile_height"`
	ThumbnailCount int   `json:"thumbnail_count"`
	Interval       int64 `json:"interval"`
	Bandwidth      int   `json:"bandwidth"`
}

type Chapter struct {
	Name       string `json:"name"`
	StartTicks int64  `json:"start_ticks"`
}

type SegmentKind string

const (
	SegmentIntro      SegmentKind = "intro"
	SegmentOutro      SegmentKind = "outro"
	SegmentRecap      SegmentKind = "recap"
	SegmentCommercial SegmentKind = "commercial"
	SegmentPreview    SegmentKind = "preview"
)

type Segment struct {
	Kind       SegmentKind `json:"kind"`
	StartTicks int64       `json:"start_ticks"`
	EndTicks   int64       `json:"end_ticks"`
}
