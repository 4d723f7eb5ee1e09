package source

import "playdeck/internal/remote"

// Type says where a source's bytes come from.
type Type string

const (
	TypeRemote Type = "remote"
	TypeLocal  Type = "local"
)

type StreamKind string

const (
	StreamVideo    StreamKind = "video"
	StreamAudio    StreamKind = "audio"
	StreamSubtitle StreamKind = "subtitle"
)

// Source is one playable representation of an item. For remote sources the
// Locator is empty until playback actually selects the source; local sources
// carry their filesystem path from the start.
type Source struct {
	ID        string         `json:"id"`
	ItemID    string         `json:"item_id"`
	Name      string         `json:"name"`
	Type      Type           `json:"type"`
	Size      int64          `json:"size"`
	Locator   string         `json:"locator,omitempty"`
	Streams   []MediaStream  `json:"streams"`
	Trickplay *TrickplayInfo `json:"trickplay,omitempty"`
}

type MediaStream struct {
	Kind       StreamKind `json:"kind"`
	Codec      string     `json:"codec"`
	Language   string     `json:"language,omitempty"`
	Title      string     `json:"title,omitempty"`
	Width      int        `json:"width,omitempty"`
	Height     int        `json:"height,omitempty"`
	Channels   int        `json:"channels,omitempty"`
	VideoRange string     `json:"video_range,omitempty"`
	IsExternal bool       `json:"is_external"`
	Path       string     `json:"path,omitempty"`
}

// TrickplayInfo describes one tile-sheet grid of seek thumbnails.
type TrickplayInfo struct {
	Width          int   `json:"width"`
	Height         int   `json:"height"`
	TileWidth      int   `json:"tile_width"`
	TileHeight     int   `json:"tile_height"`
	ThumbnailCount int   `json:"thumbnail_count"`
	Interval       int64 `json:"interval"`
	Bandwidth      int   `json:"bandwidth"`
}

// ThumbnailsPerTile is how many thumbnails one tile sheet holds.
func (t *TrickplayInfo) ThumbnailsPerTile() int {
	return t.TileWidth * t.TileHeight
}

type Chapter struct {
	Name       string `json:"name"`
	StartTicks int64  `json:"start_ticks"`
}

type Segment struct {
	Kind       remote.SegmentKind `json:"kind"`
	StartTicks int64              `json:"start_ticks"`
	EndTicks   int64              `json:"end_ticks"`
}
