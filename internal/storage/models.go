package storage

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobRunning    JobStatus = "running"
	JobSuccessful JobStatus = "successful"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the job can no longer change state.
// A failed job is never resumed; offline availability requires a new job.
func (s JobStatus) Terminal() bool {
	return s == JobSuccessful || s == JobFailed
}

// LocalSource is a downloaded (or downloading) representation of an item.
// While the transfer is still running the path carries the in-progress
// suffix and the source must not be offered for playback.
type LocalSource struct {
	SourceID      string    `json:"source_id"`
	ItemID        string    `json:"item_id"`
	Name          string    `json:"name"`
	Path          string    `json:"-"`
	Size          int64     `json:"size"`
	DownloadJobID *string   `json:"download_job_id,omitempty"`
	CreatedAt     time.Time `json:"-"`
}

type MediaStreamRecord struct {
	ID         string `json:"id"`
	SourceID   string `json:"-"`
	Kind       string `json:"kind"` // video, audio, subtitle
	Codec      string `json:"codec"`
	Language   string `json:"language,omitempty"`
	Title      string `json:"title,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	VideoRange string `json:"video_range,omitempty"`
	IsExternal bool   `json:"is_external"`
	Path       string `json:"-"`
}

type TrickplayRecord struct {
	SourceID       string `json:"-"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	TileWidth      int    `json:"tile_width"`
	TileHeight     int    `json:"tile_height"`
	ThumbnailCount int    `json:"thumbnail_count"`
	Interval       int64  `json:"interval"` // ms between thumbnails
	Bandwidth      int    `json:"bandwidth"`
}

type DownloadJob struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"item_id"`
	SourceID  string    `json:"source_id"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"` // percent
	Path      string    `json:"-"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ItemRecord is the metadata kept for a downloaded item so it stays
// browsable and groupable offline.
type ItemRecord struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"` // movie, episode
	Name         string    `json:"name"`
	SeriesID     string    `json:"series_id,omitempty"`
	SeriesName   string    `json:"series_name,omitempty"`
	Season       *int      `json:"season,omitempty"`
	Episode      *int      `json:"episode,omitempty"`
	EpisodeEnd   *int      `json:"episode_end,omitempty"`
	RuntimeTicks int64     `json:"runtime_ticks"`
	CreatedAt    time.Time `json:"-"`
}

// PlaybackState is the locally persisted resume position. It is written
// alongside remote progress reports for LOCAL sources so the position
// survives process death and offline periods.
type PlaybackState struct {
	ItemID        string    `json:"item_id"`
	PositionTicks int64     `json:"position_ticks"`
	Progress      int       `json:"progress"` // percent
	UpdatedAt     time.Time `json:"-"`
}
