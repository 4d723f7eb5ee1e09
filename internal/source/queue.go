package source

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"playdeck/internal/remote"
)

// serverTickFactor converts backend positions (milliseconds) into the tick
// unit the server's progress API expects.
const serverTickFactor = 10

// Queue is an ordered list of items prepared for a playback session.
type Queue struct {
	Entries    []QueueEntry `json:"entries"`
	StartIndex int          `json:"start_index"`
}

// QueueEntry bundles one item's metadata with its resolved sources.
type QueueEntry struct {
	ItemID       string   `json:"item_id"`
	Kind         string   `json:"kind"`
	Name         string   `json:"name"`
	SeriesID     string   `json:"series_id,omitempty"`
	SeriesName   string   `json:"series_name,omitempty"`
	Season       *int     `json:"season,omitempty"`
	Episode      *int     `json:"episode,omitempty"`
	EpisodeEnd   *int     `json:"episode_end,omitempty"`
	RuntimeTicks int64    `json:"runtime_ticks"`
	Sources      []Source `json:"sources"`

	Chapters []Chapter `json:"chapters,omitempty"`
	Segments []Segment `json:"segments,omitempty"`

	ExternalSubtitles []ExternalSubtitle `json:"external_subtitles,omitempty"`

	// StartPositionMillis is where playback should resume, in player units.
	StartPositionMillis int64 `json:"start_position_millis"`
}

// ExternalSubtitle is a sidecar subtitle the player loads next to the media.
type ExternalSubtitle struct {
	Title    string `json:"title"`
	Language string `json:"language,omitempty"`
	MimeType string `json:"mime_type"`
	URI      string `json:"uri"`
}

// SourceByID finds a source in the entry, or nil.
func (e *QueueEntry) SourceByID(id string) *Source {
	for i := range e.Sources {
		if e.Sources[i].ID == id {
			return &e.Sources[i]
		}
	}
	return nil
}

// QueueBuilder assembles playback queues from item metadata and resolved
// sources, preferring the server's metadata and falling back to what was
// persisted at download time when the server is unreachable.
type QueueBuilder struct {
	store    Store
	gateway  remote.Gateway
	resolver *Resolver
	logger   zerolog.Logger
}

func NewQueueBuilder(store Store, gateway remote.Gateway, resolver *Resolver, logger zerolog.Logger) *QueueBuilder {
	return &QueueBuilder{
		store:    store,
		gateway:  gateway,
		resolver: resolver,
		logger:   logger.With().Str("component", "queue").Logger(),
	}
}

// Build prepares a queue for the given items. Items that resolve to zero
// playable sources are an error; a queue entry with nothing to play cannot
// be skipped over safely at transition time.
func (b *QueueBuilder) Build(ctx context.Context, itemIDs []string, startIndex int) (*Queue, error) {
	if len(itemIDs) == 0 {
		return nil, fmt.Errorf("queue needs at least one item")
	}
	if startIndex < 0 || startIndex >= len(itemIDs) {
		return nil, fmt.Errorf("start index %d out of range for %d items", startIndex, len(itemIDs))
	}

	queue := &Queue{StartIndex: startIndex}
	for i, itemID := range itemIDs {
		entry, err := b.buildEntry(ctx, itemID, i == startIndex)
		if err != nil {
			return nil, err
		}
		queue.Entries = append(queue.Entries, *entry)
	}
	return queue, nil
}

func (b *QueueBuilder) buildEntry(ctx context.Context, itemID string, isStart bool) (*QueueEntry, error) {
	sources, err := b.resolver.Resolve(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("resolve sources for %s: %w", itemID, err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("item %s has no playable sources", itemID)
	}

	entry := &QueueEntry{ItemID: itemID, Sources: sources}

	item, err := b.gateway.Item(ctx, itemID)
	if err != nil {
		b.logger.Warn().Err(err).Str("item_id", itemID).Msg("item metadata unavailable, using stored copy")
		if err := b.fillFromStore(entry, itemID); err != nil {
			return nil, err
		}
	} else {
		entry.Kind = item.Kind
		entry.Name = item.Name
		entry.SeriesID = item.SeriesID
		entry.SeriesName = item.SeriesName
		entry.Season = item.Season
		entry.Episode = item.Episode
		entry.EpisodeEnd = item.EpisodeEnd
		entry.RuntimeTicks = item.RuntimeTicks
		for _, ch := range item.Chapters {
			entry.Chapters = append(entry.Chapters, Chapter{Name: ch.Name, StartTicks: ch.StartTicks})
		}
		for _, seg := range item.Segments {
			entry.Segments = append(entry.Segments, Segment{Kind: seg.Kind, StartTicks: seg.StartTicks, EndTicks: seg.EndTicks})
		}
		if isStart {
			entry.StartPositionMillis = item.ResumePositionTicks / serverTickFactor
		}
	}

	if isStart && entry.StartPositionMillis == 0 {
		state, err := b.store.GetPlaybackState(itemID)
		if err != nil {
			return nil, err
		}
		if state != nil {
			entry.StartPositionMillis = state.PositionTicks / serverTickFactor
		}
	}

	entry.ExternalSubtitles = externalSubtitles(sources)
	return entry, nil
}

func (b *QueueBuilder) fillFromStore(entry *QueueEntry, itemID string) error {
	rec, err := b.store.GetItem(itemID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("item %s not found locally", itemID)
	}
	entry.Kind = rec.Kind
	entry.Name = rec.Name
	entry.SeriesID = rec.SeriesID
	entry.SeriesName = rec.SeriesName
	entry.Season = rec.Season
	entry.Episode = rec.Episode
	entry.EpisodeEnd = rec.EpisodeEnd
	entry.RuntimeTicks = rec.RuntimeTicks
	return nil
}

// externalSubtitles collects sidecar subtitle streams across the entry's
// sources, deduplicated by location.
func externalSubtitles(sources []Source) []ExternalSubtitle {
	var subs []ExternalSubtitle
	seen := make(map[string]bool)
	for _, src := range sources {
		for _, s := range src.Streams {
			if s.Kind != StreamSubtitle || !s.IsExternal || s.Path == "" {
				continue
			}
			if seen[s.Path] {
				continue
			}
			seen[s.Path] = true
			subs = append(subs, ExternalSubtitle{
				Title:    s.Title,
				Language: s.Language,
				MimeType: subtitleMimeType(s.Codec),
				URI:      s.Path,
			})
		}
	}
	return subs
}

func subtitleMimeType(codec string) string {
	switch codec {
	case "subrip", "srt":
		return "application/x-subrip"
	case "webvtt", "vtt":
		return "text/vtt"
	case "ass", "ssa":
		return "text/x-ssa"
	default:
		return "application/octet-stream"
	}
}
