package source

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"playdeck/internal/remote"
	"playdeck/internal/storage"
)

// Store is the slice of persistence the resolver needs.
type Store interface {
	GetItem(id string) (*storage.ItemRecord, error)
	GetSources(itemID string) ([]storage.LocalSource, error)
	GetMediaStreams(sourceID string) ([]storage.MediaStreamRecord, error)
	GetTrickplayInfo(sourceID string) (*storage.TrickplayRecord, error)
	GetPlaybackState(itemID string) (*storage.PlaybackState, error)
}

// downloadSuffix marks a local file whose transfer has not finished yet.
// Sources pointing at such files are invisible to playback.
const downloadSuffix = ".download"

// Resolver merges the server's view of an item's sources with the completed
// downloads on disk.
type Resolver struct {
	store   Store
	gateway remote.Gateway
	logger  zerolog.Logger
}

func NewResolver(store Store, gateway remote.Gateway, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:   store,
		gateway: gateway,
		logger:  logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve returns every playable source for an item: remote sources in the
// order the server listed them, then local sources. A local copy of a source
// the server also lists replaces the remote entry in place. Remote failures
// degrade to local-only resolution.
func (r *Resolver) Resolve(ctx context.Context, itemID string) ([]Source, error) {
	var sources []Source

	descriptors, err := r.gateway.DescribeSources(ctx, itemID)
	if err != nil {
		r.logger.Warn().Err(err).Str("item_id", itemID).Msg("remote sources unavailable, falling back to local")
	} else {
		for _, desc := range descriptors {
			sources = append(sources, remoteSource(itemID, desc))
		}
	}

	records, err := r.store.GetSources(itemID)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if strings.HasSuffix(rec.Path, downloadSuffix) {
			continue
		}
		src, err := r.localSource(rec)
		if err != nil {
			return nil, err
		}
		replaced := false
		for i := range sources {
			if sources[i].ID == src.ID {
				sources[i] = src
				replaced = true
				break
			}
		}
		if !replaced {
			sources = append(sources, src)
		}
	}

	return sources, nil
}

func remoteSource(itemID string, desc remote.SourceDescriptor) Source {
	src := Source{
		ID:     desc.ID,
		ItemID: itemID,
		Name:   desc.Name,
		Type:   TypeRemote,
		Size:   desc.Size,
	}
	for _, s := range desc.Streams {
		src.Streams = append(src.Streams, MediaStream{
			Kind:       StreamKind(s.Kind),
			Codec:      s.Codec,
			Language:   s.Language,
			Title:      s.Title,
			Width:      s.Width,
			Height:     s.Height,
			Channels:   s.Channels,
			VideoRange: s.VideoRange,
			IsExternal: s.IsExternal,
			Path:       s.DeliveryURL,
		})
	}
	// Widest trickplay grid wins; the rest are lower-bandwidth duplicates.
	for _, tp := range desc.Trickplay {
		if src.Trickplay == nil || tp.Width > src.Trickplay.Width {
			src.Trickplay = &TrickplayInfo{
				Width:          tp.Width,
				Height:         tp.Height,
				TileWidth:      tp.TileWidth,
				TileHeight:     tp.TileHeight,
				ThumbnailCount: tp.ThumbnailCount,
				Interval:       tp.Interval,
				Bandwidth:      tp.Bandwidth,
			}
		}
	}
	return src
}

func (r *Resolver) localSource(rec storage.LocalSource) (Source, error) {
	src := Source{
		ID:      rec.SourceID,
		ItemID:  rec.ItemID,
		Name:    rec.Name,
		Type:    TypeLocal,
		Size:    rec.Size,
		Locator: rec.Path,
	}

	streams, err := r.store.GetMediaStreams(rec.SourceID)
	if err != nil {
		return Source{}, err
	}
	for _, s := range streams {
		src.Streams = append(src.Streams, MediaStream{
			Kind:       StreamKind(s.Kind),
			Codec:      s.Codec,
			Language:   s.Language,
			Title:      s.Title,
			Width:      s.Width,
			Height:     s.Height,
			Channels:   s.Channels,
			VideoRange: s.VideoRange,
			IsExternal: s.IsExternal,
			Path:       s.Path,
		})
	}

	tp, err := r.store.GetTrickplayInfo(rec.SourceID)
	if err != nil {
		return Source{}, err
	}
	if tp != nil {
		src.Trickplay = &TrickplayInfo{
			Width:          tp.Width,
			Height:         tp.Height,
			TileWidth:      tp.TileWidth,
			TileHeight:     tp.TileHeight,
			ThumbnailCount: tp.ThumbnailCount,
			Interval:       tp.Interval,
			Bandwidth:      tp.Bandwidth,
		}
	}

	return src, nil
}
