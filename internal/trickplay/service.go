package trickplay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"playdeck/internal/cache"
	"playdeck/internal/metrics"
	"playdeck/internal/remote"
)

// Service serves seek-thumbnail tile sheets. Lookups go memory cache first,
// then the offline copy on disk, then the server. Server hits are cached.
type Service struct {
	gateway remote.Gateway
	cache   *cache.LRU
	dir     string
	logger  zerolog.Logger
}

func NewService(gateway remote.Gateway, tileCache *cache.LRU, dir string, logger zerolog.Logger) *Service {
	return &Service{
		gateway: gateway,
		cache:   tileCache,
		dir:     dir,
		logger:  logger.With().Str("component", "trickplay").Logger(),
	}
}

func (s *Service) Tile(ctx context.Context, itemID string, width, index int) ([]byte, error) {
	key := tileKey(itemID, width, index)
	if data, ok := s.cache.Get(key); ok {
		metrics.TrickplayTiles.WithLabelValues("cache").Inc()
		return data, nil
	}

	if data, err := os.ReadFile(s.LocalTilePath(itemID, width, index)); err == nil {
		metrics.TrickplayTiles.WithLabelValues("disk").Inc()
		s.cache.Put(key, data)
		return data, nil
	}

	data, err := s.gateway.TrickplayTile(ctx, itemID, width, index)
	if err != nil {
		return nil, err
	}
	metrics.TrickplayTiles.WithLabelValues("remote").Inc()
	s.cache.Put(key, data)
	return data, nil
}

// Prefetch warms the memory cache for the first tiles of an item, so that
// scrubbing right after playback starts does not stall on the network.
func (s *Service) Prefetch(ctx context.Context, itemID string, width, tiles int) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := 0; i < tiles; i++ {
		index := i
		g.Go(func() error {
			if _, err := s.Tile(ctx, itemID, width, index); err != nil {
				s.logger.Debug().Err(err).
					Str("item_id", itemID).
					Int("index", index).
					Msg("tile prefetch failed")
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
	}()
}

// SaveLocal writes a tile sheet to the offline store for an item.
func (s *Service) SaveLocal(itemID string, width, index int, data []byte) error {
	path := s.LocalTilePath(itemID, width, index)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// RemoveLocal deletes an item's offline tiles.
func (s *Service) RemoveLocal(itemID string) error {
	return os.RemoveAll(filepath.Join(s.dir, itemID))
}

func (s *Service) LocalTilePath(itemID string, width, index int) string {
	return filepath.Join(s.dir, itemID, fmt.Sprintf("%d", width), fmt.Sprintf("%d.jpg", index))
}

func tileKey(itemID string, width, index int) string {
	return fmt.Sprintf("%s/%d/%d", itemID, width, index)
}
