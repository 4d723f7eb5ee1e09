package trickplay

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playdeck/internal/cache"
	"playdeck/internal/remote"
)

type tileGateway struct {
	tile  []byte
	err   error
	calls atomic.Int64
}

func (g *tileGateway) Item(context.Context, string) (*remote.Item, error) {
	return nil, errors.New("not used")
}
func (g *tileGateway) DescribeSources(context.Context, string) ([]remote.SourceDescriptor, error) {
	return nil, errors.New("not used")
}
func (g *tileGateway) MintStreamURL(context.Context, string, string) (string, error) {
	return "", errors.New("not used")
}
func (g *tileGateway) ReportPlaybackStart(context.Context, string) error { return nil }
func (g *tileGateway) ReportPlaybackProgress(context.Context, string, int64, bool) error {
	return nil
}
func (g *tileGateway) ReportPlaybackStop(context.Context, string, int64) error { return nil }
func (g *tileGateway) TrickplayTile(context.Context, string, int, int) ([]byte, error) {
	g.calls.Add(1)
	return g.tile, g.err
}

func TestTileFetchesRemoteOnceThenCaches(t *testing.T) {
	gw := &tileGateway{tile: []byte("tile data")}
	s := NewService(gw, cache.NewLRU(4, 1<<20), t.TempDir(), zerolog.Nop())

	data, err := s.Tile(context.Background(), "item1", 320, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("tile data"), data)

	_, err = s.Tile(context.Background(), "item1", 320, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gw.calls.Load())
}

func TestTilePrefersOfflineCopy(t *testing.T) {
	gw := &tileGateway{err: errors.New("offline")}
	s := NewService(gw, cache.NewLRU(4, 1<<20), t.TempDir(), zerolog.Nop())

	require.NoError(t, s.SaveLocal("item1", 320, 2, []byte("offline tile")))

	data, err := s.Tile(context.Background(), "item1", 320, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("offline tile"), data)
	assert.Equal(t, int64(0), gw.calls.Load())
}

func TestTilePropagatesRemoteFailure(t *testing.T) {
	gw := &tileGateway{err: errors.New("not found")}
	s := NewService(gw, cache.NewLRU(4, 1<<20), t.TempDir(), zerolog.Nop())

	_, err := s.Tile(context.Background(), "item1", 320, 0)
	assert.Error(t, err)
}

func TestRemoveLocalDeletesTiles(t *testing.T) {
	gw := &tileGateway{err: errors.New("offline")}
	s := NewService(gw, cache.NewLRU(4, 1<<20), t.TempDir(), zerolog.Nop())

	require.NoError(t, s.SaveLocal("item1", 320, 0, []byte("x")))
	require.NoError(t, s.RemoveLocal("item1"))

	_, err := s.Tile(context.Background(), "item1", 320, 0)
	assert.Error(t, err)
}
