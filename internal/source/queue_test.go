package source

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playdeck/internal/remote"
	"playdeck/internal/storage"
)

func TestBuildQueueResumesFromRemotePosition(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{
		items: map[string]*remote.Item{
			"ep1": {ID: "ep1", Kind: "episode", Name: "Pilot", ResumePositionTicks: 1234560},
		},
		descriptors: map[string][]remote.SourceDescriptor{
			"ep1": {{ID: "src1", Name: "1080p"}},
		},
	}

	b := NewQueueBuilder(store, gw, NewResolver(store, gw, zerolog.Nop()), zerolog.Nop())
	queue, err := b.Build(context.Background(), []string{"ep1"}, 0)
	require.NoError(t, err)
	require.Len(t, queue.Entries, 1)

	// Server ticks divide by the tick factor to become player milliseconds.
	assert.Equal(t, int64(123456), queue.Entries[0].StartPositionMillis)
}

func TestBuildQueueResumesFromLocalState(t *testing.T) {
	store := newFakeStore()
	store.sources["ep1"] = []storage.LocalSource{
		{SourceID: "src1", ItemID: "ep1", Path: "/data/ep1.src1"},
	}
	store.items["ep1"] = &storage.ItemRecord{ID: "ep1", Kind: "episode", Name: "Pilot"}
	store.states["ep1"] = &storage.PlaybackState{ItemID: "ep1", PositionTicks: 600000}
	gw := &fakeGateway{itemErr: errors.New("offline"), describeErr: errors.New("offline")}

	b := NewQueueBuilder(store, gw, NewResolver(store, gw, zerolog.Nop()), zerolog.Nop())
	queue, err := b.Build(context.Background(), []string{"ep1"}, 0)
	require.NoError(t, err)

	entry := queue.Entries[0]
	assert.Equal(t, "Pilot", entry.Name)
	assert.Equal(t, int64(60000), entry.StartPositionMillis)
}

func TestBuildQueueRejectsUnplayableItems(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{}

	b := NewQueueBuilder(store, gw, NewResolver(store, gw, zerolog.Nop()), zerolog.Nop())
	_, err := b.Build(context.Background(), []string{"ghost"}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no playable sources")
}

func TestBuildQueueValidatesStartIndex(t *testing.T) {
	b := NewQueueBuilder(newFakeStore(), &fakeGateway{}, nil, zerolog.Nop())

	_, err := b.Build(context.Background(), nil, 0)
	assert.Error(t, err)

	_, err = b.Build(context.Background(), []string{"a"}, 1)
	assert.Error(t, err)

	_, err = b.Build(context.Background(), []string{"a"}, -1)
	assert.Error(t, err)
}

func TestExternalSubtitlesCollectedAndDeduplicated(t *testing.T) {
	sources := []Source{
		{
			ID: "src1",
			Streams: []MediaStream{
				{Kind: StreamSubtitle, Codec: "subrip", Language: "en", IsExternal: true, Path: "http://x/sub.srt"},
				{Kind: StreamSubtitle, Codec: "ass", IsExternal: false, Path: "ignored"},
				{Kind: StreamAudio, Codec: "aac"},
			},
		},
		{
			ID: "src2",
			Streams: []MediaStream{
				{Kind: StreamSubtitle, Codec: "subrip", Language: "en", IsExternal: true, Path: "http://x/sub.srt"},
				{Kind: StreamSubtitle, Codec: "webvtt", Language: "de", IsExternal: true, Path: "http://x/sub.vtt"},
			},
		},
	}

	subs := externalSubtitles(sources)
	require.Len(t, subs, 2)
	assert.Equal(t, "application/x-subrip", subs[0].MimeType)
	assert.Equal(t, "text/vtt", subs[1].MimeType)
}

func TestSubtitleMimeTypes(t *testing.T) {
	tests := []struct {
		codec string
		want  string
	}{
		{"subrip", "application/x-subrip"},
		{"srt", "application/x-subrip"},
		{"webvtt", "text/vtt"},
		{"vtt", "text/vtt"},
		{"ass", "text/x-ssa"},
		{"ssa", "text/x-ssa"},
		{"pgs", "application/octet-stream"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, subtitleMimeType(tt.codec), tt.codec)
	}
}

func TestSourceByID(t *testing.T) {
	entry := QueueEntry{Sources: []Source{{ID: "a"}, {ID: "b"}}}
	require.NotNil(t, entry.SourceByID("b"))
	assert.Nil(t, entry.SourceByID("c"))
}
