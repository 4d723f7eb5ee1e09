package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func intPtr(v int) *int { return &v }

func TestItemRoundTrip(t *testing.T) {
	store := newTestStore(t)

	missing, err := store.GetItem("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	item := &ItemRecord{
		ID:           "ep1",
		Kind:         "episode",
		Name:         "Pilot",
		SeriesID:     "show1",
		SeriesName:   "The Show",
		Season:       intPtr(1),
		Episode:      intPtr(2),
		RuntimeTicks: 12345,
	}
	require.NoError(t, store.InsertItem(item))

	got, err := store.GetItem("ep1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Pilot", got.Name)
	require.NotNil(t, got.Season)
	assert.Equal(t, 1, *got.Season)
	assert.Equal(t, 2, *got.Episode)
	assert.Nil(t, got.EpisodeEnd)

	// Upsert keeps a single row.
	item.Name = "Pilot (remastered)"
	require.NoError(t, store.InsertItem(item))
	all, err := store.AllItems()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Pilot (remastered)", all[0].Name)

	require.NoError(t, store.DeleteItem("ep1"))
	got, err = store.GetItem("ep1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSourceLifecycle(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.InsertItem(&ItemRecord{ID: "ep1", Kind: "episode", Name: "Pilot"}))

	jobID := "job1"
	src := &LocalSource{
		SourceID:      "src1",
		ItemID:        "ep1",
		Name:          "1080p",
		Path:          "/data/ep1.src1.download",
		Size:          4096,
		DownloadJobID: &jobID,
	}
	require.NoError(t, store.InsertSource(src))

	byJob, err := store.GetSourceByJobID("job1")
	require.NoError(t, err)
	require.NotNil(t, byJob)
	assert.Equal(t, "src1", byJob.SourceID)

	require.NoError(t, store.SetSourcePath("src1", "/data/ep1.src1"))
	got, err := store.GetSource("src1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/data/ep1.src1", got.Path)

	sources, err := store.GetSources("ep1")
	require.NoError(t, err)
	assert.Len(t, sources, 1)

	require.NoError(t, store.DeleteSource("src1"))
	got, err = store.GetSource("src1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMediaStreamsAndTrickplay(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.InsertItem(&ItemRecord{ID: "ep1", Kind: "episode", Name: "Pilot"}))
	require.NoError(t, store.InsertSource(&LocalSource{SourceID: "src1", ItemID: "ep1", Path: "/d/f"}))

	require.NoError(t, store.InsertMediaStream(&MediaStreamRecord{
		ID: "st1", SourceID: "src1", Kind: "video", Codec: "h264", Width: 1920, Height: 1080, VideoRange: "SDR",
	}))
	require.NoError(t, store.InsertMediaStream(&MediaStreamRecord{
		ID: "st2", SourceID: "src1", Kind: "subtitle", Codec: "subrip", Language: "en", IsExternal: true, Path: "http://x/sub.srt",
	}))

	streams, err := store.GetMediaStreams("src1")
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.True(t, streams[1].IsExternal)

	tp, err := store.GetTrickplayInfo("src1")
	require.NoError(t, err)
	assert.Nil(t, tp)

	require.NoError(t, store.InsertTrickplayInfo(&TrickplayRecord{
		SourceID: "src1", Width: 320, Height: 180, TileWidth: 10, TileHeight: 10, ThumbnailCount: 240, Interval: 10000,
	}))
	tp, err = store.GetTrickplayInfo("src1")
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.Equal(t, 320, tp.Width)
	assert.Equal(t, 240, tp.ThumbnailCount)

	require.NoError(t, store.DeleteMediaStreams("src1"))
	streams, err = store.GetMediaStreams("src1")
	require.NoError(t, err)
	assert.Empty(t, streams)
}

func TestJobLifecycle(t *testing.T) {
	store := newTestStore(t)

	job := &DownloadJob{ID: "job1", ItemID: "ep1", SourceID: "src1", Status: JobPending, Path: "/d/f.download"}
	require.NoError(t, store.InsertJob(job))

	active, err := store.ActiveJobs()
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, store.UpdateJob("job1", JobRunning, 42, ""))
	got, err := store.GetJob("job1")
	require.NoError(t, err)
	assert.Equal(t, JobRunning, got.Status)
	assert.Equal(t, 42, got.Progress)

	require.NoError(t, store.UpdateJob("job1", JobFailed, 42, "connection reset"))
	active, err = store.ActiveJobs()
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := store.AllJobs()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "connection reset", all[0].Error)
	assert.True(t, all[0].Status.Terminal())
}

func TestPlaybackStateUpsert(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetPlaybackState("ep1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.SavePlaybackState(&PlaybackState{ItemID: "ep1", PositionTicks: 1000, Progress: 10}))
	require.NoError(t, store.SavePlaybackState(&PlaybackState{ItemID: "ep1", PositionTicks: 2000, Progress: 20}))

	got, err = store.GetPlaybackState("ep1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2000), got.PositionTicks)
	assert.Equal(t, 20, got.Progress)
}
