package downloads

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playdeck/internal/cache"
	"playdeck/internal/remote"
	"playdeck/internal/storage"
	"playdeck/internal/transfer"
	"playdeck/internal/trickplay"
)

type memStore struct {
	mu        sync.Mutex
	items     map[string]*storage.ItemRecord
	sources   map[string]*storage.LocalSource
	streams   map[string][]storage.MediaStreamRecord
	trickplay map[string]*storage.TrickplayRecord
	jobs      map[string]*storage.DownloadJob
}

func newMemStore() *memStore {
	return &memStore{
		items:     make(map[string]*storage.ItemRecord),
		sources:   make(map[string]*storage.LocalSource),
		streams:   make(map[string][]storage.MediaStreamRecord),
		trickplay: make(map[string]*storage.TrickplayRecord),
		jobs:      make(map[string]*storage.DownloadJob),
	}
}

func (s *memStore) InsertItem(it *storage.ItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *it
	s.items[it.ID] = &cp
	return nil
}

func (s *memStore) GetItem(id string) (*storage.ItemRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id], nil
}

func (s *memStore) AllItems() ([]storage.ItemRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.ItemRecord
	for _, it := range s.items {
		out = append(out, *it)
	}
	return out, nil
}

func (s *memStore) DeleteItem(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *memStore) InsertSource(src *storage.LocalSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *src
	s.sources[src.SourceID] = &cp
	return nil
}

func (s *memStore) GetSource(sourceID string) (*storage.LocalSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sources[sourceID], nil
}

func (s *memStore) GetSources(itemID string) ([]storage.LocalSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.LocalSource
	for _, src := range s.sources {
		if src.ItemID == itemID {
			out = append(out, *src)
		}
	}
	return out, nil
}

func (s *memStore) GetSourceByJobID(jobID string) (*storage.LocalSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range s.sources {
		if src.DownloadJobID != nil && *src.DownloadJobID == jobID {
			return src, nil
		}
	}
	return nil, nil
}

func (s *memStore) SetSourcePath(sourceID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src, ok := s.sources[sourceID]; ok {
		src.Path = path
	}
	return nil
}

func (s *memStore) DeleteSource(sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sources, sourceID)
	return nil
}

func (s *memStore) InsertMediaStream(m *storage.MediaStreamRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[m.SourceID] = append(s.streams[m.SourceID], *m)
	return nil
}

func (s *memStore) GetMediaStreams(sourceID string) ([]storage.MediaStreamRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.MediaStreamRecord, len(s.streams[sourceID]))
	copy(out, s.streams[sourceID])
	return out, nil
}

func (s *memStore) DeleteMediaStreams(sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, sourceID)
	return nil
}

func (s *memStore) InsertTrickplayInfo(t *storage.TrickplayRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.trickplay[t.SourceID] = &cp
	return nil
}

func (s *memStore) InsertJob(j *storage.DownloadJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *memStore) UpdateJob(id string, status storage.JobStatus, progress int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = status
		j.Progress = progress
		j.Error = errMsg
	}
	return nil
}

func (s *memStore) GetJob(id string) (*storage.DownloadJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) ActiveJobs() ([]storage.DownloadJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.DownloadJob
	for _, j := range s.jobs {
		if !j.Status.Terminal() {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *memStore) AllJobs() ([]storage.DownloadJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.DownloadJob
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out, nil
}

type fakeTransfer struct {
	mu       sync.Mutex
	enqueued map[string]string // jobID -> url
	statuses map[string]transfer.Status
	errs     map[string]string
	statErr  map[string]error
}

func newFakeTransfer() *fakeTransfer {
	return &fakeTransfer{
		enqueued: make(map[string]string),
		statuses: make(map[string]transfer.Status),
		errs:     make(map[string]string),
		statErr:  make(map[string]error),
	}
}

func (f *fakeTransfer) Enqueue(jobID, url, destPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued[jobID] = url
	f.statuses[jobID] = transfer.StatusPending
	return nil
}

func (f *fakeTransfer) Status(jobID string) (transfer.Status, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.statErr[jobID]; ok {
		return "", "", err
	}
	status, ok := f.statuses[jobID]
	if !ok {
		return "", "", transfer.ErrUnknownJob
	}
	return status, f.errs[jobID], nil
}

func (f *fakeTransfer) Progress(jobID string) (float64, error) { return 0.5, nil }

func (f *fakeTransfer) Cancel(jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[jobID] = transfer.StatusFailed
	f.errs[jobID] = "cancelled"
	return nil
}

func (f *fakeTransfer) Forget(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.statuses, jobID)
	delete(f.statErr, jobID)
}

func (f *fakeTransfer) setStatus(jobID string, status transfer.Status, errMsg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[jobID] = status
	f.errs[jobID] = errMsg
}

type stubGateway struct {
	item        *remote.Item
	descriptors []remote.SourceDescriptor
	url         string
}

func (g *stubGateway) Item(context.Context, string) (*remote.Item, error) {
	if g.item == nil {
		return nil, errors.New("not found")
	}
	return g.item, nil
}
func (g *stubGateway) DescribeSources(context.Context, string) ([]remote.SourceDescriptor, error) {
	return g.descriptors, nil
}
func (g *stubGateway) MintStreamURL(context.Context, string, string) (string, error) {
	return g.url, nil
}
func (g *stubGateway) ReportPlaybackStart(context.Context, string) error { return nil }
func (g *stubGateway) ReportPlaybackProgress(context.Context, string, int64, bool) error {
	return nil
}
func (g *stubGateway) ReportPlaybackStop(context.Context, string, int64) error { return nil }
func (g *stubGateway) TrickplayTile(context.Context, string, int, int) ([]byte, error) {
	return nil, errors.New("no tiles")
}

func intPtr(v int) *int { return &v }

func newTestCoordinator(t *testing.T) (*Coordinator, *memStore, *fakeTransfer, string) {
	t.Helper()
	dir := t.TempDir()
	store := newMemStore()
	transfers := newFakeTransfer()
	gw := &stubGateway{
		item: &remote.Item{ID: "ep1", Kind: "episode", Name: "Pilot", SeriesID: "show1", SeriesName: "The Show", Season: intPtr(1), Episode: intPtr(1), RuntimeTicks: 1000},
		descriptors: []remote.SourceDescriptor{
			{
				ID:   "src1",
				Name: "1080p",
				Size: 4096,
				Streams: []remote.StreamDescriptor{
					{ID: "st1", Kind: "video", Codec: "h264", Width: 1920, Height: 1080},
					{ID: "st2", Kind: "audio", Codec: "aac", Channels: 6},
				},
			},
		},
		url: "http://server/stream/src1",
	}
	tiles := trickplay.NewService(gw, cache.NewLRU(4, 1<<20), filepath.Join(dir, "trickplay"), zerolog.Nop())
	coord := NewCoordinator(store, gw, transfers, tiles, dir, zerolog.Nop())
	return coord, store, transfers, dir
}

func TestStartDownloadPersistsEverything(t *testing.T) {
	coord, store, transfers, dir := newTestCoordinator(t)

	job, err := coord.StartDownload(context.Background(), "ep1", "src1")
	require.NoError(t, err)
	assert.Equal(t, storage.JobPending, job.Status)
	assert.Equal(t, filepath.Join(dir, "ep1.src1.download"), job.Path)

	item, _ := store.GetItem("ep1")
	require.NotNil(t, item)
	assert.Equal(t, "The Show", item.SeriesName)

	src, _ := store.GetSource("src1")
	require.NotNil(t, src)
	assert.True(t, strings.HasSuffix(src.Path, ".download"))
	require.NotNil(t, src.DownloadJobID)
	assert.Equal(t, job.ID, *src.DownloadJobID)

	store.mu.Lock()
	streams := store.streams["src1"]
	store.mu.Unlock()
	assert.Len(t, streams, 2)

	assert.Equal(t, "http://server/stream/src1", transfers.enqueued[job.ID])
}

func TestStartDownloadFetchesSubtitleSidecars(t *testing.T) {
	dir := t.TempDir()
	store := newMemStore()
	transfers := newFakeTransfer()
	gw := &stubGateway{
		item: &remote.Item{ID: "ep1", Kind: "episode", Name: "Pilot"},
		descriptors: []remote.SourceDescriptor{
			{
				ID:   "src1",
				Name: "1080p",
				Streams: []remote.StreamDescriptor{
					{ID: "st1", Kind: "video", Codec: "h264"},
					{ID: "st2", Kind: "subtitle", Codec: "subrip", Language: "en", IsExternal: true, DeliveryURL: "http://server/subs/st2"},
					{ID: "st3", Kind: "subtitle", Codec: "ass"},
				},
			},
		},
		url: "http://server/stream/src1",
	}
	tiles := trickplay.NewService(gw, cache.NewLRU(4, 1<<20), filepath.Join(dir, "trickplay"), zerolog.Nop())
	coord := NewCoordinator(store, gw, transfers, tiles, dir, zerolog.Nop())

	job, err := coord.StartDownload(context.Background(), "ep1", "src1")
	require.NoError(t, err)

	// The subtitle bytes get their own transfer, targeting a sidecar file.
	transfers.mu.Lock()
	var subtitleEnqueued bool
	for _, u := range transfers.enqueued {
		if u == "http://server/subs/st2" {
			subtitleEnqueued = true
		}
	}
	transfers.mu.Unlock()
	assert.True(t, subtitleEnqueued)

	sidecarPath := filepath.Join(dir, "ep1.src1.st2.srt")
	streams, err := store.GetMediaStreams("src1")
	require.NoError(t, err)
	paths := make(map[string]string)
	for _, m := range streams {
		paths[m.ID] = m.Path
	}
	assert.Equal(t, sidecarPath, paths["st2"])
	// Embedded streams keep whatever the server described.
	assert.Empty(t, paths["st3"])

	// Deleting the download takes the sidecar with it.
	require.NoError(t, os.WriteFile(job.Path, []byte("media"), 0o644))
	require.NoError(t, os.WriteFile(sidecarPath, []byte("subs"), 0o644))
	transfers.setStatus(job.ID, transfer.StatusSuccessful, "")
	coord.Reconcile(context.Background())

	require.NoError(t, coord.DeleteDownload("src1"))
	_, err = os.Stat(sidecarPath)
	assert.True(t, os.IsNotExist(err))
}

func TestStartDownloadRefusesSecondSourceForItem(t *testing.T) {
	coord, _, _, _ := newTestCoordinator(t)

	_, err := coord.StartDownload(context.Background(), "ep1", "src1")
	require.NoError(t, err)

	_, err = coord.StartDownload(context.Background(), "ep1", "src1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has a local source")
}

func TestReconcileCompletesJob(t *testing.T) {
	coord, store, transfers, dir := newTestCoordinator(t)

	job, err := coord.StartDownload(context.Background(), "ep1", "src1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(job.Path, []byte("media bytes"), 0o644))
	transfers.setStatus(job.ID, transfer.StatusSuccessful, "")

	coord.Reconcile(context.Background())

	finalPath := filepath.Join(dir, "ep1.src1")
	_, err = os.Stat(finalPath)
	require.NoError(t, err)
	_, err = os.Stat(job.Path)
	assert.True(t, os.IsNotExist(err))

	src, _ := store.GetSource("src1")
	require.NotNil(t, src)
	assert.Equal(t, finalPath, src.Path)

	updated, _ := store.GetJob(job.ID)
	assert.Equal(t, storage.JobSuccessful, updated.Status)
	assert.Equal(t, 100, updated.Progress)

	// A second cycle finds nothing active and changes nothing.
	coord.Reconcile(context.Background())
	updated, _ = store.GetJob(job.ID)
	assert.Equal(t, storage.JobSuccessful, updated.Status)
}

func TestReconcileFailureCleansUp(t *testing.T) {
	coord, store, transfers, _ := newTestCoordinator(t)

	job, err := coord.StartDownload(context.Background(), "ep1", "src1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(job.Path, []byte("partial"), 0o644))
	transfers.setStatus(job.ID, transfer.StatusFailed, "connection reset")

	coord.Reconcile(context.Background())

	updated, _ := store.GetJob(job.ID)
	assert.Equal(t, storage.JobFailed, updated.Status)
	assert.Equal(t, "connection reset", updated.Error)

	src, _ := store.GetSource("src1")
	assert.Nil(t, src)
	_, err = os.Stat(job.Path)
	assert.True(t, os.IsNotExist(err))

	// With no local sources left the item record goes too.
	item, _ := store.GetItem("ep1")
	assert.Nil(t, item)
}

func TestReconcileFailsJobsWithLostTransferState(t *testing.T) {
	coord, store, transfers, _ := newTestCoordinator(t)

	job, err := coord.StartDownload(context.Background(), "ep1", "src1")
	require.NoError(t, err)
	transfers.Forget(job.ID)

	coord.Reconcile(context.Background())

	updated, _ := store.GetJob(job.ID)
	assert.Equal(t, storage.JobFailed, updated.Status)
	assert.Equal(t, "transfer state lost", updated.Error)
}

func TestReconcileIsolatesJobFailures(t *testing.T) {
	coord, store, transfers, _ := newTestCoordinator(t)

	job1, err := coord.StartDownload(context.Background(), "ep1", "src1")
	require.NoError(t, err)

	// Second item via a second gateway descriptor set is overkill here; a
	// hand-inserted job exercises the same path.
	job2 := &storage.DownloadJob{ID: "job2", ItemID: "ep2", SourceID: "src2", Status: storage.JobRunning, Path: "/nonexistent"}
	require.NoError(t, store.InsertJob(job2))
	transfers.statErr["job2"] = errors.New("transfer backend busy")

	require.NoError(t, os.WriteFile(job1.Path, []byte("x"), 0o644))
	transfers.setStatus(job1.ID, transfer.StatusSuccessful, "")

	coord.Reconcile(context.Background())

	// The busy job was skipped, not failed.
	j2, _ := store.GetJob("job2")
	assert.Equal(t, storage.JobRunning, j2.Status)

	// The healthy job still completed.
	j1, _ := store.GetJob(job1.ID)
	assert.Equal(t, storage.JobSuccessful, j1.Status)
}

func TestReconcileUpdatesRunningProgress(t *testing.T) {
	coord, store, transfers, _ := newTestCoordinator(t)

	job, err := coord.StartDownload(context.Background(), "ep1", "src1")
	require.NoError(t, err)
	transfers.setStatus(job.ID, transfer.StatusRunning, "")

	coord.Reconcile(context.Background())

	updated, _ := store.GetJob(job.ID)
	assert.Equal(t, storage.JobRunning, updated.Status)
	assert.Equal(t, 50, updated.Progress)
}

func TestGroupsProjectsSeriesAndMovies(t *testing.T) {
	coord, store, _, _ := newTestCoordinator(t)

	require.NoError(t, store.InsertItem(&storage.ItemRecord{ID: "ep1", Kind: "episode", SeriesID: "show1", SeriesName: "The Show", RuntimeTicks: 100}))
	require.NoError(t, store.InsertItem(&storage.ItemRecord{ID: "ep2", Kind: "episode", SeriesID: "show1", SeriesName: "The Show", RuntimeTicks: 200}))
	require.NoError(t, store.InsertItem(&storage.ItemRecord{ID: "m1", Kind: "movie", Name: "Heat", RuntimeTicks: 300}))
	require.NoError(t, store.InsertSource(&storage.LocalSource{SourceID: "s1", ItemID: "ep1", Path: "/d/ep1", Size: 10}))
	require.NoError(t, store.InsertSource(&storage.LocalSource{SourceID: "s2", ItemID: "ep2", Path: "/d/ep2", Size: 20}))
	require.NoError(t, store.InsertSource(&storage.LocalSource{SourceID: "s3", ItemID: "m1", Path: "/d/m1", Size: 30}))
	// Still downloading; must not count.
	require.NoError(t, store.InsertItem(&storage.ItemRecord{ID: "ep3", Kind: "episode", SeriesID: "show1", SeriesName: "The Show"}))
	require.NoError(t, store.InsertSource(&storage.LocalSource{SourceID: "s4", ItemID: "ep3", Path: "/d/ep3.download", Size: 40}))

	groups, err := coord.Groups()
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, "Heat", groups[0].Name)
	assert.Equal(t, int64(30), groups[0].Size)

	assert.Equal(t, "The Show", groups[1].Name)
	assert.Equal(t, 2, groups[1].Episodes)
	assert.Equal(t, int64(300), groups[1].RuntimeTicks)
	assert.Equal(t, int64(30), groups[1].Size)
	assert.ElementsMatch(t, []string{"ep1", "ep2"}, groups[1].ItemIDs)
}

func TestCancelDownload(t *testing.T) {
	coord, store, _, _ := newTestCoordinator(t)

	job, err := coord.StartDownload(context.Background(), "ep1", "src1")
	require.NoError(t, err)

	require.NoError(t, coord.CancelDownload(job.ID))
	coord.Reconcile(context.Background())

	updated, _ := store.GetJob(job.ID)
	assert.Equal(t, storage.JobFailed, updated.Status)
	assert.Equal(t, "cancelled", updated.Error)

	// Cancelling a finished job is refused.
	assert.Error(t, coord.CancelDownload(job.ID))
}

func TestDeleteDownload(t *testing.T) {
	coord, store, transfers, dir := newTestCoordinator(t)

	job, err := coord.StartDownload(context.Background(), "ep1", "src1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(job.Path, []byte("bytes"), 0o644))
	transfers.setStatus(job.ID, transfer.StatusSuccessful, "")
	coord.Reconcile(context.Background())

	require.NoError(t, coord.DeleteDownload("src1"))

	src, _ := store.GetSource("src1")
	assert.Nil(t, src)
	item, _ := store.GetItem("ep1")
	assert.Nil(t, item)
	_, err = os.Stat(filepath.Join(dir, "ep1.src1"))
	assert.True(t, os.IsNotExist(err))
}
