package downloads

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"playdeck/internal/metrics"
	"playdeck/internal/remote"
	"playdeck/internal/storage"
	"playdeck/internal/transfer"
	"playdeck/internal/trickplay"
)

// downloadSuffix marks an in-flight transfer on disk. It comes off the
// filename only when the transfer has fully succeeded, so a crash can never
// leave a partial file looking playable.
const downloadSuffix = ".download"

// Store is the persistence the coordinator needs.
type Store interface {
	InsertItem(it *storage.ItemRecord) error
	GetItem(id string) (*storage.ItemRecord, error)
	AllItems() ([]storage.ItemRecord, error)
	DeleteItem(id string) error

	InsertSource(src *storage.LocalSource) error
	GetSource(sourceID string) (*storage.LocalSource, error)
	GetSources(itemID string) ([]storage.LocalSource, error)
	GetSourceByJobID(jobID string) (*storage.LocalSource, error)
	SetSourcePath(sourceID, path string) error
	DeleteSource(sourceID string) error

	InsertMediaStream(m *storage.MediaStreamRecord) error
	GetMediaStreams(sourceID string) ([]storage.MediaStreamRecord, error)
	DeleteMediaStreams(sourceID string) error
	InsertTrickplayInfo(t *storage.TrickplayRecord) error

	InsertJob(j *storage.DownloadJob) error
	UpdateJob(id string, status storage.JobStatus, progress int, errMsg string) error
	GetJob(id string) (*storage.DownloadJob, error)
	ActiveJobs() ([]storage.DownloadJob, error)
	AllJobs() ([]storage.DownloadJob, error)
}

// Coordinator owns the download lifecycle: starting jobs, reconciling their
// transfer state into the database, and projecting what is on disk.
type Coordinator struct {
	store     Store
	gateway   remote.Gateway
	transfers transfer.Manager
	tiles     *trickplay.Service
	dir       string
	logger    zerolog.Logger

	// reconcileMu keeps reconcile cycles from interleaving; individual jobs
	// inside a cycle are still handled independently.
	reconcileMu sync.Mutex
}

func NewCoordinator(store Store, gateway remote.Gateway, transfers transfer.Manager, tiles *trickplay.Service, dir string, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		gateway:   gateway,
		transfers: transfers,
		tiles:     tiles,
		dir:       dir,
		logger:    logger.With().Str("component", "downloads").Logger(),
	}
}

// StartDownload persists everything playback will need offline, then hands
// the byte transfer to the transfer manager. An item keeps at most one local
// source; a second download of the same item is refused while the first one
// exists in any state.
func (c *Coordinator) StartDownload(ctx context.Context, itemID, sourceID string) (*storage.DownloadJob, error) {
	existing, err := c.store.GetSources(itemID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("item %s already has a local source", itemID)
	}

	item, err := c.gateway.Item(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("fetch item %s: %w", itemID, err)
	}

	descriptors, err := c.gateway.DescribeSources(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("describe sources for %s: %w", itemID, err)
	}
	desc, err := pickDescriptor(descriptors, sourceID)
	if err != nil {
		return nil, err
	}

	url, err := c.gateway.MintStreamURL(ctx, itemID, desc.ID)
	if err != nil {
		return nil, fmt.Errorf("mint stream url: %w", err)
	}

	if err := c.store.InsertItem(itemRecord(item)); err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	path := filepath.Join(c.dir, fmt.Sprintf("%s.%s%s", itemID, desc.ID, downloadSuffix))

	job := &storage.DownloadJob{
		ID:       jobID,
		ItemID:   itemID,
		SourceID: desc.ID,
		Status:   storage.JobPending,
		Path:     path,
	}
	if err := c.store.InsertJob(job); err != nil {
		return nil, err
	}

	src := &storage.LocalSource{
		SourceID:      desc.ID,
		ItemID:        itemID,
		Name:          desc.Name,
		Path:          path,
		Size:          desc.Size,
		DownloadJobID: &jobID,
	}
	if err := c.store.InsertSource(src); err != nil {
		return nil, err
	}

	// External subtitles become sidecar files next to the media so the item
	// stays fully playable offline. Their transfers start only once the main
	// transfer has been accepted.
	type sidecar struct {
		jobID, url, path string
	}
	var sidecars []sidecar

	for _, s := range desc.Streams {
		streamID := s.ID
		if streamID == "" {
			streamID = uuid.NewString()
		}
		streamPath := s.DeliveryURL
		if s.IsExternal && s.Kind == "subtitle" && s.DeliveryURL != "" {
			streamPath = filepath.Join(c.dir, fmt.Sprintf("%s.%s.%s%s", itemID, desc.ID, streamID, subtitleExt(s.Codec)))
			sidecars = append(sidecars, sidecar{jobID: uuid.NewString(), url: s.DeliveryURL, path: streamPath})
		}
		rec := &storage.MediaStreamRecord{
			ID:         streamID,
			SourceID:   desc.ID,
			Kind:       s.Kind,
			Codec:      s.Codec,
			Language:   s.Language,
			Title:      s.Title,
			Width:      s.Width,
			Height:     s.Height,
			Channels:   s.Channels,
			VideoRange: s.VideoRange,
			IsExternal: s.IsExternal,
			Path:       streamPath,
		}
		if err := c.store.InsertMediaStream(rec); err != nil {
			return nil, err
		}
	}

	if tp := widestTrickplay(desc.Trickplay); tp != nil {
		rec := &storage.TrickplayRecord{
			SourceID:       desc.ID,
			Width:          tp.Width,
			Height:         tp.Height,
			TileWidth:      tp.TileWidth,
			TileHeight:     tp.TileHeight,
			ThumbnailCount: tp.ThumbnailCount,
			Interval:       tp.Interval,
			Bandwidth:      tp.Bandwidth,
		}
		if err := c.store.InsertTrickplayInfo(rec); err != nil {
			return nil, err
		}
		go c.fetchTiles(itemID, tp)
	}

	if err := c.transfers.Enqueue(jobID, url, path); err != nil {
		c.failJob(job, err.Error())
		return nil, err
	}
	for _, sc := range sidecars {
		if err := c.transfers.Enqueue(sc.jobID, sc.url, sc.path); err != nil {
			c.logger.Warn().Err(err).Str("item_id", itemID).Str("path", sc.path).Msg("subtitle transfer enqueue failed")
		}
	}

	metrics.DownloadsStarted.Inc()
	c.logger.Info().
		Str("job_id", jobID).
		Str("item_id", itemID).
		Str("source_id", desc.ID).
		Msg("download started")
	return job, nil
}

// CancelDownload aborts a transfer. The cleanup itself happens when the next
// reconcile cycle sees the failed transfer.
func (c *Coordinator) CancelDownload(jobID string) error {
	job, err := c.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("download %s not found", jobID)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("download %s already finished", jobID)
	}
	if err := c.transfers.Cancel(jobID); err != nil && !errors.Is(err, transfer.ErrUnknownJob) {
		return err
	}
	return nil
}

// DeleteDownload removes a completed download and everything persisted for
// it. The item record goes too once no local sources remain.
func (c *Coordinator) DeleteDownload(sourceID string) error {
	src, err := c.store.GetSource(sourceID)
	if err != nil {
		return err
	}
	if src == nil {
		return fmt.Errorf("local source %s not found", sourceID)
	}
	return c.removeSource(src)
}

// Jobs lists every download job, newest first.
func (c *Coordinator) Jobs() ([]storage.DownloadJob, error) {
	return c.store.AllJobs()
}

// Job fetches one download job.
func (c *Coordinator) Job(id string) (*storage.DownloadJob, error) {
	return c.store.GetJob(id)
}

// Reconcile folds the transfer manager's view of every active job into the
// database and the filesystem. It is safe to call from multiple triggers;
// cycles are serialized and each job is handled in isolation so one bad job
// cannot stall the rest.
func (c *Coordinator) Reconcile(ctx context.Context) {
	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()

	jobs, err := c.store.ActiveJobs()
	if err != nil {
		c.logger.Error().Err(err).Msg("reconcile: listing active jobs")
		return
	}

	for i := range jobs {
		if ctx.Err() != nil {
			return
		}
		c.reconcileJob(&jobs[i])
	}
}

func (c *Coordinator) reconcileJob(job *storage.DownloadJob) {
	status, errMsg, err := c.transfers.Status(job.ID)
	if errors.Is(err, transfer.ErrUnknownJob) {
		// The transfer state died with a previous process. The partial file
		// is not resumable, so the job is failed and cleaned up.
		c.failJob(job, "transfer state lost")
		return
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("reconcile: transfer status unavailable, skipping")
		return
	}

	switch status {
	case transfer.StatusPending:
		// Nothing to fold in yet.
	case transfer.StatusRunning:
		progress, err := c.transfers.Progress(job.ID)
		if err != nil {
			return
		}
		pct := int(progress * 100)
		if err := c.store.UpdateJob(job.ID, storage.JobRunning, pct, ""); err != nil {
			c.logger.Error().Err(err).Str("job_id", job.ID).Msg("reconcile: updating progress")
		}
	case transfer.StatusSuccessful:
		c.completeJob(job)
	case transfer.StatusFailed:
		if errMsg == "" {
			errMsg = "transfer failed"
		}
		c.failJob(job, errMsg)
	}
}

// completeJob strips the in-flight suffix off the file and marks the source
// playable. The rename is the commit point.
func (c *Coordinator) completeJob(job *storage.DownloadJob) {
	finalPath := strings.TrimSuffix(job.Path, downloadSuffix)
	if err := os.Rename(job.Path, finalPath); err != nil {
		c.failJob(job, fmt.Sprintf("finalize: %v", err))
		return
	}
	if err := c.store.SetSourcePath(job.SourceID, finalPath); err != nil {
		c.logger.Error().Err(err).Str("job_id", job.ID).Msg("reconcile: updating source path")
		return
	}
	if err := c.store.UpdateJob(job.ID, storage.JobSuccessful, 100, ""); err != nil {
		c.logger.Error().Err(err).Str("job_id", job.ID).Msg("reconcile: marking job successful")
		return
	}
	c.transfers.Forget(job.ID)
	metrics.DownloadsFinished.WithLabelValues(string(storage.JobSuccessful)).Inc()
	c.logger.Info().Str("job_id", job.ID).Str("path", finalPath).Msg("download complete")
}

func (c *Coordinator) failJob(job *storage.DownloadJob, reason string) {
	if err := c.store.UpdateJob(job.ID, storage.JobFailed, job.Progress, reason); err != nil {
		c.logger.Error().Err(err).Str("job_id", job.ID).Msg("marking job failed")
		return
	}
	src, err := c.store.GetSourceByJobID(job.ID)
	if err != nil {
		c.logger.Error().Err(err).Str("job_id", job.ID).Msg("looking up source for failed job")
		return
	}
	if src != nil {
		if err := c.removeSource(src); err != nil {
			c.logger.Error().Err(err).Str("job_id", job.ID).Msg("cleaning up failed download")
		}
	}
	c.transfers.Forget(job.ID)
	metrics.DownloadsFinished.WithLabelValues(string(storage.JobFailed)).Inc()
	c.logger.Warn().Str("job_id", job.ID).Str("reason", reason).Msg("download failed")
}

func (c *Coordinator) removeSource(src *storage.LocalSource) error {
	if err := os.Remove(src.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	streams, err := c.store.GetMediaStreams(src.SourceID)
	if err != nil {
		return err
	}
	for _, m := range streams {
		// Only sidecar files downloaded into our directory; remote URLs stay.
		if m.IsExternal && strings.HasPrefix(m.Path, c.dir+string(os.PathSeparator)) {
			if err := os.Remove(m.Path); err != nil && !os.IsNotExist(err) {
				c.logger.Warn().Err(err).Str("path", m.Path).Msg("removing subtitle sidecar")
			}
		}
	}
	if err := c.store.DeleteMediaStreams(src.SourceID); err != nil {
		return err
	}
	if err := c.store.DeleteSource(src.SourceID); err != nil {
		return err
	}
	if err := c.tiles.RemoveLocal(src.ItemID); err != nil {
		c.logger.Warn().Err(err).Str("item_id", src.ItemID).Msg("removing offline trickplay tiles")
	}

	remaining, err := c.store.GetSources(src.ItemID)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		return c.store.DeleteItem(src.ItemID)
	}
	return nil
}

// fetchTiles pulls the source's trickplay sheets down for offline scrubbing.
// Failures only cost the thumbnails, never the download.
func (c *Coordinator) fetchTiles(itemID string, tp *remote.TrickplayDescriptor) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	perTile := tp.TileWidth * tp.TileHeight
	if perTile == 0 {
		return
	}
	tiles := (tp.ThumbnailCount + perTile - 1) / perTile
	for i := 0; i < tiles; i++ {
		data, err := c.gateway.TrickplayTile(ctx, itemID, tp.Width, i)
		if err != nil {
			c.logger.Debug().Err(err).Str("item_id", itemID).Int("index", i).Msg("trickplay tile fetch failed")
			return
		}
		if err := c.tiles.SaveLocal(itemID, tp.Width, i, data); err != nil {
			c.logger.Debug().Err(err).Str("item_id", itemID).Int("index", i).Msg("trickplay tile save failed")
			return
		}
	}
}

func pickDescriptor(descriptors []remote.SourceDescriptor, sourceID string) (*remote.SourceDescriptor, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("no remote sources available")
	}
	if sourceID == "" {
		return &descriptors[0], nil
	}
	for i := range descriptors {
		if descriptors[i].ID == sourceID {
			return &descriptors[i], nil
		}
	}
	return nil, fmt.Errorf("source %s not offered by server", sourceID)
}

// subtitleExt maps a subtitle codec to the sidecar file extension the player
// recognizes.
func subtitleExt(codec string) string {
	switch codec {
	case "subrip", "srt":
		return ".srt"
	case "webvtt", "vtt":
		return ".vtt"
	case "ass":
		return ".ass"
	case "ssa":
		return ".ssa"
	default:
		return ".sub"
	}
}

func widestTrickplay(descriptors []remote.TrickplayDescriptor) *remote.TrickplayDescriptor {
	var best *remote.TrickplayDescriptor
	for i := range descriptors {
		if best == nil || descriptors[i].Width > best.Width {
			best = &descriptors[i]
		}
	}
	return best
}

func itemRecord(item *remote.Item) *storage.ItemRecord {
	return &storage.ItemRecord{
		ID:           item.ID,
		Kind:         item.Kind,
		Name:         item.Name,
		SeriesID:     item.SeriesID,
		SeriesName:   item.SeriesName,
		Season:       item.Season,
		Episode:      item.Episode,
		EpisodeEnd:   item.EpisodeEnd,
		RuntimeTicks: item.RuntimeTicks,
	}
}
