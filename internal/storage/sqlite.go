package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		series_id TEXT DEFAULT '',
		series_name TEXT DEFAULT '',
		season INTEGER,
		episode INTEGER,
		episode_end INTEGER,
		runtime_ticks INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_items_series ON items(series_id);

	CREATE TABLE IF NOT EXISTS local_sources (
		source_id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		name TEXT NOT NULL,
		path TEXT NOT NULL UNIQUE,
		size INTEGER NOT NULL,
		download_job_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sources_item ON local_sources(item_id);
	CREATE INDEX IF NOT EXISTS idx_sources_job ON local_sources(download_job_id);

	CREATE TABLE IF NOT EXISTS media_streams (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL REFERENCES local_sources(source_id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		codec TEXT DEFAULT '',
		language TEXT DEFAULT '',
		title TEXT DEFAULT '',
		width INTEGER DEFAULT 0,
		height INTEGER DEFAULT 0,
		channels INTEGER DEFAULT 0,
		video_range TEXT DEFAULT '',
		is_external BOOLEAN DEFAULT FALSE,
		path TEXT DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_streams_source ON media_streams(source_id);

	CREATE TABLE IF NOT EXISTS trickplay_info (
		source_id TEXT PRIMARY KEY REFERENCES local_sources(source_id) ON DELETE CASCADE,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		tile_width INTEGER NOT NULL,
		tile_height INTEGER NOT NULL,
		thumbnail_count INTEGER NOT NULL,
		interval_ms INTEGER NOT NULL,
		bandwidth INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS download_jobs (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		status TEXT NOT NULL,
		progress INTEGER DEFAULT 0,
		path TEXT DEFAULT '',
		error TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_item ON download_jobs(item_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON download_jobs(status);

	CREATE TABLE IF NOT EXISTS playback_states (
		item_id TEXT PRIMARY KEY,
		position_ticks INTEGER NOT NULL,
		progress INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Items

func (s *SQLiteStore) InsertItem(it *ItemRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO items (id, kind, name, series_id, series_name, season, episode, episode_end, runtime_ticks, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			series_name = excluded.series_name,
			runtime_ticks = excluded.runtime_ticks
	`, it.ID, it.Kind, it.Name, it.SeriesID, it.SeriesName, it.Season, it.Episode, it.EpisodeEnd, it.RuntimeTicks, time.Now())
	return err
}

func (s *SQLiteStore) GetItem(id string) (*ItemRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, kind, name, series_id, series_name, season, episode, episode_end, runtime_ticks, created_at
		FROM items WHERE id = ?
	`, id)

	var it ItemRecord
	err := row.Scan(&it.ID, &it.Kind, &it.Name, &it.SeriesID, &it.SeriesName,
		&it.Season, &it.Episode, &it.EpisodeEnd, &it.RuntimeTicks, &it.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &it, nil
}

func (s *SQLiteStore) AllItems() ([]ItemRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, name, series_id, series_name, season, episode, episode_end, runtime_ticks, created_at
		FROM items ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ItemRecord
	for rows.Next() {
		var it ItemRecord
		if err := rows.Scan(&it.ID, &it.Kind, &it.Name, &it.SeriesID, &it.SeriesName,
			&it.Season, &it.Episode, &it.EpisodeEnd, &it.RuntimeTicks, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}

	return items, rows.Err()
}

func (s *SQLiteStore) DeleteItem(id string) error {
	_, err := s.db.Exec("DELETE FROM items WHERE id = ?", id)
	return err
}

// Local sources

func (s *SQLiteStore) GetSources(itemID string) ([]LocalSource, error) {
	rows, err := s.db.Query(`
		SELECT source_id, item_id, name, path, size, download_job_id, created_at
		FROM local_sources WHERE item_id = ? ORDER BY created_at
	`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []LocalSource
	for rows.Next() {
		var src LocalSource
		if err := rows.Scan(&src.SourceID, &src.ItemID, &src.Name, &src.Path,
			&src.Size, &src.DownloadJobID, &src.CreatedAt); err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}

	return sources, rows.Err()
}

func (s *SQLiteStore) GetSource(sourceID string) (*LocalSource, error) {
	row := s.db.QueryRow(`
		SELECT source_id, item_id, name, path, size, download_job_id, created_at
		FROM local_sources WHERE source_id = ?
	`, sourceID)

	var src LocalSource
	err := row.Scan(&src.SourceID, &src.ItemID, &src.Name, &src.Path,
		&src.Size, &src.DownloadJobID, &src.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &src, nil
}

func (s *SQLiteStore) GetSourceByJobID(jobID string) (*LocalSource, error) {
	row := s.db.QueryRow(`
		SELECT source_id, item_id, name, path, size, download_job_id, created_at
		FROM local_sources WHERE download_job_id = ?
	`, jobID)

	var src LocalSource
	err := row.Scan(&src.SourceID, &src.ItemID, &src.Name, &src.Path,
		&src.Size, &src.DownloadJobID, &src.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &src, nil
}

func (s *SQLiteStore) InsertSource(src *LocalSource) error {
	_, err := s.db.Exec(`
		INSERT INTO local_sources (source_id, item_id, name, path, size, download_job_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			path = excluded.path,
			size = excluded.size,
			download_job_id = excluded.download_job_id
	`, src.SourceID, src.ItemID, src.Name, src.Path, src.Size, src.DownloadJobID, time.Now())
	return err
}

func (s *SQLiteStore) SetSourcePath(sourceID, path string) error {
	_, err := s.db.Exec("UPDATE local_sources SET path = ? WHERE source_id = ?", path, sourceID)
	return err
}

func (s *SQLiteStore) DeleteSource(sourceID string) error {
	_, err := s.db.Exec("DELETE FROM local_sources WHERE source_id = ?", sourceID)
	return err
}

// Media streams

func (s *SQLiteStore) InsertMediaStream(m *MediaStreamRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO media_streams (id, source_id, kind, codec, language, title, width, height, channels, video_range, is_external, path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET path = excluded.path
	`, m.ID, m.SourceID, m.Kind, m.Codec, m.Language, m.Title,
		m.Width, m.Height, m.Channels, m.VideoRange, m.IsExternal, m.Path)
	return err
}

func (s *SQLiteStore) GetMediaStreams(sourceID string) ([]MediaStreamRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, source_id, kind, codec, language, title, width, height, channels, video_range, is_external, path
		FROM media_streams WHERE source_id = ?
	`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var streams []MediaStreamRecord
	for rows.Next() {
		var m MediaStreamRecord
		if err := rows.Scan(&m.ID, &m.SourceID, &m.Kind, &m.Codec, &m.Language, &m.Title,
			&m.Width, &m.Height, &m.Channels, &m.VideoRange, &m.IsExternal, &m.Path); err != nil {
			return nil, err
		}
		streams = append(streams, m)
	}

	return streams, rows.Err()
}

func (s *SQLiteStore) DeleteMediaStreams(sourceID string) error {
	_, err := s.db.Exec("DELETE FROM media_streams WHERE source_id = ?", sourceID)
	return err
}

// Trickplay

func (s *SQLiteStore) InsertTrickplayInfo(t *TrickplayRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO trickplay_info (source_id, width, height, tile_width, tile_height, thumbnail_count, interval_ms, bandwidth)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			width = excluded.width,
			height = excluded.height,
			tile_width = excluded.tile_width,
			tile_height = excluded.tile_height,
			thumbnail_count = excluded.thumbnail_count,
			interval_ms = excluded.interval_ms,
			bandwidth = excluded.bandwidth
	`, t.SourceID, t.Width, t.Height, t.TileWidth, t.TileHeight, t.ThumbnailCount, t.Interval, t.Bandwidth)
	return err
}

func (s *SQLiteStore) GetTrickplayInfo(sourceID string) (*TrickplayRecord, error) {
	row := s.db.QueryRow(`
		SELECT source_id, width, height, tile_width, tile_height, thumbnail_count, interval_ms, bandwidth
		FROM trickplay_info WHERE source_id = ?
	`, sourceID)

	var t TrickplayRecord
	err := row.Scan(&t.SourceID, &t.Width, &t.Height, &t.TileWidth, &t.TileHeight,
		&t.ThumbnailCount, &t.Interval, &t.Bandwidth)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &t, nil
}

// Download jobs

func (s *SQLiteStore) InsertJob(j *DownloadJob) error {
	now := time.Now()
	_, err := s.db.Exec(`
		INSERT INTO download_jobs (id, item_id, source_id, status, progress, path, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.ItemID, j.SourceID, j.Status, j.Progress, j.Path, j.Error, now, now)
	return err
}

func (s *SQLiteStore) UpdateJob(id string, status JobStatus, progress int, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE download_jobs SET status = ?, progress = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, progress, errMsg, time.Now(), id)
	return err
}

func (s *SQLiteStore) GetJob(id string) (*DownloadJob, error) {
	row := s.db.QueryRow(`
		SELECT id, item_id, source_id, status, progress, path, error, created_at, updated_at
		FROM download_jobs WHERE id = ?
	`, id)

	var j DownloadJob
	err := row.Scan(&j.ID, &j.ItemID, &j.SourceID, &j.Status, &j.Progress,
		&j.Path, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &j, nil
}

// ActiveJobs returns jobs that have not reached a terminal status.
func (s *SQLiteStore) ActiveJobs() ([]DownloadJob, error) {
	return s.queryJobs(`
		SELECT id, item_id, source_id, status, progress, path, error, created_at, updated_at
		FROM download_jobs WHERE status IN (?, ?) ORDER BY created_at
	`, JobPending, JobRunning)
}

func (s *SQLiteStore) AllJobs() ([]DownloadJob, error) {
	return s.queryJobs(`
		SELECT id, item_id, source_id, status, progress, path, error, created_at, updated_at
		FROM download_jobs ORDER BY created_at DESC
	`)
}

func (s *SQLiteStore) queryJobs(query string, args ...interface{}) ([]DownloadJob, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []DownloadJob
	for rows.Next() {
		var j DownloadJob
		if err := rows.Scan(&j.ID, &j.ItemID, &j.SourceID, &j.Status, &j.Progress,
			&j.Path, &j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}

	return jobs, rows.Err()
}

// Playback state

func (s *SQLiteStore) SavePlaybackState(state *PlaybackState) error {
	_, err := s.db.Exec(`
		INSERT INTO playback_states (item_id, position_ticks, progress, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			position_ticks = excluded.position_ticks,
			progress = excluded.progress,
			updated_at = excluded.updated_at
	`, state.ItemID, state.PositionTicks, state.Progress, time.Now())
	return err
}

func (s *SQLiteStore) GetPlaybackState(itemID string) (*PlaybackState, error) {
	row := s.db.QueryRow(`
		SELECT item_id, position_ticks, progress, updated_at
		FROM playback_states WHERE item_id = ?
	`, itemID)

	var state PlaybackState
	err := row.Scan(&state.ItemID, &state.PositionTicks, &state.Progress, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &state, nil
}
