package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"playdeck/internal/config"
	"playdeck/internal/metrics"
	"playdeck/internal/player"
	"playdeck/internal/remote"
	"playdeck/internal/source"
	"playdeck/internal/storage"
	"playdeck/internal/trickplay"
)

// State of a playback session.
type State string

const (
	StateIdle           State = "idle"
	StateLoading        State = "loading"
	StateReady          State = "ready"
	StateTrackSwitching State = "track_switching"
	StateEnded          State = "ended"
	StateError          State = "error"
	StateTeardown       State = "teardown"
)

// EventType is pushed to session watchers. NavigateBack is the only event a
// client is ever told to act on; everything else is pollable state.
type EventType string

const EventNavigateBack EventType = "navigate_back"

type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
}

// serverTickFactor converts backend positions (milliseconds) into the tick
// unit the server's playback reports expect.
const serverTickFactor = 10

// chapterRestartThresholdMillis is how far into a chapter a previous-chapter
// seek restarts the current chapter instead of jumping back one.
const chapterRestartThresholdMillis = 5000

// Store is the slice of persistence a session writes.
type Store interface {
	SavePlaybackState(state *storage.PlaybackState) error
}

// Controller runs one playback session over a backend. All methods are safe
// for concurrent use.
type Controller struct {
	ID string

	cfg     config.PlaybackConfig
	backend player.Backend
	gateway remote.Gateway
	store   Store
	tiles   *trickplay.Service
	queue   *source.Queue
	logger  zerolog.Logger

	events chan Event
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	current        int
	selected       []*source.Source // chosen source per queue entry
	lastPosMillis  int64
	audioTrack     int // 0 while the backend's default pick is active
	subtitleTrack  int // player.TrackDisabled when subtitles are off
	subtitlesOff   bool
	speed          float64
	currentSegment *source.Segment
	startIssued    bool // start telemetry sent for the current entry
	released       bool
	errMsg         string
}

func NewController(id string, cfg config.PlaybackConfig, backend player.Backend, gateway remote.Gateway, store Store, tiles *trickplay.Service, queue *source.Queue, logger zerolog.Logger) *Controller {
	return &Controller{
		ID:      id,
		cfg:     cfg,
		backend: backend,
		gateway: gateway,
		store:   store,
		tiles:   tiles,
		queue:   queue,
		logger:  logger.With().Str("component", "session").Str("session_id", id).Logger(),
		events:  make(chan Event, 8),
		state:   StateIdle,
		current: queue.StartIndex,
		speed:   1.0,
	}
}

// Initialize picks a source for every queue entry, mints stream URLs for the
// remote ones, loads the backend, starts playback and the reporting loops.
// sourceID optionally forces the source of the start entry.
func (c *Controller) Initialize(ctx context.Context, sourceID string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("session already initialized")
	}
	c.state = StateLoading
	c.mu.Unlock()

	items := make([]player.Item, len(c.queue.Entries))
	selected := make([]*source.Source, len(c.queue.Entries))

	for i := range c.queue.Entries {
		entry := &c.queue.Entries[i]

		var src *source.Source
		if i == c.queue.StartIndex && sourceID != "" {
			src = entry.SourceByID(sourceID)
			if src == nil {
				return c.fail(fmt.Errorf("source %s not available for item %s", sourceID, entry.ItemID))
			}
		} else {
			src = preferredSource(entry)
		}
		selected[i] = src

		locator := src.Locator
		if src.Type == source.TypeRemote {
			// Remote locators are minted only now, when the source is
			// actually going to be played.
			url, err := c.gateway.MintStreamURL(ctx, entry.ItemID, src.ID)
			if err != nil {
				return c.fail(fmt.Errorf("mint stream url for %s: %w", entry.ItemID, err))
			}
			locator = url
		}

		var subs []string
		for _, sub := range entry.ExternalSubtitles {
			subs = append(subs, sub.URI)
		}
		items[i] = player.Item{
			URI:            locator,
			Title:          displayTitle(entry, c.cfg.ExtendedTitles),
			DurationMillis: entry.RuntimeTicks / serverTickFactor,
			SubtitleURIs:   subs,
		}
	}

	c.mu.Lock()
	c.selected = selected
	c.lastPosMillis = c.queue.Entries[c.queue.StartIndex].StartPositionMillis
	c.mu.Unlock()

	c.backend.AddListener(c)
	if err := c.backend.SetQueue(items, c.queue.StartIndex, c.queue.Entries[c.queue.StartIndex].StartPositionMillis); err != nil {
		c.backend.RemoveListener(c)
		return c.fail(err)
	}
	if err := c.backend.Play(); err != nil {
		c.backend.RemoveListener(c)
		return c.fail(fmt.Errorf("start playback: %w", err))
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.progressLoop(loopCtx)
	if c.cfg.SegmentsEnabled {
		go c.segmentLoop(loopCtx)
	}

	metrics.ActiveSessions.Inc()
	return nil
}

func (c *Controller) fail(err error) error {
	c.mu.Lock()
	c.state = StateError
	c.errMsg = err.Error()
	c.mu.Unlock()
	c.logger.Error().Err(err).Msg("session failed")
	return err
}

// preferredSource picks the entry's local copy when it has one, otherwise
// the first remote source the server listed.
func preferredSource(entry *source.QueueEntry) *source.Source {
	for i := range entry.Sources {
		if entry.Sources[i].Type == source.TypeLocal {
			return &entry.Sources[i]
		}
	}
	return &entry.Sources[0]
}

// displayTitle renders the UI title for an entry. Episodes carry their
// numbers when extended titles are on; a multi-part episode shows its range.
func displayTitle(entry *source.QueueEntry, extended bool) string {
	if !extended || entry.Season == nil || entry.Episode == nil {
		return entry.Name
	}
	if entry.EpisodeEnd != nil && *entry.EpisodeEnd > *entry.Episode {
		return fmt.Sprintf("S%d:E%d-%d - %s", *entry.Season, *entry.Episode, *entry.EpisodeEnd, entry.Name)
	}
	return fmt.Sprintf("S%d:E%d - %s", *entry.Season, *entry.Episode, entry.Name)
}

// Playback controls. They delegate to the backend; session state only
// changes on backend events.

func (c *Controller) Play() error  { return c.backend.Play() }
func (c *Controller) Pause() error { return c.backend.Pause() }

func (c *Controller) SeekTo(millis int64) error {
	return c.backend.SeekTo(millis)
}

func (c *Controller) SetSpeed(speed float64) error {
	if err := c.backend.SetSpeed(speed); err != nil {
		return err
	}
	c.mu.Lock()
	c.speed = speed
	c.mu.Unlock()
	return nil
}

// SwitchTrack changes the active audio or subtitle track. Subtitles turn off
// with the disabled id; audio cannot.
func (c *Controller) SwitchTrack(kind player.TrackKind, id int) error {
	if !c.backend.SupportsTrackSelection() {
		return player.ErrTrackSelectionUnsupported
	}
	if id == player.TrackDisabled && kind != player.TrackSubtitle {
		return fmt.Errorf("only subtitle tracks can be disabled")
	}

	c.mu.Lock()
	if c.state != StateReady {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot switch tracks in state %s", state)
	}
	c.state = StateTrackSwitching
	c.mu.Unlock()

	err := c.backend.SelectTrack(kind, id)

	c.mu.Lock()
	if c.state == StateTrackSwitching {
		c.state = StateReady
	}
	if err == nil {
		switch kind {
		case player.TrackAudio:
			c.audioTrack = id
		case player.TrackSubtitle:
			c.subtitleTrack = id
			c.subtitlesOff = id == player.TrackDisabled
		}
	}
	c.mu.Unlock()
	return err
}

// SeekToNextChapter jumps to the next chapter start, or does nothing past
// the last chapter.
func (c *Controller) SeekToNextChapter() error {
	entry := c.currentEntry()
	pos := c.backend.Position()
	for _, ch := range entry.Chapters {
		start := ch.StartTicks / serverTickFactor
		if start > pos {
			return c.backend.SeekTo(start)
		}
	}
	return nil
}

// SeekToPreviousChapter restarts the current chapter, or jumps one back when
// playback is within the first seconds of it.
func (c *Controller) SeekToPreviousChapter() error {
	entry := c.currentEntry()
	if len(entry.Chapters) == 0 {
		return c.backend.SeekTo(0)
	}

	pos := c.backend.Position()
	currentIdx := -1
	for i, ch := range entry.Chapters {
		if ch.StartTicks/serverTickFactor <= pos {
			currentIdx = i
		}
	}
	if currentIdx < 0 {
		return c.backend.SeekTo(0)
	}

	start := entry.Chapters[currentIdx].StartTicks / serverTickFactor
	if pos-start > chapterRestartThresholdMillis || currentIdx == 0 {
		return c.backend.SeekTo(start)
	}
	return c.backend.SeekTo(entry.Chapters[currentIdx-1].StartTicks / serverTickFactor)
}

// SkipSegment jumps past the current segment. Skipping an outro that ends
// close to the item's end advances straight to the next queue entry instead.
func (c *Controller) SkipSegment() error {
	c.mu.Lock()
	seg := c.currentSegment
	current := c.current
	c.mu.Unlock()
	if seg == nil {
		return fmt.Errorf("no skippable segment at current position")
	}

	entry := c.currentEntry()
	endMillis := seg.EndTicks / serverTickFactor
	runtimeMillis := entry.RuntimeTicks / serverTickFactor

	if seg.Kind == remote.SegmentOutro &&
		current < len(c.queue.Entries)-1 &&
		runtimeMillis-endMillis < c.cfg.NextEpisodeWithin.Milliseconds() {
		// Nothing but credits left; go to the next episode.
		return c.backend.SeekTo(runtimeMillis)
	}
	return c.backend.SeekTo(endMillis)
}

// Teardown stops the session in order: final stop report, loops, listener,
// backend. The backend is released exactly once no matter how often this is
// called or whether the stop report fails.
func (c *Controller) Teardown(ctx context.Context) {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	c.state = StateTeardown
	pos := c.lastPosMillis
	entry := &c.queue.Entries[c.current]
	src := c.selectedSourceLocked()
	c.mu.Unlock()

	c.reportStop(ctx, entry, src, pos)

	if c.cancel != nil {
		c.cancel()
	}
	c.backend.RemoveListener(c)
	c.backend.Release()
	close(c.events)

	metrics.ActiveSessions.Dec()
	c.logger.Info().Msg("session torn down")
}

func (c *Controller) reportStop(ctx context.Context, entry *source.QueueEntry, src *source.Source, posMillis int64) {
	ticks := posMillis * serverTickFactor
	if err := c.gateway.ReportPlaybackStop(ctx, entry.ItemID, ticks); err != nil {
		metrics.TelemetryFailures.WithLabelValues("stop").Inc()
		c.logger.Warn().Err(err).Str("item_id", entry.ItemID).Msg("stop report failed")
	}
	c.persistLocalPosition(entry, src, posMillis)
}

// Events delivers push-style signals. The channel closes on teardown.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Status is a pollable snapshot of the session.
type Status struct {
	ID             string          `json:"id"`
	State          State           `json:"state"`
	ItemID         string          `json:"item_id"`
	Title          string          `json:"title"`
	SourceID       string          `json:"source_id"`
	SourceType     source.Type     `json:"source_type"`
	PositionMillis int64           `json:"position_millis"`
	DurationMillis int64           `json:"duration_millis"`
	Playing        bool            `json:"playing"`
	Speed          float64         `json:"speed"`
	AudioTrack     int             `json:"audio_track"`
	SubtitleTrack  int             `json:"subtitle_track"`
	SubtitlesOff   bool            `json:"subtitles_off"`
	Segment        *source.Segment `json:"segment,omitempty"`
	Error          string          `json:"error,omitempty"`
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &c.queue.Entries[c.current]
	st := Status{
		ID:            c.ID,
		State:         c.state,
		ItemID:        entry.ItemID,
		Title:         displayTitle(entry, c.cfg.ExtendedTitles),
		Speed:         c.speed,
		AudioTrack:    c.audioTrack,
		SubtitleTrack: c.subtitleTrack,
		SubtitlesOff:  c.subtitlesOff,
		Segment:       c.currentSegment,
		Error:         c.errMsg,
	}
	if src := c.selectedSourceLocked(); src != nil {
		st.SourceID = src.ID
		st.SourceType = src.Type
	}
	if c.state == StateReady || c.state == StateTrackSwitching {
		st.PositionMillis = c.backend.Position()
		st.DurationMillis = c.backend.Duration()
		st.Playing = c.backend.Playing()
	} else {
		st.PositionMillis = c.lastPosMillis
	}
	return st
}

func (c *Controller) currentEntry() *source.QueueEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &c.queue.Entries[c.current]
}

// selectedSourceLocked returns the source chosen for the current entry.
// Caller holds the lock.
func (c *Controller) selectedSourceLocked() *source.Source {
	if c.selected == nil || c.current >= len(c.selected) {
		return nil
	}
	return c.selected[c.current]
}

// progressLoop reports the playback position on a fixed cadence. Every
// report is best effort: a failed one is logged, counted and forgotten.
func (c *Controller) progressLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reportProgress(ctx)
		}
	}
}

func (c *Controller) reportProgress(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateReady && c.state != StateTrackSwitching {
		c.mu.Unlock()
		return
	}
	if !c.startIssued {
		// The start report for this entry has not gone out yet; progress
		// for it must never be issued first.
		c.mu.Unlock()
		return
	}
	entry := &c.queue.Entries[c.current]
	src := c.selectedSourceLocked()
	c.mu.Unlock()

	pos := c.backend.Position()
	paused := !c.backend.Playing()

	c.mu.Lock()
	c.lastPosMillis = pos
	c.mu.Unlock()

	ticks := pos * serverTickFactor
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.ProgressInterval)
	defer cancel()
	if err := c.gateway.ReportPlaybackProgress(reqCtx, entry.ItemID, ticks, paused); err != nil {
		metrics.TelemetryFailures.WithLabelValues("progress").Inc()
		c.logger.Debug().Err(err).Str("item_id", entry.ItemID).Msg("progress report failed")
	}
	c.persistLocalPosition(entry, src, pos)
}

// persistLocalPosition writes the resume position for locally played items
// so it survives offline periods and restarts.
func (c *Controller) persistLocalPosition(entry *source.QueueEntry, src *source.Source, posMillis int64) {
	if src == nil || src.Type != source.TypeLocal {
		return
	}
	state := &storage.PlaybackState{
		ItemID:        entry.ItemID,
		PositionTicks: posMillis * serverTickFactor,
	}
	if entry.RuntimeTicks > 0 {
		state.Progress = int(posMillis * serverTickFactor * 100 / entry.RuntimeTicks)
	}
	if err := c.store.SavePlaybackState(state); err != nil {
		c.logger.Warn().Err(err).Str("item_id", entry.ItemID).Msg("persisting playback state failed")
	}
}

// segmentLoop keeps the current media segment up to date so skip affordances
// can show without a round trip.
func (c *Controller) segmentLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SegmentInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.updateSegment()
		}
	}
}

func (c *Controller) updateSegment() {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return
	}
	entry := &c.queue.Entries[c.current]
	c.mu.Unlock()

	posTicks := c.backend.Position() * serverTickFactor

	var active *source.Segment
	for i := range entry.Segments {
		seg := &entry.Segments[i]
		if posTicks >= seg.StartTicks && posTicks < seg.EndTicks {
			active = seg
			break
		}
	}

	c.mu.Lock()
	c.currentSegment = active
	c.mu.Unlock()
}

// Backend listener callbacks. These run on the backend's event goroutine;
// anything touching the network moves to its own goroutine.

func (c *Controller) OnReady() {
	c.mu.Lock()
	if c.state != StateLoading {
		c.mu.Unlock()
		return
	}
	c.state = StateReady
	entry := &c.queue.Entries[c.current]
	src := c.selectedSourceLocked()
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.gateway.ReportPlaybackStart(ctx, entry.ItemID); err != nil {
			metrics.TelemetryFailures.WithLabelValues("start").Inc()
			c.logger.Warn().Err(err).Str("item_id", entry.ItemID).Msg("start report failed")
		}
		c.mu.Lock()
		c.startIssued = true
		c.mu.Unlock()
	}()
	if c.tiles != nil && src != nil && src.Trickplay != nil {
		// Warm the first sheets so scrubbing works right away.
		c.tiles.Prefetch(context.Background(), entry.ItemID, src.Trickplay.Width, 2)
	}
	c.logger.Info().Str("item_id", entry.ItemID).Msg("playback ready")
}

func (c *Controller) OnItemTransition(index int) {
	c.mu.Lock()
	if c.released || index < 0 || index >= len(c.queue.Entries) || index == c.current {
		c.mu.Unlock()
		return
	}
	previous := &c.queue.Entries[c.current]
	prevSrc := c.selectedSourceLocked()
	prevPos := c.lastPosMillis
	c.current = index
	c.lastPosMillis = 0
	c.currentSegment = nil
	c.startIssued = false
	next := &c.queue.Entries[index]
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.reportStop(ctx, previous, prevSrc, prevPos)
		if err := c.gateway.ReportPlaybackStart(ctx, next.ItemID); err != nil {
			metrics.TelemetryFailures.WithLabelValues("start").Inc()
			c.logger.Warn().Err(err).Str("item_id", next.ItemID).Msg("start report failed")
		}
		c.mu.Lock()
		c.startIssued = true
		c.mu.Unlock()
	}()

	c.logger.Info().
		Str("item_id", next.ItemID).
		Str("title", displayTitle(next, c.cfg.ExtendedTitles)).
		Msg("item transition")
}

func (c *Controller) OnEnded() {
	c.mu.Lock()
	if c.released || c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	c.state = StateEnded
	// Sent under the lock so teardown cannot close the channel mid-send.
	select {
	case c.events <- Event{Type: EventNavigateBack, SessionID: c.ID}:
	default:
		c.logger.Warn().Msg("event channel full, dropping navigate_back")
	}
	c.mu.Unlock()
	c.logger.Info().Msg("playback ended")
}

func (c *Controller) OnError(err error) {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.state = StateError
	c.errMsg = err.Error()
	c.mu.Unlock()
	c.logger.Error().Err(err).Msg("backend error")
}
