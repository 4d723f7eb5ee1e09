package player

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrTrackSelectionUnsupported is returned by backends that cannot switch
// tracks inside a running stream.
var ErrTrackSelectionUnsupported = errors.New("player: backend does not support track selection")

// Clock models playback against the wall clock without decoding anything.
// Position advances at the configured speed while playing and items end when
// their duration elapses. It is the headless fallback when no mpv binary is
// available, and the workhorse of the session tests.
type Clock struct {
	logger zerolog.Logger

	mu        sync.Mutex
	listeners listenerSet
	items     []Item
	index     int
	base      int64 // position when the clock last (re)started, millis
	resumedAt time.Time
	playing   bool
	speed     float64
	released  bool
	loaded    bool

	done chan struct{}
}

func NewClock(logger zerolog.Logger) *Clock {
	c := &Clock{
		logger: logger.With().Str("component", "clock").Logger(),
		speed:  1.0,
		done:   make(chan struct{}),
	}
	go c.tickLoop()
	return c
}

func (c *Clock) SetQueue(items []Item, startIndex int, startMillis int64) error {
	if len(items) == 0 {
		return fmt.Errorf("empty queue")
	}
	if startIndex < 0 || startIndex >= len(items) {
		return fmt.Errorf("start index %d out of range", startIndex)
	}

	c.mu.Lock()
	c.items = items
	c.index = startIndex
	c.base = startMillis
	c.playing = false
	c.loaded = true
	listeners := c.listeners.snapshot()
	c.mu.Unlock()

	go func() {
		for _, l := range listeners {
			l.OnReady()
		}
	}()
	return nil
}

func (c *Clock) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return fmt.Errorf("no queue loaded")
	}
	if !c.playing {
		c.playing = true
		c.resumedAt = time.Now()
	}
	return nil
}

func (c *Clock) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playing {
		c.base = c.positionLocked()
		c.playing = false
	}
	return nil
}

func (c *Clock) SeekTo(millis int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if millis < 0 {
		millis = 0
	}
	if d := c.durationLocked(); d > 0 && millis > d {
		millis = d
	}
	c.base = millis
	c.resumedAt = time.Now()
	return nil
}

func (c *Clock) SetSpeed(speed float64) error {
	if speed <= 0 {
		return fmt.Errorf("speed must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = c.positionLocked()
	c.resumedAt = time.Now()
	c.speed = speed
	return nil
}

func (c *Clock) Position() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}

func (c *Clock) Duration() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.durationLocked()
}

func (c *Clock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func (c *Clock) CurrentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

func (c *Clock) SelectTrack(TrackKind, int) error { return ErrTrackSelectionUnsupported }
func (c *Clock) SupportsTrackSelection() bool     { return false }

func (c *Clock) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners.add(l)
}

func (c *Clock) RemoveListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners.remove(l)
}

func (c *Clock) Release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	c.playing = false
	c.mu.Unlock()
	close(c.done)
}

// positionLocked computes the current position. Caller holds the lock.
func (c *Clock) positionLocked() int64 {
	pos := c.base
	if c.playing {
		pos += int64(time.Since(c.resumedAt).Seconds() * c.speed * 1000)
	}
	if d := c.durationLocked(); d > 0 && pos > d {
		pos = d
	}
	return pos
}

func (c *Clock) durationLocked() int64 {
	if c.index < 0 || c.index >= len(c.items) {
		return 0
	}
	return c.items[c.index].DurationMillis
}

func (c *Clock) tickLoop() {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick detects the end of the current item and either advances the queue or
// ends playback.
func (c *Clock) tick() {
	c.mu.Lock()
	if !c.playing || !c.loaded {
		c.mu.Unlock()
		return
	}
	d := c.durationLocked()
	if d <= 0 || c.positionLocked() < d {
		c.mu.Unlock()
		return
	}

	listeners := c.listeners.snapshot()
	if c.index < len(c.items)-1 {
		c.index++
		c.base = 0
		c.resumedAt = time.Now()
		index := c.index
		c.mu.Unlock()
		for _, l := range listeners {
			l.OnItemTransition(index)
		}
		return
	}

	c.playing = false
	c.base = d
	c.mu.Unlock()
	for _, l := range listeners {
		l.OnEnded()
	}
}
