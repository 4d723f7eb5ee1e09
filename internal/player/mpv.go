package player

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MPV drives an mpv subprocess over its JSON IPC socket. It supports full
// dynamic track selection.
type MPV struct {
	cmd    *exec.Cmd
	conn   net.Conn
	logger zerolog.Logger

	mu        sync.Mutex
	listeners listenerSet
	pending   map[int64]chan mpvResponse
	nextReq   int64
	released  bool

	// Observed properties, updated by the reader goroutine.
	positionMillis int64
	durationMillis int64
	paused         bool
	playlistPos    int
	playlistCount  int
	firstLoad      bool
}

type mpvResponse struct {
	Error string
	Data  json.RawMessage
}

// NewMPV launches mpv and connects to its IPC socket.
func NewMPV(binary string, logger zerolog.Logger) (*MPV, error) {
	if binary == "" {
		binary = "mpv"
	}
	socket := filepath.Join(os.TempDir(), fmt.Sprintf("playdeck-mpv-%d.sock", os.Getpid()))

	cmd := exec.Command(binary,
		"--idle=yes",
		"--no-terminal",
		"--force-window=yes",
		"--keep-open=no",
		"--pause",
		"--input-ipc-server="+socket,
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting mpv: %w", err)
	}

	conn, err := dialWithRetry(socket, 5*time.Second)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("connecting to mpv ipc: %w", err)
	}

	m := &MPV{
		cmd:       cmd,
		conn:      conn,
		logger:    logger.With().Str("component", "mpv").Logger(),
		pending:   make(map[int64]chan mpvResponse),
		firstLoad: true,
	}
	go m.readLoop()

	for i, prop := range []string{"time-pos", "duration", "pause", "playlist-pos", "playlist-count"} {
		if _, err := m.command("observe_property", int64(i+1), prop); err != nil {
			m.Release()
			return nil, fmt.Errorf("observing %s: %w", prop, err)
		}
	}
	return m, nil
}

func dialWithRetry(socket string, timeout time.Duration) (net.Conn, error) {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.Dial("unix", socket)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (m *MPV) SetQueue(items []Item, startIndex int, startMillis int64) error {
	if len(items) == 0 {
		return fmt.Errorf("empty queue")
	}
	if startIndex < 0 || startIndex >= len(items) {
		return fmt.Errorf("start index %d out of range", startIndex)
	}

	// The start item loads first (replacing whatever was playing) so
	// playback can begin before the rest of the queue is appended: first
	// the items after it, then the items before it, which are then moved
	// back to the front so playlist positions match queue indexes.
	load := func(item Item, mode string, opts []string) error {
		if len(item.SubtitleURIs) > 0 {
			opts = append(opts, "sub-files="+strings.Join(item.SubtitleURIs, ":"))
		}
		args := []any{"loadfile", item.URI, mode}
		if len(opts) > 0 {
			args = append(args, strings.Join(opts, ","))
		}
		_, err := m.command(args...)
		return err
	}

	var startOpts []string
	if startMillis > 0 {
		startOpts = append(startOpts, fmt.Sprintf("start=+%.3f", float64(startMillis)/1000))
	}
	if err := load(items[startIndex], "replace", startOpts); err != nil {
		return err
	}
	for _, item := range items[startIndex+1:] {
		if err := load(item, "append", nil); err != nil {
			return err
		}
	}
	for _, item := range items[:startIndex] {
		if err := load(item, "append", nil); err != nil {
			return err
		}
	}
	for i := 0; i < startIndex; i++ {
		from := len(items) - startIndex + i
		if _, err := m.command("playlist-move", int64(from), int64(i)); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.playlistCount = len(items)
	m.playlistPos = startIndex
	m.mu.Unlock()
	return nil
}

func (m *MPV) Play() error  { return m.setProperty("pause", false) }
func (m *MPV) Pause() error { return m.setProperty("pause", true) }

func (m *MPV) SeekTo(millis int64) error {
	_, err := m.command("seek", float64(millis)/1000, "absolute")
	return err
}

func (m *MPV) SetSpeed(speed float64) error {
	return m.setProperty("speed", speed)
}

func (m *MPV) Position() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positionMillis
}

func (m *MPV) Duration() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.durationMillis
}

func (m *MPV) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.paused
}

func (m *MPV) CurrentIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playlistPos
}

func (m *MPV) SelectTrack(kind TrackKind, id int) error {
	switch kind {
	case TrackAudio:
		return m.setProperty("aid", id)
	case TrackSubtitle:
		if id == TrackDisabled {
			return m.setProperty("sid", "no")
		}
		return m.setProperty("sid", id)
	default:
		return fmt.Errorf("unknown track kind %q", kind)
	}
}

func (m *MPV) SupportsTrackSelection() bool { return true }

func (m *MPV) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners.add(l)
}

func (m *MPV) RemoveListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners.remove(l)
}

func (m *MPV) Release() {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return
	}
	m.released = true
	m.mu.Unlock()

	// Written directly: command() refuses to run once released is set.
	quit, _ := json.Marshal(map[string]any{"command": []any{"quit"}})
	_, _ = m.conn.Write(append(quit, '\n'))
	_ = m.conn.Close()

	done := make(chan struct{})
	go func() {
		_ = m.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		_ = m.cmd.Process.Kill()
		<-done
	}
}

func (m *MPV) setProperty(name string, value any) error {
	_, err := m.command("set_property", name, value)
	return err
}

// command sends one IPC command and waits for its reply.
func (m *MPV) command(args ...any) (json.RawMessage, error) {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return nil, fmt.Errorf("mpv released")
	}
	m.nextReq++
	id := m.nextReq
	ch := make(chan mpvResponse, 1)
	m.pending[id] = ch
	m.mu.Unlock()

	payload, err := json.Marshal(map[string]any{"command": args, "request_id": id})
	if err != nil {
		return nil, err
	}
	if _, err := m.conn.Write(append(payload, '\n')); err != nil {
		m.dropPending(id)
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" && resp.Error != "success" {
			return nil, fmt.Errorf("mpv: %s", resp.Error)
		}
		return resp.Data, nil
	case <-time.After(5 * time.Second):
		m.dropPending(id)
		return nil, fmt.Errorf("mpv: command timed out")
	}
}

func (m *MPV) dropPending(id int64) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

func (m *MPV) readLoop() {
	scanner := bufio.NewScanner(m.conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg struct {
			Error     string          `json:"error"`
			Data      json.RawMessage `json:"data"`
			RequestID int64           `json:"request_id"`
			Event     string          `json:"event"`
			Name      string          `json:"name"`
			Reason    string          `json:"reason"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			m.logger.Debug().Err(err).Msg("unparseable ipc line")
			continue
		}

		if msg.RequestID != 0 {
			m.mu.Lock()
			ch, ok := m.pending[msg.RequestID]
			delete(m.pending, msg.RequestID)
			m.mu.Unlock()
			if ok {
				ch <- mpvResponse{Error: msg.Error, Data: msg.Data}
			}
			continue
		}
		if msg.Event != "" {
			m.handleEvent(msg.Event, msg.Name, msg.Reason, msg.Data)
		}
	}

	m.mu.Lock()
	released := m.released
	listeners := m.listeners.snapshot()
	m.mu.Unlock()
	if !released {
		for _, l := range listeners {
			l.OnError(fmt.Errorf("mpv ipc connection lost"))
		}
	}
}

func (m *MPV) handleEvent(event, name, reason string, data json.RawMessage) {
	switch event {
	case "property-change":
		m.handleProperty(name, data)
	case "file-loaded":
		m.mu.Lock()
		first := m.firstLoad
		m.firstLoad = false
		index := m.playlistPos
		listeners := m.listeners.snapshot()
		m.mu.Unlock()
		for _, l := range listeners {
			if first {
				l.OnReady()
			} else {
				l.OnItemTransition(index)
			}
		}
	case "end-file":
		if reason == "error" {
			m.mu.Lock()
			listeners := m.listeners.snapshot()
			m.mu.Unlock()
			for _, l := range listeners {
				l.OnError(fmt.Errorf("mpv: playback ended with error"))
			}
			return
		}
		m.mu.Lock()
		last := m.playlistPos >= m.playlistCount-1
		listeners := m.listeners.snapshot()
		m.mu.Unlock()
		if reason == "eof" && last {
			for _, l := range listeners {
				l.OnEnded()
			}
		}
	}
}

func (m *MPV) handleProperty(name string, data json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch name {
	case "time-pos":
		var secs float64
		if json.Unmarshal(data, &secs) == nil {
			m.positionMillis = int64(secs * 1000)
		}
	case "duration":
		var secs float64
		if json.Unmarshal(data, &secs) == nil {
			m.durationMillis = int64(secs * 1000)
		}
	case "pause":
		var paused bool
		if json.Unmarshal(data, &paused) == nil {
			m.paused = paused
		}
	case "playlist-pos":
		var pos int
		if json.Unmarshal(data, &pos) == nil && pos >= 0 {
			m.playlistPos = pos
		}
	case "playlist-count":
		var count int
		if json.Unmarshal(data, &count) == nil {
			m.playlistCount = count
		}
	}
}
