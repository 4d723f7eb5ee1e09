package player

// TrackKind selects which stream family a track id applies to.
type TrackKind string

const (
	TrackAudio    TrackKind = "audio"
	TrackSubtitle TrackKind = "subtitle"
)

// TrackDisabled is the id that turns a track family off. Only subtitle
// tracks accept it.
const TrackDisabled = -1

// Item is one entry of a backend queue.
type Item struct {
	URI            string
	Title          string
	DurationMillis int64
	// SubtitleURIs are sidecar subtitles loaded next to the media.
	SubtitleURIs []string
}

// Listener receives backend events. Callbacks arrive on a backend-owned
// goroutine; implementations must not call back into the backend from them.
type Listener interface {
	OnReady()
	OnItemTransition(index int)
	OnEnded()
	OnError(err error)
}

// Backend is a media player engine. A session configures exactly one backend
// and releases it exactly once when it tears down.
type Backend interface {
	// SetQueue loads the items and positions playback at startIndex,
	// startMillis. Playback starts paused until Play is called.
	SetQueue(items []Item, startIndex int, startMillis int64) error

	Play() error
	Pause() error
	SeekTo(millis int64) error
	SetSpeed(speed float64) error

	Position() int64
	Duration() int64
	Playing() bool
	CurrentIndex() int

	// SelectTrack switches the active track of a family. Backends that
	// cannot switch tracks mid-stream report it via SupportsTrackSelection.
	SelectTrack(kind TrackKind, id int) error
	SupportsTrackSelection() bool

	AddListener(l Listener)
	RemoveListener(l Listener)

	// Release stops playback and frees the engine. It is idempotent.
	Release()
}

// listenerSet is the shared fan-out both backends use.
type listenerSet struct {
	listeners []Listener
}

func (s *listenerSet) add(l Listener) {
	s.listeners = append(s.listeners, l)
}

func (s *listenerSet) remove(l Listener) {
	for i, existing := range s.listeners {
		if existing == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *listenerSet) snapshot() []Listener {
	out := make([]Listener, len(s.listeners))
	copy(out, s.listeners)
	return out
}
