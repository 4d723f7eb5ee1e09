package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"playdeck/internal/config"
	"playdeck/internal/player"
	"playdeck/internal/remote"
	"playdeck/internal/source"
	"playdeck/internal/trickplay"
)

// BackendFactory builds one playback engine per session. The variant is
// fixed by configuration; a session never mixes engines.
type BackendFactory func() (player.Backend, error)

// NewBackendFactory returns the factory for the configured backend.
func NewBackendFactory(cfg config.PlaybackConfig, logger zerolog.Logger) (BackendFactory, error) {
	switch cfg.Backend {
	case "mpv":
		return func() (player.Backend, error) {
			return player.NewMPV(cfg.MPVPath, logger)
		}, nil
	case "clock":
		return func() (player.Backend, error) {
			return player.NewClock(logger), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown playback backend %q", cfg.Backend)
	}
}

// Manager owns the live sessions.
type Manager struct {
	cfg     config.PlaybackConfig
	factory BackendFactory
	gateway remote.Gateway
	store   Store
	tiles   *trickplay.Service
	builder *source.QueueBuilder
	logger  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Controller
}

func NewManager(cfg config.PlaybackConfig, factory BackendFactory, gateway remote.Gateway, store Store, tiles *trickplay.Service, builder *source.QueueBuilder, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		factory:  factory,
		gateway:  gateway,
		store:    store,
		tiles:    tiles,
		builder:  builder,
		logger:   logger,
		sessions: make(map[string]*Controller),
	}
}

// Start builds a queue for the items, spins up a backend and initializes a
// session on it. sourceID optionally pins the source of the start item.
func (m *Manager) Start(ctx context.Context, itemIDs []string, startIndex int, sourceID string) (*Controller, error) {
	queue, err := m.builder.Build(ctx, itemIDs, startIndex)
	if err != nil {
		return nil, err
	}

	backend, err := m.factory()
	if err != nil {
		return nil, fmt.Errorf("starting playback backend: %w", err)
	}

	ctl := NewController(uuid.NewString(), m.cfg, backend, m.gateway, m.store, m.tiles, queue, m.logger)
	if err := ctl.Initialize(ctx, sourceID); err != nil {
		backend.Release()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[ctl.ID] = ctl
	m.mu.Unlock()
	return ctl, nil
}

func (m *Manager) Get(id string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctl, ok := m.sessions[id]
	return ctl, ok
}

func (m *Manager) List() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.sessions))
	for _, ctl := range m.sessions {
		out = append(out, ctl.Status())
	}
	return out
}

// Stop tears a session down and forgets it.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	ctl, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	ctl.Teardown(ctx)
	return nil
}

// Shutdown tears down every live session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ctls := make([]*Controller, 0, len(m.sessions))
	for _, ctl := range m.sessions {
		ctls = append(ctls, ctl)
	}
	m.sessions = make(map[string]*Controller)
	m.mu.Unlock()

	for _, ctl := range ctls {
		ctl.Teardown(ctx)
	}
}
