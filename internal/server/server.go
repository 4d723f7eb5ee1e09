package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"playdeck/internal/api"
	"playdeck/internal/config"
)

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

func New(cfg config.ServerConfig, handlers *api.Handlers, logger zerolog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(recoverMiddleware(logger))
	r.Use(corsMiddleware)
	r.Use(loggingMiddleware(logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.Health)

		r.Route("/items/{id}", func(r chi.Router) {
			r.Get("/sources", handlers.GetItemSources)
			r.Get("/trickplay/{width}/{index}", handlers.GetTrickplayTile)
		})

		r.Route("/downloads", func(r chi.Router) {
			r.Get("/", handlers.ListDownloads)
			r.Post("/", handlers.StartDownload)
			r.Get("/groups", handlers.GetDownloadGroups)
			r.Post("/reconcile", handlers.ReconcileDownloads)
			r.Get("/{id}", handlers.GetDownload)
			r.Post("/{id}/cancel", handlers.CancelDownload)
			r.Delete("/sources/{sourceID}", handlers.DeleteDownload)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", handlers.ListSessions)
			r.Post("/", handlers.StartSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handlers.GetSession)
				r.Delete("/", handlers.StopSession)
				r.Get("/events", handlers.SessionEvents)
				r.Post("/play", handlers.PlaySession)
				r.Post("/pause", handlers.PauseSession)
				r.Post("/seek", handlers.SeekSession)
				r.Post("/speed", handlers.SetSessionSpeed)
				r.Post("/track", handlers.SwitchSessionTrack)
				r.Post("/chapters/next", handlers.NextChapter)
				r.Post("/chapters/previous", handlers.PreviousChapter)
				r.Post("/segments/skip", handlers.SkipSegment)
			})
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return &Server{
		httpServer: &http.Server{
			Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:     r,
			ReadTimeout: cfg.ReadTimeout,
			// WriteTimeout stays zero: the event stream holds connections
			// open for as long as a session lives.
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
