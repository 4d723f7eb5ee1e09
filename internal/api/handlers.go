package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"playdeck/internal/downloads"
	"playdeck/internal/player"
	"playdeck/internal/session"
	"playdeck/internal/source"
	"playdeck/internal/trickplay"
)

// Version is the reported server version. Overridden at build time.
var Version = "dev"

type Handlers struct {
	resolver  *source.Resolver
	coord     *downloads.Coordinator
	sessions  *session.Manager
	trickplay *trickplay.Service
	logger    zerolog.Logger
}

func NewHandlers(resolver *source.Resolver, coord *downloads.Coordinator, sessions *session.Manager, tiles *trickplay.Service, logger zerolog.Logger) *Handlers {
	return &Handlers{
		resolver:  resolver,
		coord:     coord,
		sessions:  sessions,
		trickplay: tiles,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: Version})
}

// Items

func (h *Handlers) GetItemSources(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	sources, err := h.resolver.Resolve(r.Context(), itemID)
	if err != nil {
		h.logger.Error().Err(err).Str("item_id", itemID).Msg("resolving sources")
		writeError(w, http.StatusInternalServerError, "failed to resolve sources")
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

func (h *Handlers) GetTrickplayTile(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	width, err := strconv.Atoi(chi.URLParam(r, "width"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid width")
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tile index")
		return
	}

	data, err := h.trickplay.Tile(r.Context(), itemID, width, index)
	if err != nil {
		writeError(w, http.StatusNotFound, "tile not available")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "max-age=86400")
	_, _ = w.Write(data)
}

// Downloads

func (h *Handlers) ListDownloads(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.coord.Jobs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list downloads")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handlers) StartDownload(w http.ResponseWriter, r *http.Request) {
	var req startDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ItemID == "" {
		writeError(w, http.StatusBadRequest, "item_id is required")
		return
	}

	job, err := h.coord.StartDownload(r.Context(), req.ItemID, req.SourceID)
	if err != nil {
		h.logger.Warn().Err(err).Str("item_id", req.ItemID).Msg("starting download")
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *Handlers) GetDownload(w http.ResponseWriter, r *http.Request) {
	job, err := h.coord.Job(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch download")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "download not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handlers) CancelDownload(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.CancelDownload(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) DeleteDownload(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.DeleteDownload(chi.URLParam(r, "sourceID")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ReconcileDownloads(w http.ResponseWriter, r *http.Request) {
	h.coord.Reconcile(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetDownloadGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.coord.Groups()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to project downloads")
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// Sessions

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.List())
}

func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.ItemIDs) == 0 {
		writeError(w, http.StatusBadRequest, "item_ids is required")
		return
	}

	ctl, err := h.sessions.Start(r.Context(), req.ItemIDs, req.StartIndex, req.SourceID)
	if err != nil {
		h.logger.Error().Err(err).Msg("starting session")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, ctl.Status())
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, ctl.Status())
}

func (h *Handlers) StopSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Stop(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sessionAction wraps the one-line controller operations.
func (h *Handlers) sessionAction(w http.ResponseWriter, r *http.Request, fn func(*session.Controller) error) {
	ctl, ok := h.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err := fn(ctl); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ctl.Status())
}

func (h *Handlers) PlaySession(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, func(c *session.Controller) error { return c.Play() })
}

func (h *Handlers) PauseSession(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, func(c *session.Controller) error { return c.Pause() })
}

func (h *Handlers) SeekSession(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid seek request")
		return
	}
	h.sessionAction(w, r, func(c *session.Controller) error { return c.SeekTo(req.PositionMillis) })
}

func (h *Handlers) SetSessionSpeed(w http.ResponseWriter, r *http.Request) {
	var req speedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Speed <= 0 {
		writeError(w, http.StatusBadRequest, "speed must be positive")
		return
	}
	h.sessionAction(w, r, func(c *session.Controller) error { return c.SetSpeed(req.Speed) })
}

func (h *Handlers) SwitchSessionTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid track request")
		return
	}
	kind := player.TrackKind(req.Kind)
	if kind != player.TrackAudio && kind != player.TrackSubtitle {
		writeError(w, http.StatusBadRequest, "kind must be audio or subtitle")
		return
	}
	h.sessionAction(w, r, func(c *session.Controller) error { return c.SwitchTrack(kind, req.ID) })
}

func (h *Handlers) NextChapter(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, func(c *session.Controller) error { return c.SeekToNextChapter() })
}

func (h *Handlers) PreviousChapter(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, func(c *session.Controller) error { return c.SeekToPreviousChapter() })
}

func (h *Handlers) SkipSegment(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, func(c *session.Controller) error { return c.SkipSegment() })
}

// SessionEvents streams session events as newline-delimited JSON until the
// session ends or the client goes away.
func (h *Handlers) SessionEvents(w http.ResponseWriter, r *http.Request) {
	ctl, ok := h.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ctl.Events():
			if !open {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
