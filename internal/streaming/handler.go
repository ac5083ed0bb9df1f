package streaming

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"tunestream/internal/catalog"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// Handler exposes the streaming HTTP endpoints using go-chi.
type Handler struct {
	svc      *Service
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler returns a Handler that uses the given Service and Logger.
// Session metrics are recorded by the Service.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{
		svc:      svc,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 << 10,
			WriteBufferSize: 64 << 10,
		},
	}
}

// Mount registers the endpoints on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/tracks/{track_id}", func(r chi.Router) {
		r.Get("/qualities", h.GetQualities)
		r.Get("/master.m3u8", h.GetMasterPlaylist)
	})
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.Get("/connect", h.Connect)
		r.Get("/{session_id}", h.GetSession)
		r.Post("/{session_id}/end", h.EndSession)
	})
}

// GetQualities handles GET /tracks/{track_id}/qualities.
func (h *Handler) GetQualities(w http.ResponseWriter, r *http.Request) {
	trackID := chi.URLParam(r, "track_id")
	if trackID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	resp, err := h.svc.Qualities(r.Context(), trackID)
	if err != nil {
		h.writeError(w, err, slog.String("track_id", trackID))
		return
	}
	if resp.Degraded {
		h.log.Info("serving degraded quality list", slog.String("track_id", trackID))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetMasterPlaylist handles GET /tracks/{track_id}/master.m3u8.
func (h *Handler) GetMasterPlaylist(w http.ResponseWriter, r *http.Request) {
	trackID := chi.URLParam(r, "track_id")
	if trackID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	m3u8, err := h.svc.MasterPlaylist(r.Context(), trackID)
	if err != nil {
		h.writeError(w, err, slog.String("track_id", trackID))
		return
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(m3u8))
}

// Connect handles GET /sessions/connect by upgrading to a websocket and
// serving a playback session on it until the client leaves.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	if err := h.svc.Serve(r.Context(), conn); err != nil {
		h.log.Debug("session closed", slog.String("error", err.Error()))
	}
}

// ListSessions handles GET /sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Sessions())
}

// GetSession handles GET /sessions/{session_id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	info, err := h.svc.Session(id)
	if err != nil {
		h.writeError(w, err, slog.String("session_id", string(id)))
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// EndSession handles POST /sessions/{session_id}/end.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := SessionID(chi.URLParam(r, "session_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.svc.EndSession(id); err != nil {
		h.writeError(w, err, slog.String("session_id", string(id)))
		return
	}

	h.log.Info("session playback ended", slog.String("session_id", string(id)))
	w.WriteHeader(http.StatusNoContent)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps service errors to status codes. Anything unrecognised is
// logged and reported as a 500 without detail.
func (h *Handler) writeError(w http.ResponseWriter, err error, attr slog.Attr) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, catalog.ErrTrackNotFound),
		errors.Is(err, catalog.ErrNoAudio),
		errors.Is(err, ErrNoSegmentedDelivery),
		errors.Is(err, ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, catalog.ErrCatalogUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.log.Error("request failed", attr, slog.String("error", err.Error()))
		h.writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
		return
	}
	h.log.Debug("request rejected", attr, slog.Int("status", status), slog.String("error", err.Error()))
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("writing response", slog.String("error", err.Error()))
	}
}
