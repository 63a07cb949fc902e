package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"webradio/crossfade"
	"webradio/logger"
	"webradio/metrics"
	"webradio/session"
	"webradio/station"
	"webradio/track"

	"github.com/go-chi/chi/v5"
)

// Controller is the station surface the handlers drive
type Controller interface {
	StartShow() (session.Snapshot, error)
	StopShow(ctx context.Context) error
	SwitchToVoice(ctx context.Context) error
	SwitchToMusic(ctx context.Context) error
	AddTrack(path string) (track.Track, error)
	LoadFolder(dir string) ([]string, error)
	Playlist() *track.Playlist
	Status() station.Status
	RefreshGauges() station.Status
}

// Handler exposes the show controls over HTTP using go-chi.
type Handler struct {
	ctl     Controller
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler driving ctl. Metrics may be nil.
func NewHandler(ctl Controller, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{ctl: ctl, log: log, metrics: m}
}

// Routes registers every endpoint on r
func (h *Handler) Routes(r chi.Router) {
	r.Route("/show", func(r chi.Router) {
		r.Post("/start", h.StartShow)
		r.Post("/stop", h.StopShow)
		r.Post("/voice", h.SwitchToVoice)
		r.Post("/music", h.SwitchToMusic)
		r.Get("/status", h.Status)
	})
	r.Get("/playlist", h.GetPlaylist)
	r.Post("/playlist", h.AddToPlaylist)
	r.Post("/folders/load", h.LoadFolder)
}

// NewRouter builds the full control router with request logging, request
// metrics and the Prometheus endpoint.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(h.log))
	r.Use(metrics.RequestMiddleware(h.metrics))
	if h.metrics != nil {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			h.metrics.Handler(func() { h.ctl.RefreshGauges() }).ServeHTTP(w, r)
		})
	}
	h.Routes(r)
	return r
}

type messageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type playlistEntry struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Genre    string `json:"genre,omitempty"`
	Duration string `json:"duration"`
}

type playlistResponse struct {
	Status        string          `json:"status"`
	Playlist      []playlistEntry `json:"playlist"`
	TotalDuration string          `json:"total_duration"`
	RawDuration   float64         `json:"raw_duration"`
}

type addTrackRequest struct {
	FileName   string `json:"file_name"`
	FolderPath string `json:"folder_path"`
}

type folderRequest struct {
	FolderPath string `json:"folder_path"`
}

type folderResponse struct {
	Status     string   `json:"status"`
	Files      []string `json:"files"`
	FolderPath string   `json:"folder_path"`
}

// StartShow handles POST /show/start.
func (h *Handler) StartShow(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ctl.StartShow()
	if err != nil {
		h.writeError(w, "start show", err)
		return
	}
	h.log.Info("show started", slog.String("session", snap.ID))
	writeJSON(w, http.StatusCreated, snap)
}

// StopShow handles POST /show/stop. It returns once the queued audio has
// been delivered.
func (h *Handler) StopShow(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.StopShow(r.Context()); err != nil {
		h.writeError(w, "stop show", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Status: "success", Message: "Show stopped."})
}

// SwitchToVoice handles POST /show/voice. It returns after the crossfade.
func (h *Handler) SwitchToVoice(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.SwitchToVoice(r.Context()); err != nil {
		h.writeError(w, "switch to voice", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Status: "success", Message: "Switched to voice mode with crossfade."})
}

// SwitchToMusic handles POST /show/music. It returns after the crossfade.
func (h *Handler) SwitchToMusic(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.SwitchToMusic(r.Context()); err != nil {
		h.writeError(w, "switch to music", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Status: "success", Message: "Switched back to music mode with crossfade."})
}

// Status handles GET /show/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Status())
}

// GetPlaylist handles GET /playlist.
func (h *Handler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, playlistView(h.ctl.Playlist()))
}

// AddToPlaylist handles POST /playlist.
// Body: { "file_name": "song.mp3", "folder_path": "/music" }.
func (h *Handler) AddToPlaylist(w http.ResponseWriter, r *http.Request) {
	var req addTrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid playlist body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, messageResponse{Status: "error", Message: "Invalid request body."})
		return
	}
	if req.FileName == "" || req.FolderPath == "" {
		writeJSON(w, http.StatusBadRequest, messageResponse{Status: "error", Message: "Invalid file or folder path."})
		return
	}

	// Re-adding a track is not an error; the playlist is returned unchanged.
	_, err := h.ctl.AddTrack(filepath.Join(req.FolderPath, req.FileName))
	if err != nil && !errors.Is(err, station.ErrTrackExists) {
		h.writeError(w, "add track", err)
		return
	}
	writeJSON(w, http.StatusOK, playlistView(h.ctl.Playlist()))
}

// LoadFolder handles POST /folders/load.
// Body: { "folder_path": "/music" }.
func (h *Handler) LoadFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FolderPath == "" {
		writeJSON(w, http.StatusBadRequest, messageResponse{Status: "error", Message: "Invalid folder path."})
		return
	}

	files, err := h.ctl.LoadFolder(req.FolderPath)
	if err != nil {
		h.writeError(w, "load folder", err)
		return
	}
	writeJSON(w, http.StatusOK, folderResponse{Status: "success", Files: files, FolderPath: req.FolderPath})
}

func playlistView(p *track.Playlist) playlistResponse {
	tracks := p.Tracks()
	resp := playlistResponse{Status: "success", Playlist: make([]playlistEntry, len(tracks))}
	for i, t := range tracks {
		resp.Playlist[i] = playlistEntry{
			Name:     t.Name,
			Path:     t.Path,
			Genre:    t.Genre,
			Duration: track.FormatDuration(t.Duration),
		}
	}
	total := p.TotalDuration()
	resp.TotalDuration = track.FormatDuration(total)
	resp.RawDuration = total.Round(time.Millisecond).Seconds()
	return resp
}

// statusFor maps control errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, station.ErrShowRunning),
		errors.Is(err, station.ErrNoShow),
		errors.Is(err, station.ErrEmptyPlaylist),
		errors.Is(err, station.ErrTrackExists),
		errors.Is(err, crossfade.ErrFading),
		errors.Is(err, crossfade.ErrAlreadyInState):
		return http.StatusConflict
	case errors.Is(err, station.ErrInvalidFolder),
		errors.Is(err, track.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error(op+" failed", slog.String("error", err.Error()))
	} else {
		h.log.Info(op+" rejected", slog.String("error", err.Error()))
	}
	writeJSON(w, code, messageResponse{Status: "error", Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
