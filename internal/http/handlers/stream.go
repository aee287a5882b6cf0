package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vodarr/vodarr/internal/directplay"
	"github.com/vodarr/vodarr/internal/planner"
	"github.com/vodarr/vodarr/internal/session"
	"github.com/vodarr/vodarr/internal/streaming"
	"github.com/vodarr/vodarr/internal/version"
)

const (
	contentTypeM3U8   = "application/vnd.apple.mpegurl"
	contentTypeMPEGTS = "video/mp2t"
	contentTypeM4S    = "video/iso.segment"
	contentTypeMP4    = "video/mp4"
)

// StreamHandler serves media: playlists, segments, and byte-range files.
// These are raw chi routes because media delivery needs direct control over
// status codes, range headers, and response buffering.
type StreamHandler struct {
	service *streaming.Service
	files   *directplay.Server
	logger  *slog.Logger
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(service *streaming.Service, files *directplay.Server) *StreamHandler {
	return &StreamHandler{
		service: service,
		files:   files,
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger.
func (h *StreamHandler) WithLogger(logger *slog.Logger) *StreamHandler {
	h.logger = logger
	return h
}

// RegisterChiRoutes registers the media delivery routes. Literal paths must
// be registered before the segment wildcard so chi matches them first.
func (h *StreamHandler) RegisterChiRoutes(router chi.Router) {
	router.Get("/stream/{sessionID}/master.m3u8", h.handleMaster)
	router.Get("/stream/{sessionID}/media.m3u8", h.handleMedia)
	router.Get("/stream/{sessionID}/file", h.handleFile)
	router.Head("/stream/{sessionID}/file", h.handleFile)
	router.Get("/stream/{sessionID}/{segment}", h.handleSegment)
}

func (h *StreamHandler) lookup(w http.ResponseWriter, r *http.Request) *streaming.PlaybackSession {
	id := chi.URLParam(r, "sessionID")
	ps, err := h.service.Get(id)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil
	}
	ps.Touch()
	return ps
}

func setSessionHeaders(w http.ResponseWriter, ps *streaming.PlaybackSession) {
	w.Header().Set("X-Session-Mode", string(ps.Plan.Mode))
	w.Header().Set("X-Vodarr-Version", version.Version)
}

func (h *StreamHandler) handleMaster(w http.ResponseWriter, r *http.Request) {
	ps := h.lookup(w, r)
	if ps == nil {
		return
	}
	if ps.Plan.Transport != planner.TransportHLS {
		http.Error(w, "session is not HLS transport", http.StatusConflict)
		return
	}

	setSessionHeaders(w, ps)
	w.Header().Set("Content-Type", contentTypeM3U8)
	w.Header().Set("Cache-Control", "no-store")
	w.Write([]byte(ps.MasterPlaylist()))
}

func (h *StreamHandler) handleMedia(w http.ResponseWriter, r *http.Request) {
	ps := h.lookup(w, r)
	if ps == nil {
		return
	}
	if ps.Plan.Transport != planner.TransportHLS {
		http.Error(w, "session is not HLS transport", http.StatusConflict)
		return
	}

	playlist, err := ps.MediaPlaylist(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrFirstSegmentTimeout):
			http.Error(w, "transcoder produced no output in time", http.StatusGatewayTimeout)
		case errors.Is(err, session.ErrSessionEnded):
			http.Error(w, "session has ended", http.StatusGone)
		case r.Context().Err() != nil:
			// Client went away while we waited; nothing to send.
		default:
			h.logger.Error("media playlist failed",
				slog.String("session_id", ps.ID),
				slog.Any("error", err))
			http.Error(w, "playlist unavailable", http.StatusInternalServerError)
		}
		return
	}

	setSessionHeaders(w, ps)
	w.Header().Set("Content-Type", contentTypeM3U8)
	w.Header().Set("Cache-Control", "no-store")
	w.Write([]byte(playlist))
}

func (h *StreamHandler) handleSegment(w http.ResponseWriter, r *http.Request) {
	ps := h.lookup(w, r)
	if ps == nil {
		return
	}

	name := chi.URLParam(r, "segment")
	path, err := ps.SegmentPath(name)
	if err != nil {
		http.Error(w, "segment not found", http.StatusNotFound)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		// Published in the playlist but missing on disk: the session is
		// being torn down or the filesystem is unhappy.
		h.logger.Warn("published segment missing on disk",
			slog.String("session_id", ps.ID),
			slog.String("segment", name))
		http.Error(w, "segment not available", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "segment not available", http.StatusInternalServerError)
		return
	}

	setSessionHeaders(w, ps)
	w.Header().Set("Content-Type", segmentContentType(name))
	// Segments never change once published; epoch prefixes make names
	// unique across seeks.
	w.Header().Set("Cache-Control", "max-age=3600, immutable")

	http.ServeContent(w, r, name, info.ModTime(), f)
	ps.CountDelivery(1, info.Size())
}

func segmentContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ts":
		return contentTypeMPEGTS
	case ".m4s":
		return contentTypeM4S
	case ".mp4":
		return contentTypeMP4
	default:
		return "application/octet-stream"
	}
}

func (h *StreamHandler) handleFile(w http.ResponseWriter, r *http.Request) {
	ps := h.lookup(w, r)
	if ps == nil {
		return
	}

	path, err := ps.FilePath()
	if err != nil {
		http.Error(w, "session is not range transport", http.StatusConflict)
		return
	}

	setSessionHeaders(w, ps)
	rec := &countingWriter{ResponseWriter: w}
	h.files.ServeFile(rec, r, path, ps.Tracker)
	ps.CountDelivery(0, rec.written)
}

// countingWriter counts response body bytes for delivery accounting.
type countingWriter struct {
	http.ResponseWriter
	written int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.ResponseWriter.Write(b)
	c.written += int64(n)
	return n, err
}
