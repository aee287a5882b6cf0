package directplay

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
)

// Server serves byte ranges from source files through the handle cache,
// recording every outcome into the session's reliability tracker.
type Server struct {
	cache  *FileCache
	logger *slog.Logger
}

// NewServer creates a range server backed by the given handle cache.
func NewServer(cache *FileCache, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{cache: cache, logger: logger}
}

// ServeFile answers one request for the file: 200 for full reads and
// syntactically invalid ranges, 206 for satisfiable ranges, 416 otherwise.
// The tracker may be nil for untracked requests.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, path string, tracker *ReliabilityTracker) {
	f, size, err := s.cache.Get(path)
	if err != nil {
		s.logger.Warn("direct play open failed", "path", path, "error", err)
		http.Error(w, "media not available", http.StatusNotFound)
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}

	rng, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrRangeNotSatisfiable):
		w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		record(tracker, 0, 0, false)
		return
	case errors.Is(err, ErrInvalidRange):
		// RFC 7233: a malformed Range header is ignored.
		record(tracker, 0, 0, false)
		rng = nil
	}

	start, length := int64(0), size
	status := http.StatusOK
	if rng != nil {
		start, length = rng.Start, rng.Length()
		status = http.StatusPartialContent
		w.Header().Set("Content-Range", rng.ContentRange(size))
	}
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		record(tracker, start, 0, true)
		return
	}

	n, err := io.Copy(w, io.NewSectionReader(f, start, length))
	ok := err == nil && n == length
	record(tracker, start, n, ok)
	if !ok {
		// Client disconnects land here; only log short reads at debug.
		s.logger.Debug("range request ended early",
			"path", path, "start", start, "sent", n, "want", length, "error", err)
	}
}

func record(t *ReliabilityTracker, start, length int64, success bool) {
	if t != nil {
		t.Record(start, length, success)
	}
}
