// Package handlers provides the HTTP API handlers for vodarr.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/vodarr/vodarr/internal/capabilities"
	"github.com/vodarr/vodarr/internal/codec"
	"github.com/vodarr/vodarr/internal/http/middleware"
	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/planner"
	"github.com/vodarr/vodarr/internal/repository"
	"github.com/vodarr/vodarr/internal/streaming"
)

// SessionHandler handles the playback session lifecycle API.
type SessionHandler struct {
	service *streaming.Service
	records repository.SessionRecordRepository
	logger  *slog.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(service *streaming.Service) *SessionHandler {
	return &SessionHandler{
		service: service,
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger.
func (h *SessionHandler) WithLogger(logger *slog.Logger) *SessionHandler {
	h.logger = logger
	return h
}

// WithRecords enables the session history endpoint.
func (h *SessionHandler) WithRecords(records repository.SessionRecordRepository) *SessionHandler {
	h.records = records
	return h
}

// CreateSessionInput is the input for creating a playback session.
type CreateSessionInput struct {
	UserAgent string `header:"User-Agent"`
	Body      struct {
		MediaPath string `json:"media_path" required:"true" doc:"Path to the media file on the server"`

		StartOffset      float64 `json:"start_offset,omitempty" doc:"Initial playback position in seconds"`
		AudioLanguage    string  `json:"audio_language,omitempty" doc:"Preferred audio track language (ISO 639)"`
		SubtitleLanguage string  `json:"subtitle_language,omitempty" doc:"Subtitle track language, empty for none"`
		BurnSubtitles    bool    `json:"burn_subtitles,omitempty" doc:"Render subtitles into the video (forces transcode)"`
		MaxBitrate       int64   `json:"max_bitrate,omitempty" doc:"Bitrate cap in bits per second"`
		HWAccel          string  `json:"hw_accel,omitempty" doc:"Hardware pipeline: auto, none, cuda, qsv, vaapi, videotoolbox"`

		// Capabilities declares what the client can play. Omitted fields
		// fall back to the device profile matched by User-Agent.
		Capabilities *capabilities.ClientCapabilities `json:"capabilities,omitempty"`
	}
}

// SessionResponse describes a created or inspected session.
type SessionResponse struct {
	SessionID     string                `json:"session_id"`
	Mode          planner.Mode          `json:"mode"`
	Transport     planner.Transport     `json:"transport"`
	Container     string                `json:"container"`
	PlaybackURL   string                `json:"playback_url"`
	StartPosition float64               `json:"start_position" doc:"Resolved initial position in seconds"`
	Plan          *planner.PlaybackPlan `json:"plan,omitempty"`
}

// CreateSessionOutput is the output for creating a playback session.
type CreateSessionOutput struct {
	Body SessionResponse
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createSession",
		Method:        "POST",
		Path:          "/api/v1/sessions",
		Summary:       "Create a playback session",
		Description:   "Probes the media, decides between direct play, remux, and transcode for this client, and starts the session.",
		Tags:          []string{"Sessions"},
		DefaultStatus: 201,
	}, h.CreateSession)

	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      "GET",
		Path:        "/api/v1/sessions",
		Summary:     "List active sessions",
		Tags:        []string{"Sessions"},
	}, h.ListSessions)

	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      "GET",
		Path:        "/api/v1/sessions/{sessionID}",
		Summary:     "Get session state",
		Tags:        []string{"Sessions"},
	}, h.GetSession)

	huma.Register(api, huma.Operation{
		OperationID: "heartbeatSession",
		Method:      "POST",
		Path:        "/api/v1/sessions/{sessionID}/heartbeat",
		Summary:     "Keep a session alive",
		Description: "Marks the session as in use and records the client's playback position. Sessions without heartbeats or media requests are reaped after the idle timeout.",
		Tags:        []string{"Sessions"},
	}, h.Heartbeat)

	huma.Register(api, huma.Operation{
		OperationID: "seekSession",
		Method:      "POST",
		Path:        "/api/v1/sessions/{sessionID}/seek",
		Summary:     "Seek to a new position",
		Description: "Restarts the transcode at the requested position in a new playlist epoch. Returns once the first segment of the new epoch exists. Concurrent seeks are serialized; the last one wins.",
		Tags:        []string{"Sessions"},
	}, h.Seek)

	huma.Register(api, huma.Operation{
		OperationID: "switchTrack",
		Method:      "POST",
		Path:        "/api/v1/sessions/{sessionID}/switch-track",
		Summary:     "Switch tracks mid-session",
		Description: "Restarts the transcode in a new epoch at the current position. The plan is immutable; a switch that needs a different codec or container needs a new session.",
		Tags:        []string{"Sessions"},
	}, h.SwitchTrack)

	huma.Register(api, huma.Operation{
		OperationID: "pauseSession",
		Method:      "POST",
		Path:        "/api/v1/sessions/{sessionID}/pause",
		Summary:     "Pause a session",
		Description: "Stops the transcode process while keeping the session and its output. Already delivered segments stay available.",
		Tags:        []string{"Sessions"},
	}, h.Pause)

	huma.Register(api, huma.Operation{
		OperationID: "resumeSession",
		Method:      "POST",
		Path:        "/api/v1/sessions/{sessionID}/resume",
		Summary:     "Resume a paused session",
		Tags:        []string{"Sessions"},
	}, h.Resume)

	huma.Register(api, huma.Operation{
		OperationID: "endSession",
		Method:      "DELETE",
		Path:        "/api/v1/sessions/{sessionID}",
		Summary:     "End a session",
		Description: "Stops the process, persists the session record, and removes the session's output directory.",
		Tags:        []string{"Sessions"},
	}, h.EndSession)

	huma.Register(api, huma.Operation{
		OperationID: "listSessionHistory",
		Method:      "GET",
		Path:        "/api/v1/history",
		Summary:     "List recent session records",
		Tags:        []string{"Sessions"},
	}, h.History)
}

// RegisterChiRoutes registers the playback-decision preview. It is a raw chi
// route because capability overrides arrive as query parameters on a plain
// GET, the same shape players use when they attach overrides to media URLs.
func (h *SessionHandler) RegisterChiRoutes(router chi.Router) {
	router.Get("/api/v1/playback-decision", h.handleDecision)
}

// DecisionResponse is the body of the playback-decision preview.
type DecisionResponse struct {
	MediaPath string                `json:"media_path"`
	Mode      planner.Mode          `json:"mode"`
	Transport planner.Transport     `json:"transport"`
	Container string                `json:"container"`
	Plan      *planner.PlaybackPlan `json:"plan"`
}

// handleDecision answers "how would this media play for this client"
// without creating a session. The client baseline comes from the device
// profile matched by User-Agent, overlaid with any query overrides.
func (h *SessionHandler) handleDecision(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path query parameter is required", http.StatusBadRequest)
		return
	}

	base := h.service.BaseCapabilities(r.Context(), r.UserAgent())
	client := capabilities.FromRequest(r, base)

	media, plan, err := h.service.Preview(r.Context(), path, client, planner.Preferences{})
	if err != nil {
		h.logger.Warn("playback decision failed", slog.String("media", path), slog.Any("error", err))
		http.Error(w, "could not inspect media", http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(DecisionResponse{
		MediaPath: media.Path,
		Mode:      plan.Mode,
		Transport: plan.Transport,
		Container: plan.Container,
		Plan:      plan,
	})
}

// CreateSession creates a playback session.
func (h *SessionHandler) CreateSession(ctx context.Context, input *CreateSessionInput) (*CreateSessionOutput, error) {
	prefs := planner.Preferences{
		AudioLanguage:    input.Body.AudioLanguage,
		SubtitleLanguage: input.Body.SubtitleLanguage,
		BurnSubtitles:    input.Body.BurnSubtitles,
		MaxBitrate:       input.Body.MaxBitrate,
		HWAccel:          codec.HWAccel(input.Body.HWAccel),
	}

	ps, err := h.service.CreateSession(ctx, streaming.CreateRequest{
		MediaPath:   input.Body.MediaPath,
		UserAgent:   input.UserAgent,
		RemoteAddr:  middleware.GetRemoteAddr(ctx),
		Client:      input.Body.Capabilities,
		Preferences: prefs,
		StartOffset: input.Body.StartOffset,
	})
	if err != nil {
		if errors.Is(err, streaming.ErrTooManySessions) {
			return nil, huma.Error503ServiceUnavailable("session limit reached")
		}
		return nil, huma.Error422UnprocessableEntity("failed to create session", err)
	}

	return &CreateSessionOutput{Body: sessionResponse(ps)}, nil
}

func sessionResponse(ps *streaming.PlaybackSession) SessionResponse {
	resp := SessionResponse{
		SessionID:     ps.ID,
		Mode:          ps.Plan.Mode,
		Transport:     ps.Plan.Transport,
		Container:     ps.Plan.Container,
		StartPosition: ps.StartPosition,
		Plan:          ps.Plan,
	}
	if ps.Plan.Transport == planner.TransportHLS {
		resp.PlaybackURL = "/stream/" + ps.ID + "/master.m3u8"
	} else {
		resp.PlaybackURL = "/stream/" + ps.ID + "/file"
	}
	return resp
}

// SessionIDInput selects a session by path parameter.
type SessionIDInput struct {
	SessionID string `path:"sessionID" doc:"Session identifier"`
}

// SessionInfoOutput is the output for session state queries.
type SessionInfoOutput struct {
	Body streaming.SessionInfo
}

// GetSession returns a snapshot of one session.
func (h *SessionHandler) GetSession(ctx context.Context, input *SessionIDInput) (*SessionInfoOutput, error) {
	ps, err := h.service.Get(input.SessionID)
	if err != nil {
		return nil, huma.Error404NotFound("session not found")
	}
	return &SessionInfoOutput{Body: ps.Info()}, nil
}

// ListSessionsOutput is the output for listing active sessions.
type ListSessionsOutput struct {
	Body struct {
		Sessions []streaming.SessionInfo `json:"sessions"`
		Count    int                     `json:"count"`
	}
}

// ListSessions returns snapshots of all active sessions.
func (h *SessionHandler) ListSessions(ctx context.Context, _ *struct{}) (*ListSessionsOutput, error) {
	infos := h.service.List()
	out := &ListSessionsOutput{}
	out.Body.Sessions = infos
	out.Body.Count = len(infos)
	return out, nil
}

// PositionInput carries a playback position for heartbeat and seek.
type PositionInput struct {
	SessionID string `path:"sessionID" doc:"Session identifier"`
	Body      struct {
		Position float64 `json:"position_seconds" minimum:"0" doc:"Playback position in seconds"`
	}
}

// Heartbeat keeps a session alive.
func (h *SessionHandler) Heartbeat(ctx context.Context, input *PositionInput) (*struct{}, error) {
	if err := h.service.Heartbeat(input.SessionID, input.Body.Position); err != nil {
		return nil, huma.Error404NotFound("session not found")
	}
	return &struct{}{}, nil
}

// Seek restarts the session at a new position.
func (h *SessionHandler) Seek(ctx context.Context, input *PositionInput) (*SessionInfoOutput, error) {
	if err := h.service.Seek(ctx, input.SessionID, input.Body.Position); err != nil {
		switch {
		case errors.Is(err, streaming.ErrSessionNotFound):
			return nil, huma.Error404NotFound("session not found")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, huma.Error504GatewayTimeout("seek interrupted")
		default:
			return nil, huma.Error500InternalServerError("seek failed", err)
		}
	}
	ps, err := h.service.Get(input.SessionID)
	if err != nil {
		return nil, huma.Error404NotFound("session not found")
	}
	return &SessionInfoOutput{Body: ps.Info()}, nil
}

// SwitchTrackInput carries the reason for a mid-session track change.
type SwitchTrackInput struct {
	SessionID string `path:"sessionID" doc:"Session identifier"`
	Body      struct {
		Reason string `json:"reason,omitempty" doc:"What changed, e.g. audio language"`
	}
}

// SwitchTrack restarts the session's transcode in a new epoch at the current
// position.
func (h *SessionHandler) SwitchTrack(ctx context.Context, input *SwitchTrackInput) (*SessionInfoOutput, error) {
	reason := input.Body.Reason
	if reason == "" {
		reason = "client request"
	}
	if err := h.service.SwitchTrack(ctx, input.SessionID, reason); err != nil {
		switch {
		case errors.Is(err, streaming.ErrSessionNotFound):
			return nil, huma.Error404NotFound("session not found")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, huma.Error504GatewayTimeout("track switch interrupted")
		default:
			return nil, huma.Error500InternalServerError("track switch failed", err)
		}
	}
	ps, err := h.service.Get(input.SessionID)
	if err != nil {
		return nil, huma.Error404NotFound("session not found")
	}
	return &SessionInfoOutput{Body: ps.Info()}, nil
}

// Pause stops the transcode while keeping the session.
func (h *SessionHandler) Pause(ctx context.Context, input *SessionIDInput) (*struct{}, error) {
	if err := h.service.Pause(input.SessionID); err != nil {
		if errors.Is(err, streaming.ErrSessionNotFound) {
			return nil, huma.Error404NotFound("session not found")
		}
		return nil, huma.Error409Conflict("session cannot pause", err)
	}
	return &struct{}{}, nil
}

// Resume restarts a paused session.
func (h *SessionHandler) Resume(ctx context.Context, input *SessionIDInput) (*struct{}, error) {
	if err := h.service.Resume(input.SessionID); err != nil {
		if errors.Is(err, streaming.ErrSessionNotFound) {
			return nil, huma.Error404NotFound("session not found")
		}
		return nil, huma.Error409Conflict("session cannot resume", err)
	}
	return &struct{}{}, nil
}

// EndSession tears a session down. Deleting an unknown or already-ended
// session succeeds, matching the service's idempotent stop semantics.
func (h *SessionHandler) EndSession(ctx context.Context, input *SessionIDInput) (*struct{}, error) {
	if err := h.service.EndSession(input.SessionID, "client stopped"); err != nil {
		return nil, huma.Error500InternalServerError("end session failed", err)
	}
	return &struct{}{}, nil
}

// HistoryInput is the input for listing session records.
type HistoryInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Maximum records to return"`
}

// HistoryOutput is the output for listing session records.
type HistoryOutput struct {
	Body struct {
		Records []*models.SessionRecord `json:"records"`
	}
}

// History returns recent terminal session records, newest first.
func (h *SessionHandler) History(ctx context.Context, input *HistoryInput) (*HistoryOutput, error) {
	if h.records == nil {
		return nil, huma.Error501NotImplemented("session history is not enabled")
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	records, err := h.records.GetRecent(queryCtx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list session history", err)
	}

	out := &HistoryOutput{}
	out.Body.Records = records
	return out, nil
}
