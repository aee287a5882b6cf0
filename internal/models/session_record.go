package models

import (
	"encoding/json"
	"time"
)

// Session terminal states persisted in session records.
const (
	SessionStateEnded = "ended"
	SessionStateError = "error"
)

// SessionRecord is the persisted history of a playback session. Records are
// written best-effort when a session reaches a terminal state and are used for
// diagnostics and retention sweeps, never for live session bookkeeping.
type SessionRecord struct {
	BaseModel

	// SessionID is the live session identifier (UUID) the handlers exposed.
	SessionID string `gorm:"size:36;not null;uniqueIndex" json:"session_id"`

	// MediaPath is the source file that was played.
	MediaPath string `gorm:"size:1024;not null" json:"media_path"`

	// UserAgent and RemoteAddr identify the client.
	UserAgent  string `gorm:"size:512" json:"user_agent,omitempty"`
	RemoteAddr string `gorm:"size:64" json:"remote_addr,omitempty"`

	// Decision is the playback tier that was selected (direct, remux, transcode...).
	Decision string `gorm:"size:32;not null" json:"decision"`

	// DecisionReasons is a JSON array of reason codes explaining the decision.
	DecisionReasons string `gorm:"type:text" json:"decision_reasons,omitempty"`

	// VideoCodec and AudioCodec are the output codecs (empty for copy).
	VideoCodec string `gorm:"size:20" json:"video_codec,omitempty"`
	AudioCodec string `gorm:"size:20" json:"audio_codec,omitempty"`

	// Container is the segment container used (mpegts, fmp4) or the source
	// container for direct play.
	Container string `gorm:"size:20" json:"container,omitempty"`

	// State is the terminal state: ended or error.
	State string `gorm:"size:16;not null;index" json:"state"`

	// Error holds the failure detail when State is error.
	Error string `gorm:"size:1024" json:"error,omitempty"`

	// StartedAt and EndedAt bound the session lifetime.
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// LastPositionSeconds is the last known playback position.
	LastPositionSeconds float64 `gorm:"default:0" json:"last_position_seconds"`

	// Restarts counts ffmpeg process restarts across the session lifetime.
	Restarts int `gorm:"default:0" json:"restarts"`

	// Epochs counts playlist epochs (initial epoch plus one per completed seek).
	Epochs int `gorm:"default:1" json:"epochs"`

	// SegmentsServed and BytesServed record delivery volume.
	SegmentsServed int64 `gorm:"default:0" json:"segments_served"`
	BytesServed    int64 `gorm:"default:0" json:"bytes_served"`
}

// TableName returns the database table name.
func (SessionRecord) TableName() string {
	return "session_records"
}

// Validate checks the record for required fields.
func (r *SessionRecord) Validate() error {
	if r.SessionID == "" {
		return ErrSessionIDRequired
	}
	if r.MediaPath == "" {
		return ErrFilePathRequired
	}
	switch r.State {
	case SessionStateEnded, SessionStateError:
	default:
		return ErrInvalidSessionState
	}
	return nil
}

// SetDecisionReasons stores the reason codes as a JSON array.
func (r *SessionRecord) SetDecisionReasons(reasons []string) {
	if len(reasons) == 0 {
		r.DecisionReasons = ""
		return
	}
	data, err := json.Marshal(reasons)
	if err != nil {
		return
	}
	r.DecisionReasons = string(data)
}

// DecisionReasonList decodes the stored reason codes.
func (r *SessionRecord) DecisionReasonList() []string {
	if r.DecisionReasons == "" {
		return nil
	}
	var reasons []string
	if err := json.Unmarshal([]byte(r.DecisionReasons), &reasons); err != nil {
		return nil
	}
	return reasons
}

// Duration returns the session duration, or zero if still unset.
func (r *SessionRecord) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
