package models

import (
	"time"
)

// Reliability verdicts persisted per client. Mirrors the direct-play
// tracker's classification.
const (
	VerdictTrusted   = "trusted"
	VerdictSuspect   = "suspect"
	VerdictUntrusted = "untrusted"
)

// ClientReliability is the persisted range-reliability verdict for one
// client, keyed by User-Agent. An untrusted client gets steered to the HLS
// transport when it next creates a session.
type ClientReliability struct {
	BaseModel

	// UserAgent identifies the client class the verdict applies to.
	UserAgent string `gorm:"size:512;not null;uniqueIndex" json:"user_agent"`

	// Verdict is the latest classification: trusted, suspect, or untrusted.
	Verdict string `gorm:"size:16;not null" json:"verdict"`

	// Samples is the request count behind the latest verdict.
	Samples int64 `gorm:"default:0" json:"samples"`

	// LastSessionID is the session that produced the verdict.
	LastSessionID string `gorm:"size:36" json:"last_session_id,omitempty"`

	LastSeenAt time.Time `json:"last_seen_at"`
}

// TableName returns the database table name.
func (ClientReliability) TableName() string {
	return "client_reliability"
}

// Validate checks the record for required fields.
func (c *ClientReliability) Validate() error {
	if c.UserAgent == "" {
		return ErrUserAgentRequired
	}
	switch c.Verdict {
	case VerdictTrusted, VerdictSuspect, VerdictUntrusted:
	default:
		return ErrInvalidVerdict
	}
	return nil
}

// Unreliable reports whether planning should avoid the range transport for
// this client.
func (c *ClientReliability) Unreliable() bool {
	return c.Verdict == VerdictUntrusted
}
