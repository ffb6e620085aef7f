package session

import "time"

// CreateRequest defines payload for creating a new session.
type CreateRequest struct {
	LearnerID string `json:"learner_id"`
	Mode      Mode   `json:"mode"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	LearnerID       string    `json:"learner_id"`
	Mode            Mode      `json:"mode"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
