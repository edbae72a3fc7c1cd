package history

import "time"

// DeploymentRecord is one logged deployment attempt in the database
type DeploymentRecord struct {
	ID              int64     `json:"id"`
	AttemptID       string    `json:"attempt_id"`
	DeliveryID      *string   `json:"delivery_id,omitempty"` // nullable
	Ref             *string   `json:"ref,omitempty"`         // nullable
	CommitHash      *string   `json:"commit_hash,omitempty"` // nullable
	Status          string    `json:"status"`                // success, failure
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	ErrorMessage    *string   `json:"error_message,omitempty"` // nullable
}
