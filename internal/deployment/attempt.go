package deployment

import (
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of a deployment attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Attempt is one execution of the deployment command sequence and its
// captured outcome.
type Attempt struct {
	ID        uuid.UUID
	Timestamp time.Time
	Status    Status
	Stdout    string
	Stderr    string
	Err       error
	Duration  time.Duration

	// Delivery metadata, filled by the webhook endpoint before logging.
	DeliveryID string
	Ref        string
	Commit     string
}

// OK reports whether the attempt succeeded.
func (a Attempt) OK() bool {
	return a.Status == StatusSuccess
}

// ErrorDetail returns the error text, or "" when the attempt has no error.
func (a Attempt) ErrorDetail() string {
	if a.Err == nil {
		return ""
	}
	return a.Err.Error()
}
