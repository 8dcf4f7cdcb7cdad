package logging

import (
	"github.com/google/uuid"
)

// GenerateRequestID generates a unique ID used to correlate the log lines
// of one session.
func GenerateRequestID() string {
	return uuid.NewString()
}
