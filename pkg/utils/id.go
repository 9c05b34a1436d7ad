package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID generates a prefixed opaque unique token.
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// GenerateSessionID generates a unique session ID
func GenerateSessionID() string {
	return GenerateID("session")
}

// GenerateRecordingID generates a unique recording ID
func GenerateRecordingID() string {
	return GenerateID("rec")
}

// GenerateUserID generates a unique anonymous participant ID
func GenerateUserID() string {
	return GenerateID("user")
}

// GenerateTraceID generates a unique trace ID
func GenerateTraceID() string {
	return uuid.NewString()
}
