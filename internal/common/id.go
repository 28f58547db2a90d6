package common

import (
	"github.com/google/uuid"
)

// NewProfileID generates a unique profile ID with the "prof_" prefix
// Format: prof_<uuid>
func NewProfileID() string {
	return "prof_" + uuid.New().String()
}
