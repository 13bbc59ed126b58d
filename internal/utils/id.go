package utils

import (
	"strings"

	"github.com/google/uuid"
)

// ShortID returns a random 8-character id used for threads and requests.
func ShortID() string {
	uuidStr := uuid.New().String()
	return strings.ReplaceAll(uuidStr, "-", "")[:8]
}
