package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := ShortID()
		assert.Len(t, id, 8)
		for _, r := range id {
			assert.Contains(t, "0123456789abcdef", string(r))
		}
		seen[id] = struct{}{}
	}
	assert.Greater(t, len(seen), 90)
}
