package platform

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID_ReturnsValidUUIDString(t *testing.T) {
	id := NewID()
	assert.NotEmpty(t, id)
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, id)
}

func TestNewID_ReturnsUniqueValues(t *testing.T) {
	seen := make(map[string]bool, 100)
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.False(t, seen[id], "duplicate ID generated: %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, 100)
}

func TestNewAlias_Format(t *testing.T) {
	pattern := regexp.MustCompile(`^dev_[a-z0-9]{10}$`)
	for i := 0; i < 20; i++ {
		assert.Regexp(t, pattern, NewAlias("dev_"))
	}
}

func TestNewAlias_ReturnsUniqueValues(t *testing.T) {
	seen := make(map[string]bool, 100)
	for i := 0; i < 100; i++ {
		alias := NewAlias("dev_")
		assert.False(t, seen[alias], "duplicate alias generated: %s", alias)
		seen[alias] = true
	}
	assert.Len(t, seen, 100)
}
