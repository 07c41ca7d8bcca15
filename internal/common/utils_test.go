package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate([]byte("abc"), 3))
	assert.Equal(t, "ab...", Truncate([]byte("abc"), 2))
	assert.Equal(t, "", Truncate(nil, 5))
}
