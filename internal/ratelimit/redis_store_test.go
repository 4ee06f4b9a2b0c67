package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHasNoExpiryMatchesClientSentinels(t *testing.T) {
	// The client reports TTL-less and missing keys as raw -1/-2, not
	// durations in the command's precision
	assert.True(t, hasNoExpiry(time.Duration(-1)))

	assert.False(t, hasNoExpiry(time.Duration(-2)))
	assert.False(t, hasNoExpiry(-1*time.Millisecond))
	assert.False(t, hasNoExpiry(-2*time.Millisecond))
	assert.False(t, hasNoExpiry(0))
	assert.False(t, hasNoExpiry(500*time.Millisecond))
}

func TestParseSumEntry(t *testing.T) {
	tests := []struct {
		entry string
		want  float64
	}{
		{"1717243200000:25:member-a", 25},
		{"1717243200000:12.5:member-b", 12.5},
		{"1717243200000:0:member-c", 0},
		{"no-separators", 0},
		{"1717243200000:not-a-number:member", 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseSumEntry(tt.entry), "entry %q", tt.entry)
	}
}
