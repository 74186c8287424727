package eventlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// P8: timestamp normalization at log write.
func TestNormalizeTS(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	assert.Equal(t, now.UnixMilli(), normalizeTS(0, now), "non-positive ts replaced with now")
	assert.Equal(t, now.UnixMilli(), normalizeTS(-5, now), "negative ts replaced with now")
	assert.Equal(t, now.UnixMilli(), normalizeTS(now.UnixMilli()+60_000, now), "future ts clamped to now")

	past := now.UnixMilli() - 10_000
	assert.Equal(t, past, normalizeTS(past, now), "past ts passed through unchanged")
}
