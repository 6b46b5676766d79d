package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlacementMarkerIsHTMLComment(t *testing.T) {
	assert.True(t, strings.HasPrefix(PlacementMarker, "<!--"))
	assert.True(t, strings.HasSuffix(PlacementMarker, "-->"))
}

func TestDefaults(t *testing.T) {
	assert.Equal(t, 20, DefaultBatchSize)
	assert.Equal(t, 1, DefaultWorkerCount)
	assert.Greater(t, DefaultQueueCapacity, DefaultWorkerCount)
}
