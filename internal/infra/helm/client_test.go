package helm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlattenSetValues(t *testing.T) {
	got := flattenSetValues(map[string]string{
		"image.tag":     "1.2.3",
		"replicaCount":  "3",
		"image.restart": "Always",
	})
	// deterministic order so helm sees a stable value list
	assert.Equal(t, []string{"image.restart=Always", "image.tag=1.2.3", "replicaCount=3"}, got)
}

func TestFlattenSetValuesEmpty(t *testing.T) {
	assert.Nil(t, flattenSetValues(nil))
	assert.Nil(t, flattenSetValues(map[string]string{}))
}
