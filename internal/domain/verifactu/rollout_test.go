package verifactu

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRolloutConfig_Bounds(t *testing.T) {
	taxID := "B12345678"

	assert.False(t, NewRolloutConfig(false, 100, false).ShouldUseRealTransmission(taxID), "disabled means never")
	assert.True(t, NewRolloutConfig(true, 100, false).ShouldUseRealTransmission(taxID))
	assert.True(t, NewRolloutConfig(true, 250, false).ShouldUseRealTransmission(taxID), "clamped to 100")
	assert.False(t, NewRolloutConfig(true, 0, false).ShouldUseRealTransmission(taxID))
	assert.False(t, NewRolloutConfig(true, -5, false).ShouldUseRealTransmission(taxID))
	assert.False(t, NewRolloutConfig(true, 100, true).ShouldUseRealTransmission(taxID), "simulation forced")
}

func TestRolloutBucket_Stable(t *testing.T) {
	for i := range 50 {
		taxID := fmt.Sprintf("B%08d", i)
		b := RolloutBucket(taxID)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 100)
		assert.Equal(t, b, RolloutBucket(taxID))
		assert.Equal(t, b, RolloutBucket(" "+taxID+" "), "surrounding whitespace ignored")
	}
}

func TestRolloutConfig_Monotonic(t *testing.T) {
	for i := range 200 {
		taxID := fmt.Sprintf("X%07dY", i)
		enabledAt := -1
		for p := 0; p <= 100; p++ {
			on := NewRolloutConfig(true, p, false).ShouldUseRealTransmission(taxID)
			if enabledAt >= 0 {
				assert.True(t, on, "tax id %s dropped out at %d%% after joining at %d%%", taxID, p, enabledAt)
			} else if on {
				enabledAt = p
			}
		}
		assert.Equal(t, RolloutBucket(taxID)+1, enabledAt)
	}
}

func TestRolloutBucket_Spread(t *testing.T) {
	hits := 0
	cfg := NewRolloutConfig(true, 30, false)
	for i := range 2000 {
		if cfg.ShouldUseRealTransmission(fmt.Sprintf("T%06d", i)) {
			hits++
		}
	}
	// 30% of 2000 with a generous tolerance
	assert.InDelta(t, 600, hits, 120)
}
