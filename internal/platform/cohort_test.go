package platform

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCohort_Deterministic(t *testing.T) {
	for _, id := range []string{"abc123", "device-1", ""} {
		first := Cohort(id)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, Cohort(id), "cohort for %q changed between calls", id)
		}
	}
}

func TestCohort_Range(t *testing.T) {
	for i := 0; i < 1000; i++ {
		c := Cohort(fmt.Sprintf("device-%d", i))
		require.GreaterOrEqual(t, c, 0)
		require.Less(t, c, 100)
	}
}

func TestCohort_RoughlyUniform(t *testing.T) {
	const n = 20000
	buckets := make([]int, 100)
	for i := 0; i < n; i++ {
		buckets[Cohort(fmt.Sprintf("device-%d", i))]++
	}
	// Expect ~200 per bucket; allow a generous band.
	for b, count := range buckets {
		assert.Greater(t, count, 100, "bucket %d underpopulated: %d", b, count)
		assert.Less(t, count, 320, "bucket %d overpopulated: %d", b, count)
	}
}

func TestEligible_Monotonic(t *testing.T) {
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("device-%d", i)
		wasEligible := false
		for percent := 0; percent <= 100; percent++ {
			eligible := Eligible(id, percent)
			if wasEligible {
				assert.True(t, eligible, "device %s lost eligibility when percent rose to %d", id, percent)
			}
			wasEligible = wasEligible || eligible
		}
		assert.True(t, Eligible(id, 100), "every device must be eligible at 100%%")
		assert.False(t, Eligible(id, 0), "no device may be eligible at 0%%")
	}
}

func TestEligible_BoundaryIsCohort(t *testing.T) {
	id := "abc123"
	c := Cohort(id)
	assert.False(t, Eligible(id, c))
	assert.True(t, Eligible(id, c+1))
}
