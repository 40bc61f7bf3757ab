package platform

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// Cohort maps a device ID to a stable bucket in [0,100). The bucket is the
// first eight bytes of the BLAKE3 hash of the ID reduced modulo 100, so it is
// deterministic, uniformly distributed, and independent of rollout state.
func Cohort(deviceID string) int {
	sum := blake3.Sum256([]byte(deviceID))
	return int(binary.BigEndian.Uint64(sum[:8]) % 100)
}

// Eligible reports whether a device falls inside the rollout percentage.
// For a fixed device, raising the percentage can only flip the result from
// false to true.
func Eligible(deviceID string, rolloutPercent int) bool {
	return Cohort(deviceID) < rolloutPercent
}
