package verifactu

import (
	"encoding/binary"
	"strings"
)

// rolloutBuckets is the number of consistent-hash buckets (0-99)
const rolloutBuckets = 100

// RolloutConfig decides per company whether invoices go to the real
// authority or to the simulated path. It is an immutable value: callers
// take one snapshot per submission.
type RolloutConfig struct {
	enabled    bool
	percentage int
	simulate   bool
}

// NewRolloutConfig builds a rollout value. percentage is clamped to 0-100.
// simulate forces the simulated path regardless of the other settings.
func NewRolloutConfig(enabled bool, percentage int, simulate bool) RolloutConfig {
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}
	return RolloutConfig{enabled: enabled, percentage: percentage, simulate: simulate}
}

// Enabled reports the global switch
func (r RolloutConfig) Enabled() bool { return r.enabled }

// Percentage reports the rollout percentage
func (r RolloutConfig) Percentage() int { return r.percentage }

// Simulated reports whether the simulated path is forced
func (r RolloutConfig) Simulated() bool { return r.simulate }

// ShouldUseRealTransmission is a pure function of the company tax id: raising
// the percentage only ever adds companies.
func (r RolloutConfig) ShouldUseRealTransmission(taxID string) bool {
	if !r.enabled || r.simulate {
		return false
	}
	if r.percentage >= 100 {
		return true
	}
	if r.percentage <= 0 {
		return false
	}
	return RolloutBucket(taxID) < r.percentage
}

// RolloutBucket maps a tax id to a stable bucket in [0, 100)
func RolloutBucket(taxID string) int {
	key := strings.ToUpper(strings.TrimSpace(taxID))
	return int(murmur3([]byte("verifactu:"+key), 0) % rolloutBuckets)
}

// murmur3 is the 32-bit MurmurHash3 of data
func murmur3(data []byte, seed uint32) uint32 {
	const (
		c1 = 0xcc9e2d51
		c2 = 0x1b873593
	)

	h := seed
	nblocks := len(data) / 4
	for i := range nblocks {
		k := binary.LittleEndian.Uint32(data[i*4:])
		k *= c1
		k = rotl(k, 15)
		k *= c2
		h ^= k
		h = rotl(h, 13)
		h = h*5 + 0xe6546b64
	}

	var k uint32
	tail := data[nblocks*4:]
	switch len(tail) {
	case 3:
		k ^= uint32(tail[2]) << 16
		fallthrough
	case 2:
		k ^= uint32(tail[1]) << 8
		fallthrough
	case 1:
		k ^= uint32(tail[0])
		k *= c1
		k = rotl(k, 15)
		k *= c2
		h ^= k
	}

	h ^= uint32(len(data))
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}

func rotl(x uint32, r uint8) uint32 {
	return (x << r) | (x >> (32 - r))
}
