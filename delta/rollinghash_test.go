package delta

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRollingHashMatchesFreshChecksum verifies the incremental roll()
// update produces the same checksum as hashing the shifted window from
// scratch, for every position in a pseudo-random byte stream. A rolling
// hash whose incremental update drifts from the whole-window checksum
// would make BuildSignature and ComputeDelta disagree on which blocks
// match.
func TestRollingHashMatchesFreshChecksum(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	const windowSize = 37
	data := make([]byte, windowSize+500)
	rng.Read(data)

	rh := newRollingHash(data[:windowSize])
	require.Equal(t, adlerChecksum(data[:windowSize]), rh.sum())

	for i := 1; i+windowSize <= len(data); i++ {
		rh.roll(data[i+windowSize-1])
		want := adlerChecksum(data[i : i+windowSize])
		require.Equalf(t, want, rh.sum(), "mismatch after rolling to offset %d", i)
	}
}

func TestRollingHashStableOnRepeatedBlock(t *testing.T) {
	block := make([]byte, 16)
	for i := range block {
		block[i] = 0
	}
	rh := newRollingHash(block)
	sum := rh.sum()
	for i := 0; i < 16; i++ {
		rh.roll(0)
		require.Equal(t, sum, rh.sum())
	}
}
