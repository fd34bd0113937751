// Package seed derives reproducible random sources from stable keys.
// The same learner on the same day always gets the same interleaving draw
// and the same retention sample, whichever process computes it.
package seed

import (
	"encoding/binary"
	"math/rand/v2"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Derive hashes the parts into two 64-bit words.
func Derive(parts ...string) (uint64, uint64) {
	sum := blake2b.Sum256([]byte(strings.Join(parts, "\x1f")))
	return binary.BigEndian.Uint64(sum[0:8]), binary.BigEndian.Uint64(sum[8:16])
}

// Rand returns a PCG source seeded from parts.
func Rand(parts ...string) *rand.Rand {
	hi, lo := Derive(parts...)
	return rand.New(rand.NewPCG(hi, lo))
}

// ForLearnerDay is the source for one learner's calendar day (YYYY-MM-DD)
// and purpose, e.g. "mix" or "next-domain".
func ForLearnerDay(learnerID, day, purpose string) *rand.Rand {
	return Rand("ortokompanion", purpose, learnerID, day)
}
