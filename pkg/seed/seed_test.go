package seed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func draw(n int, parts ...string) []int {
	r := Rand(parts...)
	out := make([]int, n)
	for i := range out {
		out[i] = r.IntN(1000)
	}
	return out
}

func TestRand_Reproducible(t *testing.T) {
	assert.Equal(t, draw(8, "a", "2026-01-01"), draw(8, "a", "2026-01-01"))
	assert.NotEqual(t, draw(8, "a", "2026-01-01"), draw(8, "a", "2026-01-02"))
}

func TestDerive_SeparatesParts(t *testing.T) {
	h1, l1 := Derive("ab", "c")
	h2, l2 := Derive("a", "bc")
	assert.False(t, h1 == h2 && l1 == l2)
}

func TestForLearnerDay_PurposeMatters(t *testing.T) {
	a := ForLearnerDay("l-1", "2026-01-01", "mix").Uint64()
	b := ForLearnerDay("l-1", "2026-01-01", "retention").Uint64()
	assert.NotEqual(t, a, b)
}
