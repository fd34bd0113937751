package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
)

func TestNeighbors_AreKnownDomains(t *testing.T) {
	for _, d := range All() {
		ns := d.Neighbors()
		assert.NotEmpty(t, ns, d)
		for _, n := range ns {
			assert.True(t, n.IsValid(), "%s neighbour %s", d, n)
			assert.NotEqual(t, d, n)
		}
	}
}

func TestNeighbors_ReturnsCopy(t *testing.T) {
	ns := Hip.Neighbors()
	ns[0] = Tumor
	assert.Equal(t, Trauma, Hip.Neighbors()[0])
}

func TestParse(t *testing.T) {
	d, err := Parse("foot-ankle")
	require.NoError(t, err)
	assert.Equal(t, FootAnkle, d)

	_, err = Parse("cardiology")
	assert.True(t, shared.IsValidation(err))
	assert.Empty(t, Domain("cardiology").Neighbors())
}

func TestSet_Sorted(t *testing.T) {
	s := NewSet(Pediatric, Trauma, Knee)
	assert.Equal(t, []Domain{Trauma, Knee, Pediatric}, s.Sorted())
	assert.False(t, s.Has(Hip))
}
