package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

const sample = `
items:
  - id: trauma-1
    domain: trauma
    band: B
    type: quiz
  - id: hip-1
    domain: hip
    band: C
    type: micro-case
  - id: trauma-2
    domain: trauma
    band: A
    type: teaching-pearl
`

func TestParse(t *testing.T) {
	c, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	assert.Equal(t, 3, c.Size())

	ctx := context.Background()
	trauma, err := c.ItemsByDomain(ctx, topic.Trauma)
	require.NoError(t, err)
	require.Len(t, trauma, 2)
	assert.Equal(t, "trauma-1", trauma[0].ID)
	assert.Equal(t, band.B, trauma[0].Band)
	assert.Equal(t, srs.ItemTeachingPearl, trauma[1].ItemType)

	hip, err := c.Item(ctx, "hip-1")
	require.NoError(t, err)
	assert.Equal(t, band.C, hip.Band)

	totals, err := c.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[topic.Domain]int{topic.Trauma: 2, topic.Hip: 1}, totals)
}

func TestItem_NotFound(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)

	_, err = c.Item(context.Background(), "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown domain": "items:\n  - {id: x, domain: elbow, band: A, type: quiz}\n",
		"bad band":       "items:\n  - {id: x, domain: hip, band: F, type: quiz}\n",
		"bad type":       "items:\n  - {id: x, domain: hip, band: A, type: essay}\n",
		"missing id":     "items:\n  - {domain: hip, band: A, type: quiz}\n",
		"duplicate":      "items:\n  - {id: x, domain: hip, band: A, type: quiz}\n  - {id: x, domain: knee, band: A, type: quiz}\n",
		"unknown field":  "items:\n  - {id: x, domain: hip, band: A, type: quiz, level: 3}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	c, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, c.Size())
}
