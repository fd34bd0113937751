package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate_RejectsBrokenPolicies(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"ratios do not sum to one", func(p *Policy) { p.Mix.ReviewRatio = 0.3 }},
		{"ease bounds inverted", func(p *Policy) { p.SRS.MinEase = 3.5 }},
		{"empty ladder", func(p *Policy) { p.SRS.NewCardLadder = nil }},
		{"zero day rung", func(p *Policy) { p.SRS.NewCardLadder = []int{0, 3, 7} }},
		{"retention too soon", func(p *Policy) { p.Gate.RetentionDelayDays = 3 }},
		{"alpha out of range", func(p *Policy) { p.Band.SmoothingAlpha = 0 }},
		{"difficult days beyond window", func(p *Policy) { p.Band.DemotionDifficultDays = 5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, shared.IsConfiguration(err))
		})
	}
}
