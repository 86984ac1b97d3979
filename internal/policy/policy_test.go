package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateTierOrdering(t *testing.T) {
	p := Default()
	p.StakeTierMedium = p.StakeTierLow - 1
	assert.ErrorIs(t, p.Validate(), ErrTiersNotOrdered)

	p = Default()
	p.StakeTierHigh = p.StakeTierMedium - 1
	assert.ErrorIs(t, p.Validate(), ErrTiersNotOrdered)

	// Equal tiers are allowed.
	p = Default()
	p.StakeTierLow = 100
	p.StakeTierMedium = 100
	p.StakeTierHigh = 100
	assert.NoError(t, p.Validate())
}

func TestValidateSlashFraction(t *testing.T) {
	p := Default()
	p.SlashFractionBps = 10_000
	assert.NoError(t, p.Validate())

	p.SlashFractionBps = 10_001
	assert.ErrorIs(t, p.Validate(), ErrBadSlashFraction)
}

func TestValidateMaxOpenReports(t *testing.T) {
	p := Default()
	p.MaxOpenReportsPerReporter = 0
	assert.ErrorIs(t, p.Validate(), ErrZeroMaxOpenReports)
}

func TestStakeTierFor(t *testing.T) {
	p := Default()

	tier, err := p.StakeTierFor(1)
	require.NoError(t, err)
	assert.Equal(t, p.StakeTierLow, tier)

	tier, err = p.StakeTierFor(2)
	require.NoError(t, err)
	assert.Equal(t, p.StakeTierMedium, tier)

	tier, err = p.StakeTierFor(3)
	require.NoError(t, err)
	assert.Equal(t, p.StakeTierHigh, tier)

	_, err = p.StakeTierFor(0)
	assert.ErrorIs(t, err, ErrUnknownSeverityTier)
	_, err = p.StakeTierFor(4)
	assert.ErrorIs(t, err, ErrUnknownSeverityTier)
}
