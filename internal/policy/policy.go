package policy

import "errors"

var (
	ErrTiersNotOrdered     = errors.New("stake tiers not non-decreasing")
	ErrBadSlashFraction    = errors.New("slash fraction exceeds 10000 basis points")
	ErrZeroMaxOpenReports  = errors.New("max open reports must be positive")
	ErrUnknownSeverityTier = errors.New("no stake tier for severity")
)

// BasisPointDenominator is the denominator for the slash fraction.
const BasisPointDenominator = 10_000

// Parameters is the regulator-tunable configuration the ledger consults on
// every operation. Updates replace the whole set and take effect for
// subsequent operations; reports already pending keep the stake they were
// created with.
type Parameters struct {
	// Minimum stakes per severity tier, non-decreasing.
	StakeTierLow    uint64
	StakeTierMedium uint64
	StakeTierHigh   uint64

	// Reward paid from the pool per severity unit on a confirmed report.
	BaseReward uint64

	// Fraction of the stake forfeited on a rejected report, in basis points.
	SlashFractionBps uint32

	// Minimum seconds between two submissions by the same reporter.
	CooldownSeconds uint64

	// Upper bound on a reporter's simultaneously pending reports.
	MaxOpenReportsPerReporter uint32

	// Reputation floor required to file a severity-3 report.
	MinReputationForSeverity3 int64

	// Version increments on every accepted update.
	Version uint64
}

// Default returns the genesis parameter set.
func Default() Parameters {
	return Parameters{
		StakeTierLow:              100,
		StakeTierMedium:           500,
		StakeTierHigh:             2000,
		BaseReward:                50,
		SlashFractionBps:          5000,
		CooldownSeconds:           3600,
		MaxOpenReportsPerReporter: 5,
		MinReputationForSeverity3: 20,
		Version:                   1,
	}
}

// Validate checks the internal ordering constraints. It runs on every
// update before the new set replaces the old one.
func (p Parameters) Validate() error {
	if p.StakeTierLow > p.StakeTierMedium || p.StakeTierMedium > p.StakeTierHigh {
		return ErrTiersNotOrdered
	}
	if p.SlashFractionBps > BasisPointDenominator {
		return ErrBadSlashFraction
	}
	if p.MaxOpenReportsPerReporter == 0 {
		return ErrZeroMaxOpenReports
	}
	return nil
}

// StakeTierFor returns the minimum stake for a severity (1 -> low,
// 2 -> medium, 3 -> high).
func (p Parameters) StakeTierFor(severity uint8) (uint64, error) {
	switch severity {
	case 1:
		return p.StakeTierLow, nil
	case 2:
		return p.StakeTierMedium, nil
	case 3:
		return p.StakeTierHigh, nil
	default:
		return 0, ErrUnknownSeverityTier
	}
}
