package ledger

import (
	"github.com/veritrace/veritrace/internal/crypto"
)

// ReportID is a monotonic report identifier. Ids are never reused.
type ReportID uint64

// Severity grades a report from routine (1) to severe (3). Severity 3
// requires reputation and forces the item into the high-risk set while
// the report is pending.
type Severity uint8

const (
	SeverityLow    Severity = 1
	SeverityMedium Severity = 2
	SeverityHigh   Severity = 3
)

// IsValid reports whether the severity is in range.
func (s Severity) IsValid() bool {
	return s >= SeverityLow && s <= SeverityHigh
}

// ReportStatus is the report lifecycle state. The only legal transition is
// Pending to exactly one of ConfirmedFake or RejectedFalse.
type ReportStatus uint8

const (
	StatusPending ReportStatus = iota
	StatusConfirmedFake
	StatusRejectedFalse
)

func (s ReportStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmedFake:
		return "confirmedFake"
	case StatusRejectedFalse:
		return "rejectedFalse"
	default:
		return "unknown"
	}
}

// Report is one suspicious-item report. The ledger owns it for its whole
// lifetime; once resolved only the listed bookkeeping fields have changed.
type Report struct {
	ID          ReportID
	ItemID      crypto.Hash
	ReporterID  crypto.ActorID
	Nullifier   crypto.Hash
	EvidenceRef crypto.Hash
	Reason      string
	Severity    Severity
	// Stake is the value actually received at submission; it may exceed
	// the tier minimum and the excess stays staked, not rewarded.
	Stake      uint64
	CreatedAt  uint64
	ResolvedAt uint64
	Status     ReportStatus
	ResolverID crypto.ActorID
}

// SubmitInput is the caller-supplied part of a report submission.
type SubmitInput struct {
	ItemID      crypto.Hash
	Nullifier   crypto.Hash
	EvidenceRef crypto.Hash
	Reason      string
	Severity    Severity
	Stake       uint64
}

// Resolution is the outcome of resolving a report.
type Resolution struct {
	ReportID      ReportID
	ConfirmedFake bool
	Payout        uint64
	// Reputation is the reporter's score after the resolution.
	Reputation int64
}

// PoolSummary is the aggregate view exposed to dashboards.
type PoolSummary struct {
	TotalReports  uint64
	OpenReports   uint64
	HighRiskCount int
	ConfirmedFake uint64
	PoolBalance   uint64
}
