package ledger

import (
	"fmt"
	"sync"

	"github.com/veritrace/veritrace/internal/authority"
	"github.com/veritrace/veritrace/internal/crypto"
	"github.com/veritrace/veritrace/internal/highrisk"
	"github.com/veritrace/veritrace/internal/nullifier"
	"github.com/veritrace/veritrace/internal/policy"
	"github.com/veritrace/veritrace/internal/reporter"
	"github.com/veritrace/veritrace/internal/safemath"
	"github.com/veritrace/veritrace/pkg/log"
)

// ReputationBlockFloor is the reputation at or below which a reporter is
// permanently blocked.
const ReputationBlockFloor = -100

// ItemAccess is the slice of the item registry the ledger consumes: the
// per-item risk facts (existence, quarantine, failed attestations) and the
// report counters it owns.
type ItemAccess interface {
	ItemExists(id crypto.Hash) bool
	IsQuarantined(id crypto.Hash) bool
	HasFailedAttestation(id crypto.Hash) bool
	SetQuarantined(id crypto.Hash, quarantined bool) error
	OpenReportCounts(id crypto.Hash) (open, pendingSevere uint32)
	AdjustOpenReportCounters(id crypto.Hash, openDelta, pendingSevereDelta int32) (open, pendingSevere uint32, err error)
}

// TransferFunc moves value out of the ledger's custody. Implementations
// may fail; the ledger attempts a transfer only after every bookkeeping
// decision is made and discards the whole operation when it fails.
type TransferFunc func(to crypto.ActorID, amount uint64) error

// Config assembles a ledger's collaborators.
type Config struct {
	Authority *authority.Set
	Items     ItemAccess
	Params    policy.Parameters
	Transfer  TransferFunc
}

type openKey struct {
	reporter crypto.ActorID
	item     crypto.Hash
}

// Ledger is the suspicious-item report ledger. It owns reports end to end:
// creation, stake custody, resolution, payout and slash computation, and
// the propagation of side effects into the reporter registry, the
// nullifier set, the high-risk index and the item registry.
//
// All mutating operations serialize on an internal mutex, so each call is
// a single indivisible state transition.
type Ledger struct {
	mu sync.Mutex

	auth       *authority.Set
	items      ItemAccess
	params     policy.Parameters
	reporters  *reporter.Registry
	nullifiers *nullifier.Set
	highRisk   *highrisk.Index
	transfer   TransferFunc

	reports    map[ReportID]*Report
	openReport map[openKey]struct{}

	// nextReportID is the last allocated id; ids start at 1 and are never
	// reused.
	nextReportID uint64

	pool          uint64
	totalReports  uint64
	openReports   uint64
	confirmedFake uint64
}

// New creates a ledger. The parameter set is validated up front.
func New(cfg Config) (*Ledger, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy parameters: %w", err)
	}
	transfer := cfg.Transfer
	if transfer == nil {
		transfer = func(crypto.ActorID, uint64) error { return nil }
	}
	return &Ledger{
		auth:       cfg.Authority,
		items:      cfg.Items,
		params:     cfg.Params,
		reporters:  reporter.NewRegistry(),
		nullifiers: nullifier.NewSet(),
		highRisk:   highrisk.NewIndex(),
		transfer:   transfer,
		reports:    make(map[ReportID]*Report),
		openReport: make(map[openKey]struct{}),
	}, nil
}

// Submit validates and records a new suspicious-item report. The supplied
// stake is custodied by the ledger until resolution. Any precondition
// failure aborts with no state change.
func (l *Ledger) Submit(actor crypto.ActorID, in SubmitInput, now uint64) (ReportID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Preconditions, checked in order; first failure wins.
	if !l.items.ItemExists(in.ItemID) {
		return 0, ErrItemNotFound
	}
	if in.Nullifier.IsZero() {
		return 0, ErrEmptyNullifier
	}
	if l.nullifiers.Used(in.Nullifier) {
		return 0, ErrNullifierUsed
	}
	if !in.Severity.IsValid() {
		return 0, ErrBadSeverity
	}

	prof := l.reporters.Get(actor)
	if prof.Blocked {
		return 0, ErrReporterBlocked
	}
	key := openKey{reporter: actor, item: in.ItemID}
	if _, dup := l.openReport[key]; dup {
		return 0, ErrDuplicateOpenReport
	}
	if prof.Open >= l.params.MaxOpenReportsPerReporter {
		return 0, ErrTooManyOpenReports
	}
	if prof.LastReportAt != 0 {
		eligibleAt, ok := safemath.Add64(prof.LastReportAt, l.params.CooldownSeconds)
		if !ok || now < eligibleAt {
			return 0, ErrCooldownActive
		}
	}
	if in.Severity == SeverityHigh && prof.Reputation < l.params.MinReputationForSeverity3 {
		return 0, ErrInsufficientReputation
	}
	tier, err := l.params.StakeTierFor(uint8(in.Severity))
	if err != nil {
		return 0, ErrBadSeverity
	}
	if in.Stake < tier {
		return 0, ErrInsufficientStake
	}

	// Effects. Everything below is in-memory under the lock and cannot
	// fail, so the operation commits as one unit.
	severeDelta := int32(0)
	if in.Severity == SeverityHigh {
		severeDelta = 1
	}
	if _, _, err := l.items.AdjustOpenReportCounters(in.ItemID, 1, severeDelta); err != nil {
		return 0, ErrItemNotFound
	}

	l.nextReportID++
	id := ReportID(l.nextReportID)
	l.reports[id] = &Report{
		ID:          id,
		ItemID:      in.ItemID,
		ReporterID:  actor,
		Nullifier:   in.Nullifier,
		EvidenceRef: in.EvidenceRef,
		Reason:      in.Reason,
		Severity:    in.Severity,
		Stake:       in.Stake,
		CreatedAt:   now,
		Status:      StatusPending,
	}
	l.nullifiers.Consume(in.Nullifier)
	l.openReport[key] = struct{}{}

	p := l.reporters.Ensure(actor)
	p.Submitted++
	p.Open++
	p.LastReportAt = now

	if in.Severity == SeverityHigh {
		l.highRisk.SetFlag(in.ItemID, true)
	}

	l.totalReports++
	l.openReports++

	log.Ledger.Info().
		Uint64("report", uint64(id)).
		Str("item", in.ItemID.String()).
		Uint8("severity", uint8(in.Severity)).
		Uint64("stake", in.Stake).
		Msg("report submitted")
	return id, nil
}

// Resolve settles a pending report as confirmed or false. The resolver
// must hold the resolve capability. The payout transfer runs after every
// bookkeeping decision; if it fails the whole operation is discarded and
// the report stays pending, so a retry is safe.
func (l *Ledger) Resolve(actor crypto.ActorID, id ReportID, confirmedFake bool, now uint64) (Resolution, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.auth.Require(actor, authority.CapResolveReports); err != nil {
		return Resolution{}, err
	}
	rep, ok := l.reports[id]
	if !ok {
		return Resolution{}, ErrReportNotFound
	}
	if rep.Status != StatusPending {
		return Resolution{}, ErrAlreadyResolved
	}

	// Decision phase: compute every outcome value without touching state.
	prof := l.reporters.Get(rep.ReporterID)
	_, pendingSevere := l.items.OpenReportCounts(rep.ItemID)
	pendingSevereAfter := pendingSevere
	if rep.Severity == SeverityHigh {
		pendingSevereAfter, _ = safemath.SaturatingSub32(pendingSevere, 1)
	}

	var (
		payout     uint64
		poolAfter  = l.pool
		slashed    uint64
		reputation int64
	)
	if confirmedFake {
		reputation = prof.Reputation + 10 + 4*int64(rep.Severity)

		reward, ok := safemath.Mul64(l.params.BaseReward, uint64(rep.Severity))
		if !ok {
			reward = l.pool
		}
		if reward > l.pool {
			reward = l.pool
		}
		var sumOK bool
		payout, sumOK = safemath.Add64(rep.Stake, reward)
		if !sumOK {
			return Resolution{}, ErrPoolOverflow
		}
		poolAfter = l.pool - reward
	} else {
		reputation = prof.Reputation - 12 - 6*int64(rep.Severity)

		var err error
		slashed, err = safemath.MulDivFloor(rep.Stake, uint64(l.params.SlashFractionBps), policy.BasisPointDenominator)
		if err != nil {
			return Resolution{}, fmt.Errorf("slash computation: %w", err)
		}
		payout = rep.Stake - slashed
		var sumOK bool
		poolAfter, sumOK = safemath.Add64(l.pool, slashed)
		if !sumOK {
			return Resolution{}, ErrPoolOverflow
		}
	}
	blocked := prof.Blocked || (!confirmedFake && reputation <= ReputationBlockFloor)

	// Transfer phase: the only fallible effect, attempted before any state
	// is mutated so failure discards the operation completely.
	if payout > 0 {
		if err := l.transfer(rep.ReporterID, payout); err != nil {
			log.Ledger.Warn().Uint64("report", uint64(id)).Err(err).Msg("payout transfer failed, resolve rolled back")
			return Resolution{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}

	// Commit phase: in-memory, cannot fail.
	rep.ResolvedAt = now
	rep.ResolverID = actor
	if confirmedFake {
		rep.Status = StatusConfirmedFake
	} else {
		rep.Status = StatusRejectedFalse
	}

	p := l.reporters.Ensure(rep.ReporterID)
	if confirmedFake {
		p.Confirmed++
	} else {
		p.Rejected++
	}
	p.Reputation = reputation
	p.Blocked = blocked
	var clamped bool
	p.Open, clamped = safemath.SaturatingSub32(p.Open, 1)
	if clamped {
		log.Ledger.Warn().Str("reporter", rep.ReporterID.String()).Msg("open report counter clamped at zero")
	}
	delete(l.openReport, openKey{reporter: rep.ReporterID, item: rep.ItemID})

	severeDelta := int32(0)
	if rep.Severity == SeverityHigh {
		severeDelta = -1
	}
	// The item existed at submit time and records are never deleted.
	_, _, _ = l.items.AdjustOpenReportCounters(rep.ItemID, -1, severeDelta)

	if confirmedFake {
		// Confirmed counterfeits are quarantined and stay high-risk
		// independent of the pending-severe count.
		_ = l.items.SetQuarantined(rep.ItemID, true)
		l.highRisk.SetFlag(rep.ItemID, true)
	} else if !l.items.IsQuarantined(rep.ItemID) && pendingSevereAfter == 0 &&
		!l.items.HasFailedAttestation(rep.ItemID) {
		// The flag clears only when no other risk reason remains: a failed
		// lab verdict keeps it raised regardless of pending reports.
		l.highRisk.SetFlag(rep.ItemID, false)
	}

	l.pool = poolAfter
	l.openReports, clamped = safemath.SaturatingSub64(l.openReports, 1)
	if clamped {
		log.Ledger.Warn().Msg("global open report counter clamped at zero")
	}
	if confirmedFake {
		l.confirmedFake++
	}

	log.Ledger.Info().
		Uint64("report", uint64(id)).
		Bool("confirmedFake", confirmedFake).
		Uint64("payout", payout).
		Uint64("slashed", slashed).
		Int64("reputation", reputation).
		Msg("report resolved")
	return Resolution{
		ReportID:      id,
		ConfirmedFake: confirmedFake,
		Payout:        payout,
		Reputation:    reputation,
	}, nil
}

// FundPool credits the reward pool. The caller must hold the pool
// capability.
func (l *Ledger) FundPool(actor crypto.ActorID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.auth.Require(actor, authority.CapManagePool); err != nil {
		return err
	}
	next, ok := safemath.Add64(l.pool, amount)
	if !ok {
		return ErrPoolOverflow
	}
	l.pool = next
	return nil
}

// WithdrawPool debits the reward pool and transfers the amount to the
// caller. The debit is checked against the balance before subtraction and
// a failed transfer leaves the pool untouched.
func (l *Ledger) WithdrawPool(actor crypto.ActorID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.auth.Require(actor, authority.CapManagePool); err != nil {
		return err
	}
	if amount > l.pool {
		return ErrInsufficientPool
	}
	if amount > 0 {
		if err := l.transfer(actor, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}
	l.pool -= amount
	return nil
}

// MarkItemRisk toggles an item's high-risk flag from a registry-side risk
// reason (failed attestation, inspector quarantine). Wired as the item
// registry's risk sink.
func (l *Ledger) MarkItemRisk(id crypto.Hash, highRisk bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.highRisk.SetFlag(id, highRisk)
}

// SetPolicy replaces the policy parameters. The new set is validated and
// takes effect for subsequent operations.
func (l *Ledger) SetPolicy(actor crypto.ActorID, p policy.Parameters) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.auth.Require(actor, authority.CapSetPolicy); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	p.Version = l.params.Version + 1
	l.params = p
	log.Ledger.Info().Uint64("version", p.Version).Msg("policy parameters updated")
	return nil
}

// Policy returns the active parameter set.
func (l *Ledger) Policy() policy.Parameters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.params
}

// GetReport returns a copy of a report.
func (l *Ledger) GetReport(id ReportID) (Report, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rep, ok := l.reports[id]
	if !ok {
		return Report{}, ErrReportNotFound
	}
	return *rep, nil
}

// GetReporterProfile returns the profile for an actor; actors that never
// reported get a zero profile.
func (l *Ledger) GetReporterProfile(actor crypto.ActorID) reporter.Profile {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reporters.Get(actor)
}

// ListHighRisk pages through the currently flagged items. The cursor is a
// plain offset into the dense array; callers must tolerate ids shifting
// between calls.
func (l *Ledger) ListHighRisk(cursor, limit uint32) ([]crypto.Hash, uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.highRisk.List(cursor, limit)
}

// IsHighRisk reports whether an item is currently flagged.
func (l *Ledger) IsHighRisk(id crypto.Hash) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.highRisk.Contains(id)
}

// Summary returns the aggregate pool view.
func (l *Ledger) Summary() PoolSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return PoolSummary{
		TotalReports:  l.totalReports,
		OpenReports:   l.openReports,
		HighRiskCount: l.highRisk.Len(),
		ConfirmedFake: l.confirmedFake,
		PoolBalance:   l.pool,
	}
}
