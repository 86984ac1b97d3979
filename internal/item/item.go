package item

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/veritrace/veritrace/internal/authority"
	"github.com/veritrace/veritrace/internal/crypto"
	"github.com/veritrace/veritrace/internal/safemath"
	"github.com/veritrace/veritrace/pkg/log"
)

var (
	ErrItemNotFound = errors.New("item not found")
	ErrItemExists   = errors.New("item already registered")
	ErrBadSignature = errors.New("registration signature invalid")
	ErrNotCustodian = errors.New("caller is not the current custodian")
)

// signingDomain separates registration signatures from any other payloads
// an actor key might sign.
const signingDomain = "veritrace.item.v1"

// Registration is the payload a manufacturer signs to mint a new item
// record. The item identifier is the Blake2b digest of the signing bytes,
// so identical payloads collide and re-registration is rejected.
type Registration struct {
	ProductName  string
	BatchNumber  string
	Manufacturer crypto.ActorID
	Nonce        uint64
}

// SigningBytes returns the canonical byte encoding covered by the
// registration signature.
func (r Registration) SigningBytes() []byte {
	buf := make([]byte, 0, len(signingDomain)+len(r.ProductName)+len(r.BatchNumber)+crypto.ActorIDSize+16)
	buf = append(buf, signingDomain...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.ProductName)))
	buf = append(buf, r.ProductName...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.BatchNumber)))
	buf = append(buf, r.BatchNumber...)
	buf = append(buf, r.Manufacturer[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, r.Nonce)
	return buf
}

// ID derives the item identifier from the registration payload.
func (r Registration) ID() crypto.Hash {
	return crypto.HashData(r.SigningBytes())
}

// Attestation is a lab's pass/fail verdict over an item sample.
type Attestation struct {
	Lab         crypto.ActorID
	Passed      bool
	EvidenceRef crypto.Hash
	At          uint64
}

// Item is one traceability record.
type Item struct {
	ID           crypto.Hash
	ProductName  string
	BatchNumber  string
	Manufacturer crypto.ActorID
	Custodian    crypto.ActorID
	RegisteredAt uint64
	Quarantined  bool

	// Counters adjusted only by the report ledger.
	OpenReports   uint32
	PendingSevere uint32

	// FailedAttestations counts failed lab verdicts. A nonzero count is an
	// independent risk reason and keeps the high-risk flag from clearing.
	FailedAttestations uint32

	Attestations []Attestation
}

// RiskSink receives high-risk flag signals for an item. The report ledger
// wires its index in here so registry-side events (failed attestations,
// inspector quarantine) reach the flagged working set.
type RiskSink func(id crypto.Hash, highRisk bool)

// Registry holds the item records the report ledger consumes. Mutating
// operations are capability-gated at entry. All access serializes on an
// internal lock; risk signals fire after the lock is released, because the
// sink takes the ledger's mutex and the ledger calls back into the
// registry while holding it.
type Registry struct {
	mu       sync.RWMutex
	auth     *authority.Set
	items    map[crypto.Hash]*Item
	riskSink RiskSink
}

func NewRegistry(auth *authority.Set) *Registry {
	return &Registry{
		auth:  auth,
		items: make(map[crypto.Hash]*Item),
	}
}

// SetRiskSink installs the high-risk signal receiver. Called once during
// node assembly, before any traffic.
func (r *Registry) SetRiskSink(sink RiskSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.riskSink = sink
}

// signalRisk forwards a flag change to the sink. Callers must not hold the
// registry lock.
func (r *Registry) signalRisk(id crypto.Hash, highRisk bool) {
	r.mu.RLock()
	sink := r.riskSink
	r.mu.RUnlock()
	if sink != nil {
		sink(id, highRisk)
	}
}

// Register mints a new item record. The caller must hold CapRegisterItems
// and must have signed the registration payload with its identity key.
func (r *Registry) Register(caller crypto.ActorID, reg Registration, signature []byte, now uint64) (crypto.Hash, error) {
	if err := r.auth.Require(caller, authority.CapRegisterItems); err != nil {
		return crypto.Hash{}, err
	}
	if reg.Manufacturer != caller {
		return crypto.Hash{}, ErrBadSignature
	}
	if !ed25519.Verify(caller.PublicKey(), reg.SigningBytes(), signature) {
		return crypto.Hash{}, ErrBadSignature
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := reg.ID()
	if _, exists := r.items[id]; exists {
		return crypto.Hash{}, ErrItemExists
	}

	r.items[id] = &Item{
		ID:           id,
		ProductName:  reg.ProductName,
		BatchNumber:  reg.BatchNumber,
		Manufacturer: caller,
		Custodian:    caller,
		RegisteredAt: now,
	}
	log.Registry.Info().Str("item", id.String()).Str("custodian", caller.String()).Msg("item registered")
	return id, nil
}

// TransferCustody moves an item to a new custodian. Only the current
// custodian may transfer, and it must hold CapTransferCustody.
func (r *Registry) TransferCustody(caller crypto.ActorID, id crypto.Hash, to crypto.ActorID) error {
	if err := r.auth.Require(caller, authority.CapTransferCustody); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.items[id]
	if !ok {
		return ErrItemNotFound
	}
	if it.Custodian != caller {
		return ErrNotCustodian
	}
	it.Custodian = to
	return nil
}

// RecordAttestation appends a lab verdict. A failed attestation is an
// independent risk reason: it forces the high-risk flag and leaves a
// durable mark that keeps the flag from clearing later.
func (r *Registry) RecordAttestation(caller crypto.ActorID, id crypto.Hash, passed bool, evidenceRef crypto.Hash, now uint64) error {
	if err := r.auth.Require(caller, authority.CapAttest); err != nil {
		return err
	}

	r.mu.Lock()
	it, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return ErrItemNotFound
	}
	it.Attestations = append(it.Attestations, Attestation{
		Lab:         caller,
		Passed:      passed,
		EvidenceRef: evidenceRef,
		At:          now,
	})
	if !passed {
		it.FailedAttestations++
	}
	r.mu.Unlock()

	if !passed {
		r.signalRisk(id, true)
	}
	return nil
}

// Quarantine is the inspector-facing quarantine toggle. Clearing a
// quarantine drops the high-risk flag only when no other risk reason
// remains: no pending severe reports and no failed attestations.
func (r *Registry) Quarantine(caller crypto.ActorID, id crypto.Hash, quarantined bool) error {
	if err := r.auth.Require(caller, authority.CapQuarantine); err != nil {
		return err
	}

	r.mu.Lock()
	it, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return ErrItemNotFound
	}
	it.Quarantined = quarantined
	clearFlag := !quarantined && it.PendingSevere == 0 && it.FailedAttestations == 0
	r.mu.Unlock()

	if quarantined {
		r.signalRisk(id, true)
	} else if clearFlag {
		r.signalRisk(id, false)
	}
	return nil
}

// ItemExists reports whether an item is registered.
func (r *Registry) ItemExists(id crypto.Hash) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[id]
	return ok
}

// IsQuarantined reports the item's quarantine flag; unknown items are not
// quarantined.
func (r *Registry) IsQuarantined(id crypto.Hash) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if it, ok := r.items[id]; ok {
		return it.Quarantined
	}
	return false
}

// HasFailedAttestation reports whether the item carries at least one
// failed lab verdict.
func (r *Registry) HasFailedAttestation(id crypto.Hash) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if it, ok := r.items[id]; ok {
		return it.FailedAttestations > 0
	}
	return false
}

// SetQuarantined is the ledger-facing quarantine write, used when a report
// is confirmed. Capability enforcement happened at the ledger's entry.
func (r *Registry) SetQuarantined(id crypto.Hash, quarantined bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return ErrItemNotFound
	}
	it.Quarantined = quarantined
	return nil
}

// OpenReportCounts returns the item's open-report and pending-severe
// counters.
func (r *Registry) OpenReportCounts(id crypto.Hash) (open, pendingSevere uint32) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if it, ok := r.items[id]; ok {
		return it.OpenReports, it.PendingSevere
	}
	return 0, 0
}

// AdjustOpenReportCounters applies deltas to the item's report counters,
// flooring at zero. Hitting the floor means an upstream invariant was
// already violated, so it is logged rather than silently absorbed.
func (r *Registry) AdjustOpenReportCounters(id crypto.Hash, openDelta, pendingSevereDelta int32) (open, pendingSevere uint32, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return 0, 0, ErrItemNotFound
	}
	it.OpenReports = applyDelta(id, "openReports", it.OpenReports, openDelta)
	it.PendingSevere = applyDelta(id, "pendingSevere", it.PendingSevere, pendingSevereDelta)
	return it.OpenReports, it.PendingSevere, nil
}

func applyDelta(id crypto.Hash, name string, current uint32, delta int32) uint32 {
	if delta >= 0 {
		return current + uint32(delta)
	}
	v, clamped := safemath.SaturatingSub32(current, uint32(-delta))
	if clamped {
		log.Registry.Warn().Str("item", id.String()).Str("counter", name).
			Uint32("current", current).Int32("delta", delta).
			Msg("report counter clamped at zero")
	}
	return v
}

// Get returns a copy of the item record.
func (r *Registry) Get(id crypto.Hash) (Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	cp := *it
	cp.Attestations = append([]Attestation(nil), it.Attestations...)
	return cp, nil
}

// Len returns the number of registered items.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Each calls fn for every item, used for persistence. The lock is held for
// the whole walk; fn must not call back into the registry.
func (r *Registry) Each(fn func(it Item)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, it := range r.items {
		cp := *it
		cp.Attestations = append([]Attestation(nil), it.Attestations...)
		fn(cp)
	}
}

// Restore installs an item loaded from storage.
func (r *Registry) Restore(it Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := it
	r.items[it.ID] = &cp
}
