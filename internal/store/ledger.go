package store

import (
	"errors"
	"fmt"

	"github.com/veritrace/veritrace/internal/authority"
	"github.com/veritrace/veritrace/internal/crypto"
	"github.com/veritrace/veritrace/internal/item"
	"github.com/veritrace/veritrace/internal/ledger"
	"github.com/veritrace/veritrace/internal/policy"
	"github.com/veritrace/veritrace/internal/reporter"
	"github.com/veritrace/veritrace/pkg/db"
	"github.com/veritrace/veritrace/pkg/serialization/codec"
)

// singleton keys for the records that exist exactly once.
var (
	policyKey   = []byte{prefixPolicy}
	metaKey     = []byte{prefixMeta}
	highRiskKey = []byte{prefixHighRisk}
)

// Ledger persists the report ledger and its collaborators in a KVStore.
type Ledger struct {
	db.KVStore
	codec codec.Codec
}

// NewLedger creates a ledger store using KVStore
func NewLedger(kv db.KVStore) *Ledger {
	return &Ledger{KVStore: kv, codec: &codec.JSONCodec{}}
}

func (s *Ledger) put(key []byte, v interface{}) error {
	bytes, err := s.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := s.Put(key, bytes); err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

func (s *Ledger) get(key []byte, v interface{}) error {
	bytes, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := s.codec.Unmarshal(bytes, v); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	return nil
}

// PutReport stores one report record.
func (s *Ledger) PutReport(rep ledger.Report) error {
	return s.put(makeReportKey(uint64(rep.ID)), rep)
}

// GetReport retrieves one report record.
func (s *Ledger) GetReport(id ledger.ReportID) (ledger.Report, error) {
	var rep ledger.Report
	if err := s.get(makeReportKey(uint64(id)), &rep); err != nil {
		return ledger.Report{}, fmt.Errorf("get report: %w", err)
	}
	return rep, nil
}

// AllReports retrieves every report in id order.
func (s *Ledger) AllReports() ([]ledger.Report, error) {
	var reports []ledger.Report
	err := s.each(prefixReport, func(value []byte) error {
		var rep ledger.Report
		if err := s.codec.Unmarshal(value, &rep); err != nil {
			return err
		}
		reports = append(reports, rep)
		return nil
	})
	return reports, err
}

// PutProfile stores a reporter profile.
func (s *Ledger) PutProfile(actor crypto.ActorID, p reporter.Profile) error {
	return s.put(makeKey(prefixProfile, actor[:]), ledger.ProfileRecord{Actor: actor, Profile: p})
}

// AllProfiles retrieves every reporter profile.
func (s *Ledger) AllProfiles() ([]ledger.ProfileRecord, error) {
	var profiles []ledger.ProfileRecord
	err := s.each(prefixProfile, func(value []byte) error {
		var rec ledger.ProfileRecord
		if err := s.codec.Unmarshal(value, &rec); err != nil {
			return err
		}
		profiles = append(profiles, rec)
		return nil
	})
	return profiles, err
}

// PutNullifier records a consumed identity token.
func (s *Ledger) PutNullifier(n crypto.Hash) error {
	if err := s.Put(makeKey(prefixNullifier, n[:]), nil); err != nil {
		return fmt.Errorf("put nullifier: %w", err)
	}
	return nil
}

// AllNullifiers retrieves every consumed identity token.
func (s *Ledger) AllNullifiers() ([]crypto.Hash, error) {
	var tokens []crypto.Hash
	start, end := prefixRange(prefixNullifier)
	iter, err := s.NewIterator(start, end)
	if err != nil {
		return nil, fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close() //nolint:errcheck

	for iter.Next() {
		if !iter.Valid() {
			break
		}
		key := iter.Key()
		var n crypto.Hash
		copy(n[:], key[1:])
		tokens = append(tokens, n)
	}
	return tokens, nil
}

// PutItem stores an item record.
func (s *Ledger) PutItem(it item.Item) error {
	return s.put(makeKey(prefixItem, it.ID[:]), it)
}

// GetItem retrieves an item record.
func (s *Ledger) GetItem(id crypto.Hash) (item.Item, error) {
	var it item.Item
	if err := s.get(makeKey(prefixItem, id[:]), &it); err != nil {
		return item.Item{}, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

// AllItems retrieves every item record.
func (s *Ledger) AllItems() ([]item.Item, error) {
	var items []item.Item
	err := s.each(prefixItem, func(value []byte) error {
		var it item.Item
		if err := s.codec.Unmarshal(value, &it); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	return items, err
}

// PutGrant stores an actor's capability mask.
func (s *Ledger) PutGrant(actor crypto.ActorID, mask authority.Capability) error {
	return s.put(makeKey(prefixGrant, actor[:]), GrantRecord{Actor: actor, Mask: mask})
}

// AllGrants retrieves every capability grant.
func (s *Ledger) AllGrants() ([]GrantRecord, error) {
	var grants []GrantRecord
	err := s.each(prefixGrant, func(value []byte) error {
		var rec GrantRecord
		if err := s.codec.Unmarshal(value, &rec); err != nil {
			return err
		}
		grants = append(grants, rec)
		return nil
	})
	return grants, err
}

// PutPolicy stores the active policy parameters.
func (s *Ledger) PutPolicy(p policy.Parameters) error {
	return s.put(policyKey, p)
}

// GetPolicy retrieves the active policy parameters.
func (s *Ledger) GetPolicy() (policy.Parameters, error) {
	var p policy.Parameters
	if err := s.get(policyKey, &p); err != nil {
		return policy.Parameters{}, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

// PutMeta stores the ledger's scalar bookkeeping state.
func (s *Ledger) PutMeta(m ledger.Meta) error {
	return s.put(metaKey, m)
}

// GetMeta retrieves the ledger's scalar bookkeeping state.
func (s *Ledger) GetMeta() (ledger.Meta, error) {
	var m ledger.Meta
	if err := s.get(metaKey, &m); err != nil {
		return ledger.Meta{}, fmt.Errorf("get meta: %w", err)
	}
	return m, nil
}

// PutHighRisk stores the high-risk index content.
func (s *Ledger) PutHighRisk(ids []crypto.Hash) error {
	return s.put(highRiskKey, ids)
}

// GetHighRisk retrieves the high-risk index content.
func (s *Ledger) GetHighRisk() ([]crypto.Hash, error) {
	var ids []crypto.Hash
	if err := s.get(highRiskKey, &ids); err != nil {
		return nil, fmt.Errorf("get high risk: %w", err)
	}
	return ids, nil
}

// SaveSnapshot writes a complete ledger snapshot atomically.
func (s *Ledger) SaveSnapshot(snap ledger.Snapshot) error {
	batch := s.NewBatch()
	defer batch.Close() //nolint:errcheck

	putRecord := func(key []byte, v interface{}) error {
		bytes, err := s.codec.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		return batch.Put(key, bytes)
	}

	for _, rep := range snap.Reports {
		if err := putRecord(makeReportKey(uint64(rep.ID)), rep); err != nil {
			return err
		}
	}
	for _, pr := range snap.Profiles {
		if err := putRecord(makeKey(prefixProfile, pr.Actor[:]), pr); err != nil {
			return err
		}
	}
	for _, n := range snap.Nullifiers {
		if err := batch.Put(makeKey(prefixNullifier, n[:]), nil); err != nil {
			return err
		}
	}
	if err := putRecord(policyKey, snap.Params); err != nil {
		return err
	}
	if err := putRecord(metaKey, snap.Meta); err != nil {
		return err
	}
	if err := putRecord(highRiskKey, snap.HighRisk); err != nil {
		return err
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit snapshot batch: %w", err)
	}
	return nil
}

// LoadSnapshot reads the persisted ledger state. A store with no meta
// record yields an empty snapshot and found=false.
func (s *Ledger) LoadSnapshot() (snap ledger.Snapshot, found bool, err error) {
	meta, err := s.GetMeta()
	if errors.Is(err, db.ErrNotFound) {
		return ledger.Snapshot{}, false, nil
	}
	if err != nil {
		return ledger.Snapshot{}, false, err
	}
	snap.Meta = meta

	if snap.Params, err = s.GetPolicy(); err != nil {
		return ledger.Snapshot{}, false, err
	}
	if snap.Reports, err = s.AllReports(); err != nil {
		return ledger.Snapshot{}, false, err
	}
	if snap.Profiles, err = s.AllProfiles(); err != nil {
		return ledger.Snapshot{}, false, err
	}
	if snap.Nullifiers, err = s.AllNullifiers(); err != nil {
		return ledger.Snapshot{}, false, err
	}
	if snap.HighRisk, err = s.GetHighRisk(); err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			return ledger.Snapshot{}, false, err
		}
		snap.HighRisk = nil
	}
	return snap, true, nil
}

// each iterates every value under a prefix.
func (s *Ledger) each(prefix byte, fn func(value []byte) error) error {
	start, end := prefixRange(prefix)
	iter, err := s.NewIterator(start, end)
	if err != nil {
		return fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close() //nolint:errcheck

	for iter.Next() {
		if !iter.Valid() {
			break
		}
		value, err := iter.Value()
		if err != nil {
			return fmt.Errorf("get iterator value: %w", err)
		}
		if err := fn(value); err != nil {
			return fmt.Errorf("unmarshal record: %w", err)
		}
	}
	return nil
}

// GrantRecord pairs an actor with its capability mask for persistence.
type GrantRecord struct {
	Actor crypto.ActorID
	Mask  authority.Capability
}
