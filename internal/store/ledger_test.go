package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritrace/veritrace/internal/authority"
	"github.com/veritrace/veritrace/internal/crypto"
	"github.com/veritrace/veritrace/internal/item"
	"github.com/veritrace/veritrace/internal/ledger"
	"github.com/veritrace/veritrace/internal/policy"
	"github.com/veritrace/veritrace/internal/reporter"
	"github.com/veritrace/veritrace/internal/testutils"
	"github.com/veritrace/veritrace/pkg/db/pebble"
)

func newTestStore(t *testing.T) *Ledger {
	t.Helper()
	kv, err := pebble.NewKVStore()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, kv.Close(), "failed to close db")
	})
	return NewLedger(kv)
}

func TestPutGetReport(t *testing.T) {
	s := newTestStore(t)
	expected := ledger.Report{
		ID:          7,
		ItemID:      testutils.RandomHash(t),
		ReporterID:  testutils.RandomActorID(t),
		Nullifier:   testutils.RandomHash(t),
		EvidenceRef: testutils.RandomHash(t),
		Reason:      "seal tampered",
		Severity:    ledger.SeverityMedium,
		Stake:       500,
		CreatedAt:   1234,
		Status:      ledger.StatusPending,
	}

	require.NoError(t, s.PutReport(expected))
	got, err := s.GetReport(7)
	require.NoError(t, err)
	assert.Equal(t, expected, got)

	_, err = s.GetReport(8)
	assert.Error(t, err)
}

func TestAllReportsOrderedById(t *testing.T) {
	s := newTestStore(t)
	// Insert out of order; iteration must return ids ascending.
	for _, id := range []ledger.ReportID{300, 2, 41} {
		require.NoError(t, s.PutReport(ledger.Report{ID: id, Stake: uint64(id)}))
	}

	reports, err := s.AllReports()
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, ledger.ReportID(2), reports[0].ID)
	assert.Equal(t, ledger.ReportID(41), reports[1].ID)
	assert.Equal(t, ledger.ReportID(300), reports[2].ID)
}

func TestProfileRoundTrip(t *testing.T) {
	s := newTestStore(t)
	actor := testutils.RandomActorID(t)
	prof := reporter.Profile{
		Reputation:   -42,
		Submitted:    9,
		Confirmed:    3,
		Rejected:     4,
		Open:         2,
		LastReportAt: 777,
		Blocked:      false,
	}

	require.NoError(t, s.PutProfile(actor, prof))
	profiles, err := s.AllProfiles()
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, actor, profiles[0].Actor)
	assert.Equal(t, prof, profiles[0].Profile)
}

func TestNullifierRoundTrip(t *testing.T) {
	s := newTestStore(t)
	a := testutils.RandomHash(t)
	b := testutils.RandomHash(t)

	require.NoError(t, s.PutNullifier(a))
	require.NoError(t, s.PutNullifier(b))

	tokens, err := s.AllNullifiers()
	require.NoError(t, err)
	assert.ElementsMatch(t, []crypto.Hash{a, b}, tokens)
}

func TestItemRoundTrip(t *testing.T) {
	s := newTestStore(t)
	it := item.Item{
		ID:           testutils.RandomHash(t),
		ProductName:  "rifampicin 150mg",
		BatchNumber:  "K-114",
		Manufacturer: testutils.RandomActorID(t),
		Custodian:    testutils.RandomActorID(t),
		RegisteredAt: 99,
		Quarantined:  true,
		OpenReports:  2,
		Attestations: []item.Attestation{
			{Lab: testutils.RandomActorID(t), Passed: false, EvidenceRef: testutils.RandomHash(t), At: 120},
		},
	}

	require.NoError(t, s.PutItem(it))
	got, err := s.GetItem(it.ID)
	require.NoError(t, err)
	assert.Equal(t, it, got)

	items, err := s.AllItems()
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestGrantRoundTrip(t *testing.T) {
	s := newTestStore(t)
	actor := testutils.RandomActorID(t)

	require.NoError(t, s.PutGrant(actor, authority.RoleRegulator))
	grants, err := s.AllGrants()
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, actor, grants[0].Actor)
	assert.Equal(t, authority.RoleRegulator, grants[0].Mask)
}

func TestSnapshotSaveLoad(t *testing.T) {
	s := newTestStore(t)

	// A fresh store reports no snapshot.
	_, found, err := s.LoadSnapshot()
	require.NoError(t, err)
	assert.False(t, found)

	snap := ledger.Snapshot{
		Reports: []ledger.Report{
			{ID: 1, Stake: 100, Status: ledger.StatusRejectedFalse},
			{ID: 2, Stake: 500, Status: ledger.StatusPending},
		},
		Profiles: []ledger.ProfileRecord{
			{Actor: testutils.RandomActorID(t), Profile: reporter.Profile{Reputation: 14, Submitted: 2, Confirmed: 1, Rejected: 1}},
		},
		Nullifiers: []crypto.Hash{testutils.RandomHash(t), testutils.RandomHash(t)},
		HighRisk:   []crypto.Hash{testutils.RandomHash(t)},
		Params:     policy.Default(),
		Meta: ledger.Meta{
			NextReportID:  2,
			Pool:          350,
			TotalReports:  2,
			OpenReports:   1,
			ConfirmedFake: 0,
		},
	}

	require.NoError(t, s.SaveSnapshot(snap))

	loaded, found, err := s.LoadSnapshot()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, snap.Reports, loaded.Reports)
	assert.ElementsMatch(t, snap.Nullifiers, loaded.Nullifiers)
	assert.Equal(t, snap.HighRisk, loaded.HighRisk)
	assert.Equal(t, snap.Params, loaded.Params)
	assert.Equal(t, snap.Meta, loaded.Meta)
	require.Len(t, loaded.Profiles, 1)
	assert.Equal(t, snap.Profiles[0], loaded.Profiles[0])

	// The loaded snapshot rebuilds a working ledger.
	restored, err := ledger.New(ledger.Config{
		Authority: authority.NewSet(testutils.RandomActorID(t)),
		Items:     item.NewRegistry(authority.NewSet(testutils.RandomActorID(t))),
		Params:    policy.Default(),
	})
	require.NoError(t, err)
	require.NoError(t, restored.Restore(loaded))
	assert.Equal(t, uint64(350), restored.Summary().PoolBalance)
	assert.Equal(t, uint64(2), restored.Summary().TotalReports)
}
