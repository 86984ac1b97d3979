package network

import (
	"crypto/ed25519"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritrace/veritrace/internal/authority"
	"github.com/veritrace/veritrace/internal/crypto"
	"github.com/veritrace/veritrace/internal/item"
	"github.com/veritrace/veritrace/internal/ledger"
	"github.com/veritrace/veritrace/internal/policy"
	"github.com/veritrace/veritrace/internal/store"
	"github.com/veritrace/veritrace/internal/testutils"
	"github.com/veritrace/veritrace/pkg/db/pebble"
)

type serviceEnv struct {
	svc       *Service
	ledger    *ledger.Ledger
	items     *item.Registry
	auth      *authority.Set
	store     *store.Ledger
	regulator crypto.ActorID
	mfr       crypto.ActorID
	mfrKey    ed25519.PrivateKey
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()

	regulator := testutils.RandomActorID(t)
	mfr, mfrKey := testutils.RandomKeyPair(t)

	auth := authority.NewSet(regulator)
	require.NoError(t, auth.Grant(regulator, mfr, authority.RoleManufacturer))

	items := item.NewRegistry(auth)
	params := policy.Default()
	params.CooldownSeconds = 0
	params.MinReputationForSeverity3 = 0

	led, err := ledger.New(ledger.Config{
		Authority: auth,
		Items:     items,
		Params:    params,
	})
	require.NoError(t, err)
	items.SetRiskSink(led.MarkItemRisk)

	kv, err := pebble.NewKVStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	st := store.NewLedger(kv)

	svc := NewService(ServiceConfig{
		Ledger:    led,
		Items:     items,
		Authority: auth,
		Store:     st,
		CacheTTL:  time.Minute,
		Clock:     func() uint64 { return 1000 },
	})
	return &serviceEnv{
		svc:       svc,
		ledger:    led,
		items:     items,
		auth:      auth,
		store:     st,
		regulator: regulator,
		mfr:       mfr,
		mfrKey:    mfrKey,
	}
}

func (e *serviceEnv) call(t *testing.T, caller crypto.ActorID, kind MessageKind, req interface{}) (interface{}, error) {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	return e.svc.Handle(caller, kind, payload)
}

func (e *serviceEnv) registerItem(t *testing.T, nonce uint64) crypto.Hash {
	t.Helper()
	reg := item.Registration{
		ProductName:  "amoxicillin 500mg",
		BatchNumber:  "B-7",
		Manufacturer: e.mfr,
		Nonce:        nonce,
	}
	sig := ed25519.Sign(e.mfrKey, reg.SigningBytes())
	res, err := e.call(t, e.mfr, KindRegisterItem, RegisterItemRequest{
		ProductName: reg.ProductName,
		BatchNumber: reg.BatchNumber,
		Nonce:       nonce,
		Signature:   sig,
	})
	require.NoError(t, err)
	return res.(RegisterItemResponse).ItemID
}

func TestServiceReportLifecycle(t *testing.T) {
	env := newServiceEnv(t)
	itemID := env.registerItem(t, 1)
	reporter := testutils.RandomActorID(t)

	res, err := env.call(t, reporter, KindSubmitReport, SubmitReportRequest{
		ItemID:    itemID,
		Nullifier: testutils.RandomHash(t),
		Reason:    "packaging mismatch",
		Severity:  1,
		Stake:     policy.Default().StakeTierLow,
	})
	require.NoError(t, err)
	reportID := res.(SubmitReportResponse).ReportID
	assert.Equal(t, ledger.ReportID(1), reportID)

	res, err = env.call(t, env.regulator, KindResolveReport, ResolveReportRequest{
		ReportID:      reportID,
		ConfirmedFake: true,
	})
	require.NoError(t, err)
	resolved := res.(ResolveReportResponse)
	assert.Equal(t, policy.Default().StakeTierLow, resolved.Payout, "empty pool pays stake only")
	assert.Equal(t, int64(14), resolved.Reputation)

	res, err = env.call(t, reporter, KindGetReport, GetReportRequest{ReportID: reportID})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusConfirmedFake, res.(ledger.Report).Status)

	// Confirmed counterfeits are quarantined and flagged.
	res, err = env.call(t, reporter, KindGetItem, GetItemRequest{ItemID: itemID})
	require.NoError(t, err)
	assert.True(t, res.(item.Item).Quarantined)
	assert.True(t, env.ledger.IsHighRisk(itemID))
}

func TestServiceErrorsPassThrough(t *testing.T) {
	env := newServiceEnv(t)
	itemID := env.registerItem(t, 2)
	reporter := testutils.RandomActorID(t)

	_, err := env.call(t, reporter, KindSubmitReport, SubmitReportRequest{
		ItemID:    testutils.RandomHash(t),
		Nullifier: testutils.RandomHash(t),
		Severity:  1,
		Stake:     policy.Default().StakeTierLow,
	})
	assert.ErrorIs(t, err, ledger.ErrItemNotFound)

	_, err = env.call(t, reporter, KindSubmitReport, SubmitReportRequest{
		ItemID:    itemID,
		Nullifier: testutils.RandomHash(t),
		Severity:  1,
		Stake:     0,
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientStake)

	// Resolving needs the regulator capability.
	_, err = env.call(t, reporter, KindResolveReport, ResolveReportRequest{ReportID: 1})
	assert.ErrorIs(t, err, authority.ErrNotAuthorized)

	_, err = env.svc.Handle(reporter, MessageKind(200), []byte("{}"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestServiceRoleManagement(t *testing.T) {
	env := newServiceEnv(t)
	lab := testutils.RandomActorID(t)

	_, err := env.call(t, env.regulator, KindGrantRole, GrantRoleRequest{Actor: lab, Role: "lab"})
	require.NoError(t, err)
	assert.True(t, env.auth.Holds(lab, authority.CapAttest))

	// Non-regulators cannot grant.
	_, err = env.call(t, lab, KindGrantRole, GrantRoleRequest{Actor: lab, Role: "regulator"})
	assert.ErrorIs(t, err, authority.ErrNotAuthorized)

	_, err = env.call(t, env.regulator, KindRevokeRole, RevokeRoleRequest{Actor: lab, Role: "lab"})
	require.NoError(t, err)
	assert.False(t, env.auth.Holds(lab, authority.CapAttest))
}

func TestServicePoolAndPolicy(t *testing.T) {
	env := newServiceEnv(t)

	_, err := env.call(t, env.regulator, KindFundPool, FundPoolRequest{Amount: 900})
	require.NoError(t, err)

	res, err := env.call(t, env.regulator, KindSummary, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, uint64(900), res.(ledger.PoolSummary).PoolBalance)

	params := policy.Default()
	params.BaseReward = 99
	_, err = env.call(t, env.regulator, KindSetPolicy, SetPolicyRequest{Params: params})
	require.NoError(t, err)

	res, err = env.call(t, env.regulator, KindGetPolicy, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, uint64(99), res.(policy.Parameters).BaseReward)

	_, err = env.call(t, env.regulator, KindWithdrawPool, WithdrawPoolRequest{Amount: 901})
	assert.ErrorIs(t, err, ledger.ErrInsufficientPool)
}

// TestServiceConcurrentRequests drives Handle from many goroutines the way
// the transport does, one per stream. Run with -race.
func TestServiceConcurrentRequests(t *testing.T) {
	env := newServiceEnv(t)
	itemID := env.registerItem(t, 1)

	const workers = 8

	type job struct {
		caller  crypto.ActorID
		kind    MessageKind
		payload []byte
	}
	var jobs []job
	mustPayload := func(req interface{}) []byte {
		payload, err := json.Marshal(req)
		require.NoError(t, err)
		return payload
	}

	for i := 0; i < workers; i++ {
		reg := item.Registration{
			ProductName:  "amoxicillin 500mg",
			BatchNumber:  "B-7",
			Manufacturer: env.mfr,
			Nonce:        uint64(100 + i),
		}
		jobs = append(jobs, job{env.mfr, KindRegisterItem, mustPayload(RegisterItemRequest{
			ProductName: reg.ProductName,
			BatchNumber: reg.BatchNumber,
			Nonce:       reg.Nonce,
			Signature:   ed25519.Sign(env.mfrKey, reg.SigningBytes()),
		})})

		jobs = append(jobs, job{testutils.RandomActorID(t), KindSubmitReport, mustPayload(SubmitReportRequest{
			ItemID:    itemID,
			Nullifier: testutils.RandomHash(t),
			Reason:    "packaging mismatch",
			Severity:  1,
			Stake:     policy.Default().StakeTierLow,
		})})

		jobs = append(jobs, job{env.regulator, KindGrantRole, mustPayload(GrantRoleRequest{
			Actor: testutils.RandomActorID(t),
			Role:  "lab",
		})})

		jobs = append(jobs, job{env.regulator, KindGetItem, mustPayload(GetItemRequest{ItemID: itemID})})
		jobs = append(jobs, job{env.regulator, KindSummary, mustPayload(struct{}{})})
	}

	errCh := make(chan error, len(jobs))
	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			_, err := env.svc.Handle(j.caller, j.kind, j.payload)
			errCh <- err
		}(j)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		assert.NoError(t, err)
	}

	assert.Equal(t, workers+1, env.items.Len())
	sum := env.ledger.Summary()
	assert.Equal(t, uint64(workers), sum.TotalReports)
	assert.Equal(t, uint64(workers), sum.OpenReports)

	grants, err := env.store.AllGrants()
	require.NoError(t, err)
	// Regulator, manufacturer, and one lab per worker.
	assert.Len(t, grants, workers+2)
}

func TestServicePersistsAfterMutation(t *testing.T) {
	env := newServiceEnv(t)
	itemID := env.registerItem(t, 3)
	reporter := testutils.RandomActorID(t)

	_, err := env.call(t, reporter, KindSubmitReport, SubmitReportRequest{
		ItemID:    itemID,
		Nullifier: testutils.RandomHash(t),
		Severity:  1,
		Stake:     policy.Default().StakeTierLow,
	})
	require.NoError(t, err)

	snap, found, err := env.store.LoadSnapshot()
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, snap.Reports, 1)
	assert.Equal(t, ledger.StatusPending, snap.Reports[0].Status)

	items, err := env.store.AllItems()
	require.NoError(t, err)
	assert.Len(t, items, 1)

	grants, err := env.store.AllGrants()
	require.NoError(t, err)
	assert.Len(t, grants, 2)
}
