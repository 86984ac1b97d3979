package network

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/veritrace/veritrace/internal/authority"
	"github.com/veritrace/veritrace/internal/crypto"
	"github.com/veritrace/veritrace/internal/item"
	"github.com/veritrace/veritrace/internal/ledger"
	"github.com/veritrace/veritrace/internal/store"
	"github.com/veritrace/veritrace/pkg/log"
)

// Persister saves ledger state after each mutation. Implemented by the
// store layer; nil disables persistence.
type Persister interface {
	SaveSnapshot(snap ledger.Snapshot) error
	PutItem(it item.Item) error
	PutGrant(actor crypto.ActorID, mask authority.Capability) error
}

var _ Persister = (*store.Ledger)(nil)

// ServiceConfig assembles the request service.
type ServiceConfig struct {
	Ledger    *ledger.Ledger
	Items     *item.Registry
	Authority *authority.Set
	// Store persists state after mutations; nil keeps the node ephemeral.
	Store Persister
	// CacheTTL bounds staleness of cached read responses; zero disables
	// the cache.
	CacheTTL time.Duration
	// Clock returns the current unix time. Defaults to the wall clock.
	Clock func() uint64
}

// Service executes decoded requests against the ledger and registries.
// Implements the transport Handler interface. The caller identity comes
// from the TLS layer, so requests carry no separate authentication.
type Service struct {
	ledger *ledger.Ledger
	items  *item.Registry
	auth   *authority.Set
	store  Persister
	cache  *cache.Cache
	clock  func() uint64
}

// NewService creates the request service.
func NewService(cfg ServiceConfig) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = func() uint64 { return uint64(time.Now().Unix()) }
	}
	var c *cache.Cache
	if cfg.CacheTTL > 0 {
		c = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return &Service{
		ledger: cfg.Ledger,
		items:  cfg.Items,
		auth:   cfg.Authority,
		store:  cfg.Store,
		cache:  c,
		clock:  clock,
	}
}

// Handle decodes and executes one request. The returned value is the
// result payload; errors are classified by the transport into wire codes.
func (s *Service) Handle(caller crypto.ActorID, kind MessageKind, payload []byte) (interface{}, error) {
	switch kind {
	case KindSubmitReport:
		return s.submitReport(caller, payload)
	case KindResolveReport:
		return s.resolveReport(caller, payload)
	case KindGetReport:
		return s.getReport(payload)
	case KindReporterProfile:
		return s.reporterProfile(payload)
	case KindListHighRisk:
		return s.listHighRisk(payload)
	case KindSummary:
		return s.summary()
	case KindRegisterItem:
		return s.registerItem(caller, payload)
	case KindTransferCustody:
		return s.transferCustody(caller, payload)
	case KindRecordAttestation:
		return s.recordAttestation(caller, payload)
	case KindQuarantine:
		return s.quarantine(caller, payload)
	case KindGetItem:
		return s.getItem(payload)
	case KindFundPool:
		return s.fundPool(caller, payload)
	case KindWithdrawPool:
		return s.withdrawPool(caller, payload)
	case KindSetPolicy:
		return s.setPolicy(caller, payload)
	case KindGetPolicy:
		return s.ledger.Policy(), nil
	case KindGrantRole:
		return s.grantRole(caller, payload)
	case KindRevokeRole:
		return s.revokeRole(caller, payload)
	default:
		return nil, ErrUnknownKind
	}
}

func decode[T any](payload []byte) (T, error) {
	var req T
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func (s *Service) submitReport(caller crypto.ActorID, payload []byte) (interface{}, error) {
	req, err := decode[SubmitReportRequest](payload)
	if err != nil {
		return nil, err
	}
	id, err := s.ledger.Submit(caller, ledger.SubmitInput{
		ItemID:      req.ItemID,
		Nullifier:   req.Nullifier,
		EvidenceRef: req.EvidenceRef,
		Reason:      req.Reason,
		Severity:    ledger.Severity(req.Severity),
		Stake:       req.Stake,
	}, s.clock())
	if err != nil {
		return nil, err
	}
	s.committed()
	return SubmitReportResponse{ReportID: id}, nil
}

func (s *Service) resolveReport(caller crypto.ActorID, payload []byte) (interface{}, error) {
	req, err := decode[ResolveReportRequest](payload)
	if err != nil {
		return nil, err
	}
	res, err := s.ledger.Resolve(caller, req.ReportID, req.ConfirmedFake, s.clock())
	if err != nil {
		return nil, err
	}
	s.committed()
	return ResolveReportResponse{Payout: res.Payout, Reputation: res.Reputation}, nil
}

func (s *Service) getReport(payload []byte) (interface{}, error) {
	req, err := decode[GetReportRequest](payload)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("report/%d", req.ReportID)
	if v, ok := s.cached(key); ok {
		return v, nil
	}
	rep, err := s.ledger.GetReport(req.ReportID)
	if err != nil {
		return nil, err
	}
	s.remember(key, rep)
	return rep, nil
}

func (s *Service) reporterProfile(payload []byte) (interface{}, error) {
	req, err := decode[ReporterProfileRequest](payload)
	if err != nil {
		return nil, err
	}
	return s.ledger.GetReporterProfile(req.Actor), nil
}

func (s *Service) listHighRisk(payload []byte) (interface{}, error) {
	req, err := decode[ListHighRiskRequest](payload)
	if err != nil {
		return nil, err
	}
	items, next := s.ledger.ListHighRisk(req.Cursor, req.Limit)
	return ListHighRiskResponse{Items: items, Next: next}, nil
}

func (s *Service) summary() (interface{}, error) {
	if v, ok := s.cached("summary"); ok {
		return v, nil
	}
	sum := s.ledger.Summary()
	s.remember("summary", sum)
	return sum, nil
}

func (s *Service) registerItem(caller crypto.ActorID, payload []byte) (interface{}, error) {
	req, err := decode[RegisterItemRequest](payload)
	if err != nil {
		return nil, err
	}
	id, err := s.items.Register(caller, item.Registration{
		ProductName:  req.ProductName,
		BatchNumber:  req.BatchNumber,
		Manufacturer: caller,
		Nonce:        req.Nonce,
	}, req.Signature, s.clock())
	if err != nil {
		return nil, err
	}
	s.committed()
	return RegisterItemResponse{ItemID: id}, nil
}

func (s *Service) transferCustody(caller crypto.ActorID, payload []byte) (interface{}, error) {
	req, err := decode[TransferCustodyRequest](payload)
	if err != nil {
		return nil, err
	}
	if err := s.items.TransferCustody(caller, req.ItemID, req.To); err != nil {
		return nil, err
	}
	s.committed()
	return nil, nil
}

func (s *Service) recordAttestation(caller crypto.ActorID, payload []byte) (interface{}, error) {
	req, err := decode[RecordAttestationRequest](payload)
	if err != nil {
		return nil, err
	}
	if err := s.items.RecordAttestation(caller, req.ItemID, req.Passed, req.EvidenceRef, s.clock()); err != nil {
		return nil, err
	}
	s.committed()
	return nil, nil
}

func (s *Service) quarantine(caller crypto.ActorID, payload []byte) (interface{}, error) {
	req, err := decode[QuarantineRequest](payload)
	if err != nil {
		return nil, err
	}
	if err := s.items.Quarantine(caller, req.ItemID, req.Quarantined); err != nil {
		return nil, err
	}
	s.committed()
	return nil, nil
}

func (s *Service) getItem(payload []byte) (interface{}, error) {
	req, err := decode[GetItemRequest](payload)
	if err != nil {
		return nil, err
	}
	key := "item/" + req.ItemID.String()
	if v, ok := s.cached(key); ok {
		return v, nil
	}
	it, err := s.items.Get(req.ItemID)
	if err != nil {
		return nil, err
	}
	s.remember(key, it)
	return it, nil
}

func (s *Service) fundPool(caller crypto.ActorID, payload []byte) (interface{}, error) {
	req, err := decode[FundPoolRequest](payload)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.FundPool(caller, req.Amount); err != nil {
		return nil, err
	}
	s.committed()
	return nil, nil
}

func (s *Service) withdrawPool(caller crypto.ActorID, payload []byte) (interface{}, error) {
	req, err := decode[WithdrawPoolRequest](payload)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.WithdrawPool(caller, req.Amount); err != nil {
		return nil, err
	}
	s.committed()
	return nil, nil
}

func (s *Service) setPolicy(caller crypto.ActorID, payload []byte) (interface{}, error) {
	req, err := decode[SetPolicyRequest](payload)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.SetPolicy(caller, req.Params); err != nil {
		return nil, err
	}
	s.committed()
	return nil, nil
}

func (s *Service) grantRole(caller crypto.ActorID, payload []byte) (interface{}, error) {
	req, err := decode[GrantRoleRequest](payload)
	if err != nil {
		return nil, err
	}
	mask, err := RoleMask(req.Role)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Grant(caller, req.Actor, mask); err != nil {
		return nil, err
	}
	s.committed()
	return nil, nil
}

func (s *Service) revokeRole(caller crypto.ActorID, payload []byte) (interface{}, error) {
	req, err := decode[RevokeRoleRequest](payload)
	if err != nil {
		return nil, err
	}
	mask, err := RoleMask(req.Role)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Revoke(caller, req.Actor, mask); err != nil {
		return nil, err
	}
	s.committed()
	return nil, nil
}

func (s *Service) cached(key string) (interface{}, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(key)
}

func (s *Service) remember(key string, v interface{}) {
	if s.cache != nil {
		s.cache.SetDefault(key, v)
	}
}

// committed runs after every successful mutation: cached reads are dropped
// and the new state is written through to storage.
func (s *Service) committed() {
	if s.cache != nil {
		s.cache.Flush()
	}
	if s.store == nil {
		return
	}
	if err := s.store.SaveSnapshot(s.ledger.Snapshot()); err != nil {
		log.Store.Error().Err(err).Msg("persist ledger snapshot")
	}
	var persistErr error
	s.items.Each(func(it item.Item) {
		if err := s.store.PutItem(it); err != nil && persistErr == nil {
			persistErr = err
		}
	})
	s.auth.Each(func(actor crypto.ActorID, mask authority.Capability) {
		if err := s.store.PutGrant(actor, mask); err != nil && persistErr == nil {
			persistErr = err
		}
	})
	if persistErr != nil {
		log.Store.Error().Err(persistErr).Msg("persist registry state")
	}
}
