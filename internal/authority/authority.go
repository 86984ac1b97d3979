package authority

import (
	"errors"
	"sync"

	"github.com/veritrace/veritrace/internal/crypto"
)

var (
	ErrNotAuthorized = errors.New("caller does not hold the required capability")
	ErrUnknownActor  = errors.New("actor has no granted capabilities")
)

// Capability is a bit in an actor's permission mask. Every public operation
// checks exactly one capability at its entry; the business logic that
// follows never re-checks roles.
type Capability uint16

const (
	CapRegisterItems Capability = 1 << iota
	CapTransferCustody
	CapAttest
	CapQuarantine
	CapResolveReports
	CapSetPolicy
	CapManagePool
	CapManageRoles
)

// Predefined role masks for the regulated actor classes.
const (
	RoleManufacturer = CapRegisterItems | CapTransferCustody
	RoleLab          = CapAttest
	RoleInspector    = CapQuarantine
	RoleRegulator    = CapRegisterItems | CapTransferCustody | CapAttest |
		CapQuarantine | CapResolveReports | CapSetPolicy | CapManagePool | CapManageRoles
)

// Set maps actors to their capability masks. The genesis regulator is the
// initial root of trust and grants every other role. All access serializes
// on an internal lock, so grants are safe to check and change from
// concurrent request handlers.
type Set struct {
	mu     sync.RWMutex
	grants map[crypto.ActorID]Capability
}

// NewSet creates the authority set with the genesis regulator installed.
func NewSet(regulator crypto.ActorID) *Set {
	return &Set{
		grants: map[crypto.ActorID]Capability{
			regulator: RoleRegulator,
		},
	}
}

// holds is the lock-free check; callers hold the lock.
func (s *Set) holds(actor crypto.ActorID, mask Capability) bool {
	return s.grants[actor]&mask == mask
}

// Holds reports whether the actor has every capability in mask.
func (s *Set) Holds(actor crypto.ActorID, mask Capability) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.holds(actor, mask)
}

// Require returns ErrNotAuthorized unless the actor holds every capability
// in mask.
func (s *Set) Require(actor crypto.ActorID, mask Capability) error {
	if !s.Holds(actor, mask) {
		return ErrNotAuthorized
	}
	return nil
}

// Grant adds capabilities to an actor. The caller must hold CapManageRoles.
func (s *Set) Grant(caller, actor crypto.ActorID, mask Capability) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.holds(caller, CapManageRoles) {
		return ErrNotAuthorized
	}
	s.grants[actor] |= mask
	return nil
}

// Revoke removes capabilities from an actor. The caller must hold
// CapManageRoles.
func (s *Set) Revoke(caller, actor crypto.ActorID, mask Capability) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.holds(caller, CapManageRoles) {
		return ErrNotAuthorized
	}
	current, ok := s.grants[actor]
	if !ok {
		return ErrUnknownActor
	}
	current &^= mask
	if current == 0 {
		delete(s.grants, actor)
	} else {
		s.grants[actor] = current
	}
	return nil
}

// Each calls fn for every actor with grants, used for persistence. The
// lock is held for the whole walk; fn must not call back into the set.
func (s *Set) Each(fn func(actor crypto.ActorID, mask Capability)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for actor, mask := range s.grants {
		fn(actor, mask)
	}
}

// Restore installs a grant loaded from storage.
func (s *Set) Restore(actor crypto.ActorID, mask Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[actor] = mask
}
