package reporter

import (
	"github.com/veritrace/veritrace/internal/crypto"
)

// Profile is the long-lived mutable record for one reporting actor.
// Profiles are created lazily on first submission and never deleted.
// Invariant: Open == Submitted - Confirmed - Rejected.
type Profile struct {
	Reputation   int64
	Submitted    uint32
	Confirmed    uint32
	Rejected     uint32
	Open         uint32
	LastReportAt uint64
	// Blocked is sticky: once reputation breaches the floor it never
	// resets automatically.
	Blocked bool
}

// Registry holds reporter profiles. The report ledger is the only writer;
// reads are side-effect-free.
type Registry struct {
	profiles map[crypto.ActorID]*Profile
}

func NewRegistry() *Registry {
	return &Registry{
		profiles: make(map[crypto.ActorID]*Profile),
	}
}

// Get returns the profile for an actor, or a zero-value profile if the
// actor has never reported. The returned copy is safe to inspect.
func (r *Registry) Get(actor crypto.ActorID) Profile {
	if p, ok := r.profiles[actor]; ok {
		return *p
	}
	return Profile{}
}

// Ensure returns the mutable profile for an actor, creating it on first use.
func (r *Registry) Ensure(actor crypto.ActorID) *Profile {
	p, ok := r.profiles[actor]
	if !ok {
		p = &Profile{}
		r.profiles[actor] = p
	}
	return p
}

// Len returns the number of known reporters.
func (r *Registry) Len() int {
	return len(r.profiles)
}

// Each calls fn for every known reporter, used for persistence.
func (r *Registry) Each(fn func(actor crypto.ActorID, p Profile)) {
	for actor, p := range r.profiles {
		fn(actor, *p)
	}
}

// Restore installs a profile loaded from storage.
func (r *Registry) Restore(actor crypto.ActorID, p Profile) {
	cp := p
	r.profiles[actor] = &cp
}
