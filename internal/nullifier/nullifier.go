package nullifier

import (
	"github.com/veritrace/veritrace/internal/crypto"
)

// Set is the append-only record of consumed one-time identity tokens.
// A nullifier is a content-addressed guard derived from an external
// identity basis, an item and a nonce; it is not reversible to the
// underlying identity. Entries are permanent. The report ledger is the
// only writer.
type Set struct {
	used map[crypto.Hash]struct{}
}

func NewSet() *Set {
	return &Set{
		used: make(map[crypto.Hash]struct{}),
	}
}

// NewSetFrom rebuilds a set from previously consumed tokens.
func NewSetFrom(tokens []crypto.Hash) *Set {
	s := &Set{
		used: make(map[crypto.Hash]struct{}, len(tokens)),
	}
	for _, n := range tokens {
		s.used[n] = struct{}{}
	}
	return s
}

// Used reports whether the token was already consumed.
func (s *Set) Used(n crypto.Hash) bool {
	_, ok := s.used[n]
	return ok
}

// Consume marks the token as spent. Consuming an already-spent token is
// caught by the ledger's preconditions, not here.
func (s *Set) Consume(n crypto.Hash) {
	s.used[n] = struct{}{}
}

// Len returns the number of consumed tokens.
func (s *Set) Len() int {
	return len(s.used)
}

// Each calls fn for every consumed token, used for persistence.
func (s *Set) Each(fn func(n crypto.Hash)) {
	for n := range s.used {
		fn(n)
	}
}
