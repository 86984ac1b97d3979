package crypto

const (
	HashSize    = 32 // Size of a Blake2b-256 digest in bytes.
	ActorIDSize = 32 // Size of an actor identity (Ed25519 public key) in bytes.
)
