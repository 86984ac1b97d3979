package store

import "encoding/binary"

// Prefix constants for all record types.
const (
	prefixReport byte = iota + 1
	prefixProfile
	prefixNullifier
	prefixItem
	prefixGrant
	prefixPolicy
	prefixMeta
	prefixHighRisk
)

// makeKey creates a key from a prefix and an identifier.
func makeKey(prefix byte, id []byte) []byte {
	key := make([]byte, 1+len(id))
	key[0] = prefix
	copy(key[1:], id)
	return key
}

// makeReportKey encodes report ids big-endian so iteration yields reports
// in id order.
func makeReportKey(id uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefixReport
	binary.BigEndian.PutUint64(key[1:], id)
	return key
}

// prefixRange returns the [start, end) bounds covering every key with the
// given prefix.
func prefixRange(prefix byte) (start, end []byte) {
	return []byte{prefix}, []byte{prefix + 1}
}
