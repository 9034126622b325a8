// Package chord implements the ring-maintenance protocol of spec section
// 4.5: identifier hashing, finger tables, join, stabilise, notify, and
// update_others. It is grounded on original_source/src/tracker/tracker.py's
// Node class, with RPC transport split out behind the RPCClient interface
// so the ring algorithm is testable without sockets.
package chord

import (
	"crypto/sha1"
	"encoding/binary"
)

// DefaultM is the identifier space exponent used when a node doesn't pick
// its own: the ring has 2^DefaultM slots.
const DefaultM = 5

// HashID reduces ip's SHA-1 digest mod 2^m to produce a ring identifier,
// matching original_source's hash_function: int.from_bytes(sha1, 'big') %
// 2**m.
func HashID(ip string, m int) uint64 {
	return KeyFromDigest(sha1.Sum([]byte(ip)), m)
}

// KeyFromDigest reduces a 20-byte SHA-1 digest mod 2^m the same way HashID
// does, for callers hashing something other than an ip:port string (an
// info-hash, for the tracker store's Chord-keyed ownership lookup).
func KeyFromDigest(digest [20]byte, m int) uint64 {
	// The digest mod 2^m for any m <= 64 depends only on its low 8 bytes,
	// since reducing mod a power of two keeps just the low-order bits of
	// the full big-endian integer.
	low := binary.BigEndian.Uint64(digest[12:20])
	return low % ringSize(m)
}

// ringSize returns 2^m.
func ringSize(m int) uint64 {
	return uint64(1) << uint(m)
}

// isBetween reports whether value lies in the half-open clockwise
// interval (start, end] on the ring. A ring wraps, so
// start > end is the common case for fingers near the origin.
func isBetween(value, start, end uint64) bool {
	if start < end {
		return value > start && value <= end
	}
	// start >= end: the arc wraps past the origin. When start == end
	// this degenerates to the full ring, matching the reference
	// implementation's formula.
	return value > start || value <= end
}
