package cluster

import "strings"

const hashSlots = 16384

// noKeySentinel is the key hashed in place of a genuine key when an EVAL
// takes zero keys (there is nothing to hash the slot from, but a slot is
// still needed to pick a node).
const noKeySentinel = "no_key"

// noKeySlot is the fixed slot noKeySentinel resolves to, so it never
// collides with the "zero value means unset" ambiguity of slot 0.
const noKeySlot = 1

// Slot returns the hash slot, in [0, 16383], that key belongs to.
//
// If key contains a hashtag -- a '{' followed later by a '}' with at
// least one character between them -- only the substring between the
// first '{' and the next '}' is hashed (the canonical Redis rule). This
// is the canonical rule, not the source's "first '{' to first '}' in the
// whole string" approximation; see DESIGN.md Open Question #2 for the
// behavioral difference this makes on keys like "}foo{" or "foo}{bar}".
//
// The sentinel key "no_key" always resolves to slot 1, avoiding a hash of
// the literal string when an EVAL has zero keys.
func Slot(key string) int {
	if key == noKeySentinel {
		return noKeySlot
	}
	if start := strings.IndexByte(key, '{'); start >= 0 {
		if end := strings.IndexByte(key[start+1:], '}'); end > 0 {
			key = key[start+1 : start+1+end]
		}
	}
	return int(crc16XModem([]byte(key)) % hashSlots)
}
