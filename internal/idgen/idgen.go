// Package idgen mints prefixed identifiers ("ra_", "oh_", "req_", "evt_").
//
// An ID is the prefix followed by 24 hex characters: a 48-bit big-endian
// unix millisecond timestamp and 48 random bits. IDs minted in different
// milliseconds sort by creation time, which keeps history pages stable when
// two orders share a created_at.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"time"
)

var now = time.Now

// WithPrefix returns prefix + 24 hex chars.
func WithPrefix(prefix string) string {
	var b [12]byte
	ms := uint64(now().UnixMilli()) // #nosec G115 -- post-1970 clock
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], ms)
	copy(b[:6], ts[2:])
	if _, err := rand.Read(b[6:]); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b[:])
}
