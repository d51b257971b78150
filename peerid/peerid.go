// Package peerid defines the 128-bit opaque node identifier (spec §3,
// "PeerId") shared by storage, the interlink, and the wire protocol.
package peerid

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/wwwVladislav/fsync-sub000/ferr"
)

// Size is the length of an ID in bytes.
const Size = 16

// ID is a 128-bit opaque peer identifier. Lexicographic byte order is its
// tie-break ordering (spec §3).
type ID [Size]byte

// Nil is the zero ID, never a valid peer id.
var Nil ID

// Generate produces a new random ID. The random-number source itself
// (crypto/rand, via google/uuid) is an external collaborator per spec §1
// ("the UUID generator" is out of scope); this just shapes its output
// into the 128-bit ID this package defines.
func Generate() ID {
	var id ID
	copy(id[:], uuid.New()[:])
	return id
}

// FromBytes copies b (which must be 16 bytes) into a new ID.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Size {
		return id, ferr.Newf(ferr.InvalidArg, "peer id must be %d bytes, got %d", Size, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Bytes returns a copy of the id's raw bytes.
func (id ID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}

// String renders the id as lowercase hex, matching the "<peer-hex>/..."
// bucket naming scheme of spec §6.2.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Less implements the byte-order tie-break spec §3 calls for (e.g.
// interlink's "keep the session opened by the lesser id", spec §4.3).
func (id ID) Less(other ID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// IsNil reports whether id is the zero value.
func (id ID) IsNil() bool {
	return id == Nil
}
