package store

import "encoding/binary"

func u64key(v uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, v)
	return k
}

func keyU64(k []byte) uint64 {
	return binary.BigEndian.Uint64(k)
}
