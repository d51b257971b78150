package store

import (
	"encoding/binary"

	"go.etcd.io/bbolt"
	"github.com/wwwVladislav/fsync-sub000/ferr"
)

// IDAllocator issues u32 ids that are reused after Free, per spec §4.1.3.
// It is built on two nested buckets, "used" and "free", under a caller-
// supplied root bucket path -- bbolt buckets keep keys in byte order, so
// Cursor().Last() on "used" gives max(used) directly, the same trick
// fdb_id_generate (original_source/fdb/src/sync/ids.c) plays against its
// DUP map's last-duplicate-value cursor op.
type IDAllocator struct {
	rootPath []string
}

// NewIDAllocator returns an allocator rooted at the given bucket path,
// e.g. NewIDAllocator("dir_ids") or NewIDAllocator(peerHex, "sfid").
func NewIDAllocator(rootPath ...string) *IDAllocator {
	return &IDAllocator{rootPath: rootPath}
}

func (a *IDAllocator) usedBucket(tx *Tx, create bool) (*bbolt.Bucket, error) {
	return Bucket(tx, create, append(append([]string{}, a.rootPath...), "used")...)
}

func (a *IDAllocator) freeBucket(tx *Tx, create bool) (*bbolt.Bucket, error) {
	return Bucket(tx, create, append(append([]string{}, a.rootPath...), "free")...)
}

func u32key(id uint32) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, id)
	return k
}

func keyU32(k []byte) uint32 {
	return binary.BigEndian.Uint32(k)
}

// Generate returns an unused id: the smallest previously-freed id if any
// is available, else max(used)+1 (or 0 if nothing has ever been used).
func (a *IDAllocator) Generate(tx *Tx) (uint32, error) {
	free, err := a.freeBucket(tx, true)
	if err != nil {
		return 0, err
	}
	if k, _ := free.Cursor().First(); k != nil {
		id := keyU32(k)
		idCopy := append([]byte(nil), k...)
		if err := free.Delete(idCopy); err != nil {
			return 0, ferr.Wrap(ferr.IOError, err, "removing id from free list")
		}
		used, err := a.usedBucket(tx, true)
		if err != nil {
			return 0, err
		}
		if err := used.Put(idCopy, []byte{}); err != nil {
			return 0, ferr.Wrap(ferr.IOError, err, "marking id used")
		}
		return id, nil
	}

	used, err := a.usedBucket(tx, true)
	if err != nil {
		return 0, err
	}
	var next uint32
	if k, _ := used.Cursor().Last(); k != nil {
		next = keyU32(k) + 1
	}
	if err := used.Put(u32key(next), []byte{}); err != nil {
		return 0, ferr.Wrap(ferr.IOError, err, "allocating id")
	}
	return next, nil
}

// Free releases id back to the allocator: it is removed from "used" and
// inserted into "free", so a later Generate may reuse it.
func (a *IDAllocator) Free(tx *Tx, id uint32) error {
	used, err := a.usedBucket(tx, true)
	if err != nil {
		return err
	}
	k := u32key(id)
	if v := used.Get(k); v == nil {
		return ferr.Newf(ferr.NotFound, "id %d is not in use", id)
	}
	if err := used.Delete(k); err != nil {
		return ferr.Wrap(ferr.IOError, err, "freeing id")
	}
	free, err := a.freeBucket(tx, true)
	if err != nil {
		return err
	}
	if err := free.Put(k, []byte{}); err != nil {
		return ferr.Wrap(ferr.IOError, err, "freeing id")
	}
	return nil
}
