package store

import (
	"encoding/json"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
	"github.com/wwwVladislav/fsync-sub000/ferr"
	"github.com/wwwVladislav/fsync-sub000/peerid"
)

// StatusBit names a single bit of FileRecord.StatusBits (spec §3).
type StatusBit uint32

const (
	// StatusExists marks a file the indexer has actually observed on disk.
	StatusExists StatusBit = 1 << iota
	// StatusDigestKnown marks a file whose content digest has been computed.
	StatusDigestKnown
)

const maxStatusBit = 31

// FileRecord is a per-peer record keyed by FileId (spec §3), grounded on
// original_source/fdb/src/sync/files.h's ffile_info_t.
type FileRecord struct {
	Path       string
	ModTime    time.Time
	SyncTime   time.Time
	Digest     [16]byte // strong content hash (MD5), spec §1's external primitive
	Size       uint64
	StatusBits uint32
}

func (r FileRecord) hasBit(bit StatusBit) bool { return r.StatusBits&uint32(bit) != 0 }

type fileRecordWire struct {
	Path       string
	ModTime    int64
	SyncTime   int64
	Digest     []byte
	Size       uint64
	StatusBits uint32
}

func (r FileRecord) marshal() ([]byte, error) {
	return json.Marshal(fileRecordWire{
		Path:       r.Path,
		ModTime:    r.ModTime.UnixNano(),
		SyncTime:   r.SyncTime.UnixNano(),
		Digest:     r.Digest[:],
		Size:       r.Size,
		StatusBits: r.StatusBits,
	})
}

func unmarshalFileRecord(data []byte) (FileRecord, error) {
	var w fileRecordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return FileRecord{}, ferr.Wrap(ferr.IOError, err, "decoding file record")
	}
	var rec FileRecord
	rec.Path = w.Path
	rec.ModTime = time.Unix(0, w.ModTime).UTC()
	rec.SyncTime = time.Unix(0, w.SyncTime).UTC()
	copy(rec.Digest[:], w.Digest)
	rec.Size = w.Size
	rec.StatusBits = w.StatusBits
	return rec, nil
}

// Files is the per-peer façade over sfinfo/sfpath->id/sfid/sfstatus
// (spec §6.2), grounded on original_source/fdb/src/sync/files.c and
// sync_files.c.
type Files struct {
	h     *Handle
	peer  string
	alloc *IDAllocator
}

// NewFiles opens the files façade for the given peer's namespace.
func NewFiles(h *Handle, peer peerid.ID) *Files {
	hexID := peer.String()
	return &Files{h: h, peer: hexID, alloc: NewIDAllocator(hexID, "sfid")}
}

func (f *Files) infoBucket(tx *Tx, create bool) (*bbolt.Bucket, error) {
	return Bucket(tx, create, f.peer, "sfinfo")
}

func (f *Files) pathBucket(tx *Tx, create bool) (*bbolt.Bucket, error) {
	return Bucket(tx, create, f.peer, "sfpath->id")
}

func (f *Files) statusBucket(tx *Tx, bit uint32, create bool) (*bbolt.Bucket, error) {
	return Bucket(tx, create, f.peer, "sfstatus", strconv.FormatUint(uint64(bit), 10))
}

// setStatusIndex brings the per-bit status index in line with rec's
// StatusBits, maintaining the invariant of spec §3 ("StatusIndex reflects
// exactly the bits set in every live FileRecord").
func (f *Files) setStatusIndex(tx *Tx, id uint32, oldBits, newBits uint32) error {
	key := u32key(id)
	for bit := 0; bit <= maxStatusBit; bit++ {
		mask := uint32(1) << uint(bit)
		was := oldBits&mask != 0
		is := newBits&mask != 0
		if was == is {
			continue
		}
		b, err := f.statusBucket(tx, mask, true)
		if err != nil {
			return err
		}
		if is {
			if err := b.Put(key, []byte{}); err != nil {
				return ferr.Wrap(ferr.IOError, err, "updating status index")
			}
		} else {
			if err := b.Delete(key); err != nil {
				return ferr.Wrap(ferr.IOError, err, "updating status index")
			}
		}
	}
	return nil
}

// Add inserts a new file record and returns its id.
func (f *Files) Add(rec FileRecord) (uint32, error) {
	var id uint32
	err := f.h.Update(func(tx *Tx) error {
		byPath, err := f.pathBucket(tx, true)
		if err != nil {
			return err
		}
		if byPath.Get([]byte(rec.Path)) != nil {
			return ferr.Newf(ferr.AlreadyExists, "file %q already indexed", rec.Path)
		}
		id, err = f.alloc.Generate(tx)
		if err != nil {
			return err
		}
		data, err := rec.marshal()
		if err != nil {
			return ferr.Wrap(ferr.IOError, err, "encoding file record")
		}
		info, err := f.infoBucket(tx, true)
		if err != nil {
			return err
		}
		if err := info.Put(u32key(id), data); err != nil {
			return ferr.Wrap(ferr.IOError, err, "writing file record")
		}
		if err := byPath.Put([]byte(rec.Path), u32key(id)); err != nil {
			return ferr.Wrap(ferr.IOError, err, "writing path index")
		}
		return f.setStatusIndex(tx, id, 0, rec.StatusBits)
	})
	return id, err
}

// Update replaces the record stored under id, keeping the path index and
// status index consistent even when the path itself changes.
func (f *Files) Update(id uint32, rec FileRecord) error {
	return f.h.Update(func(tx *Tx) error {
		info, err := f.infoBucket(tx, true)
		if err != nil {
			return err
		}
		old := info.Get(u32key(id))
		if old == nil {
			return ferr.Newf(ferr.NotFound, "file id %d not found", id)
		}
		oldRec, err := unmarshalFileRecord(old)
		if err != nil {
			return err
		}
		byPath, err := f.pathBucket(tx, true)
		if err != nil {
			return err
		}
		if oldRec.Path != rec.Path {
			if err := byPath.Delete([]byte(oldRec.Path)); err != nil {
				return ferr.Wrap(ferr.IOError, err, "updating path index")
			}
			if err := byPath.Put([]byte(rec.Path), u32key(id)); err != nil {
				return ferr.Wrap(ferr.IOError, err, "updating path index")
			}
		}
		data, err := rec.marshal()
		if err != nil {
			return ferr.Wrap(ferr.IOError, err, "encoding file record")
		}
		if err := info.Put(u32key(id), data); err != nil {
			return ferr.Wrap(ferr.IOError, err, "writing file record")
		}
		return f.setStatusIndex(tx, id, oldRec.StatusBits, rec.StatusBits)
	})
}

// Delete removes a single file record and its index entries.
func (f *Files) Delete(id uint32) error {
	return f.h.Update(func(tx *Tx) error {
		info, err := f.infoBucket(tx, true)
		if err != nil {
			return err
		}
		old := info.Get(u32key(id))
		if old == nil {
			return ferr.Newf(ferr.NotFound, "file id %d not found", id)
		}
		oldRec, err := unmarshalFileRecord(old)
		if err != nil {
			return err
		}
		if err := info.Delete(u32key(id)); err != nil {
			return ferr.Wrap(ferr.IOError, err, "deleting file record")
		}
		byPath, err := f.pathBucket(tx, true)
		if err != nil {
			return err
		}
		if err := byPath.Delete([]byte(oldRec.Path)); err != nil {
			return ferr.Wrap(ferr.IOError, err, "deleting path index")
		}
		if err := f.setStatusIndex(tx, id, oldRec.StatusBits, 0); err != nil {
			return err
		}
		return f.alloc.Free(tx, id)
	})
}

// DeleteAll removes every file record for this peer. Spec §9 leaves full-
// peer deletion's semantics loosely constrained (the original's
// fdb_sync_file_del_all was a TODO); this clears sfinfo/sfpath->id/
// sfstatus/sfid/fdinf outright without attempting to recycle ids, since
// the whole per-peer id space is being discarded anyway (the next Add
// starts again at id 0).
func (f *Files) DeleteAll() error {
	return f.h.Update(func(tx *Tx) error {
		peerBucket, err := tx.tx.CreateBucketIfNotExists([]byte(f.peer))
		if err != nil {
			return ferr.Wrap(ferr.IOError, err, "opening peer namespace")
		}
		for _, name := range []string{"sfinfo", "sfpath->id", "sfstatus", "sfid", "fdinf"} {
			if err := peerBucket.DeleteBucket([]byte(name)); err != nil && err != bbolt.ErrBucketNotFound {
				return ferr.Wrapf(ferr.IOError, err, "deleting %s", name)
			}
		}
		return nil
	})
}

// ByID returns the record stored under id.
func (f *Files) ByID(id uint32) (FileRecord, error) {
	var rec FileRecord
	err := f.h.View(func(tx *Tx) error {
		info, err := f.infoBucket(tx, false)
		if err != nil {
			return err
		}
		data := info.Get(u32key(id))
		if data == nil {
			return ferr.Newf(ferr.NotFound, "file id %d not found", id)
		}
		rec, err = unmarshalFileRecord(data)
		return err
	})
	return rec, err
}

// ByPath returns the id and record stored under path.
func (f *Files) ByPath(path string) (uint32, FileRecord, error) {
	var id uint32
	var rec FileRecord
	err := f.h.View(func(tx *Tx) error {
		byPath, err := f.pathBucket(tx, false)
		if err != nil {
			return err
		}
		v := byPath.Get([]byte(path))
		if v == nil {
			return ferr.Newf(ferr.NotFound, "file %q not found", path)
		}
		id = keyU32(v)
		info, err := f.infoBucket(tx, false)
		if err != nil {
			return err
		}
		data := info.Get(v)
		if data == nil {
			return ferr.Newf(ferr.NotFound, "file %q index inconsistent", path)
		}
		rec, err = unmarshalFileRecord(data)
		return err
	})
	return id, rec, err
}

// Each calls fn for every file record of this peer, in id order.
func (f *Files) Each(fn func(id uint32, rec FileRecord) error) error {
	return f.h.View(func(tx *Tx) error {
		info, err := f.infoBucket(tx, false)
		if err != nil {
			if ferr.Is(err, ferr.NotFound) {
				return nil
			}
			return err
		}
		c := info.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			rec, err := unmarshalFileRecord(v)
			if err != nil {
				return err
			}
			if err := fn(keyU32(k), rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// ByStatus calls fn for every file id carrying bit, via the status index
// (spec §3's StatusIndex: "(b, file_id) is present iff status_bits[b] is set").
func (f *Files) ByStatus(bit StatusBit, fn func(id uint32) error) error {
	return f.h.View(func(tx *Tx) error {
		b, err := f.statusBucket(tx, uint32(bit), false)
		if err != nil {
			if ferr.Is(err, ferr.NotFound) {
				return nil
			}
			return err
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if err := fn(keyU32(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

// DiffKind describes why IterateDiff surfaced a path (supplemented from
// original_source/fdb/src/sync/files.h's fdb_diff_kind_t; the distilled
// spec is silent on the diff iterator but the original ships one and a
// real sync engine needs it to decide what to transfer).
type DiffKind int

const (
	// DiffAbsent means the path exists for one peer's file set but not the other.
	DiffAbsent DiffKind = iota
	// DiffContent means both peers have the path but with different digests.
	DiffContent
)

// DiffEntry is one row produced by IterateDiff.
type DiffEntry struct {
	Path string
	Kind DiffKind
	// HasA/HasB mirror which side the path is known to, so a caller can
	// tell "receiver missing it" from "sender missing it".
	HasA, HasB bool
}

// IterateDiff collects the path->digest pairs of this peer's (a's) and
// b's file records and reports every path whose presence or digest
// differs; the order of reported entries is not defined. b must be
// tracked in the same storage handle as f.
func (f *Files) IterateDiff(b peerid.ID, fn func(DiffEntry) error) error {
	bFiles := NewFiles(f.h, b)
	return f.h.View(func(tx *Tx) error {
		aPaths := map[string][16]byte{}
		if err := f.eachPathDigest(tx, aPaths); err != nil {
			return err
		}
		bPaths := map[string][16]byte{}
		if err := bFiles.eachPathDigest(tx, bPaths); err != nil {
			return err
		}
		seen := map[string]bool{}
		for path, da := range aPaths {
			seen[path] = true
			db, ok := bPaths[path]
			if !ok {
				if err := fn(DiffEntry{Path: path, Kind: DiffAbsent, HasA: true, HasB: false}); err != nil {
					return err
				}
				continue
			}
			if da != db {
				if err := fn(DiffEntry{Path: path, Kind: DiffContent, HasA: true, HasB: true}); err != nil {
					return err
				}
			}
		}
		for path := range bPaths {
			if seen[path] {
				continue
			}
			if err := fn(DiffEntry{Path: path, Kind: DiffAbsent, HasA: false, HasB: true}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (f *Files) eachPathDigest(tx *Tx, out map[string][16]byte) error {
	info, err := f.infoBucket(tx, false)
	if err != nil {
		if ferr.Is(err, ferr.NotFound) {
			return nil
		}
		return err
	}
	c := info.Cursor()
	for _, v := c.First(); v != nil; _, v = c.Next() {
		rec, err := unmarshalFileRecord(v)
		if err != nil {
			return err
		}
		out[rec.Path] = rec.Digest
	}
	return nil
}

