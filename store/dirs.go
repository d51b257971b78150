package store

import (
	"github.com/wwwVladislav/fsync-sub000/ferr"
)

const (
	dirByIDBucket   = "id->dir"
	dirByPathBucket = "dir_path_idx"
	dirIDsRoot      = "dir_ids"
	dirScanBucket   = "dir_scan_status"
)

// DirRecord is keyed by DirId (spec §3).
type DirRecord struct {
	Path string
}

// Dirs is the façade over "id->dir" plus its path secondary index,
// grounded on original_source/fdb/src/sync/dirs.c.
type Dirs struct {
	h     *Handle
	alloc *IDAllocator
}

// NewDirs opens the dirs façade over h.
func NewDirs(h *Handle) *Dirs {
	return &Dirs{h: h, alloc: NewIDAllocator(dirIDsRoot)}
}

// Add registers a new directory, issuing it a fresh DirId (spec: "DirIds
// are issued by the Id allocator (§4.1.3) and are reused after deletion").
func (d *Dirs) Add(path string) (uint32, error) {
	var id uint32
	err := d.h.Update(func(tx *Tx) error {
		byPath, err := Bucket(tx, true, dirByPathBucket)
		if err != nil {
			return err
		}
		if byPath.Get([]byte(path)) != nil {
			return ferr.Newf(ferr.AlreadyExists, "directory %q already indexed", path)
		}
		id, err = d.alloc.Generate(tx)
		if err != nil {
			return err
		}
		byID, err := Bucket(tx, true, dirByIDBucket)
		if err != nil {
			return err
		}
		if err := byID.Put(u32key(id), []byte(path)); err != nil {
			return ferr.Wrap(ferr.IOError, err, "writing dir record")
		}
		return byPath.Put([]byte(path), u32key(id))
	})
	return id, err
}

// Remove deletes a directory record (both index directions) and frees its id.
func (d *Dirs) Remove(id uint32) error {
	return d.h.Update(func(tx *Tx) error {
		byID, err := Bucket(tx, true, dirByIDBucket)
		if err != nil {
			return err
		}
		path := byID.Get(u32key(id))
		if path == nil {
			return ferr.Newf(ferr.NotFound, "dir id %d not found", id)
		}
		pathCopy := append([]byte(nil), path...)
		if err := byID.Delete(u32key(id)); err != nil {
			return ferr.Wrap(ferr.IOError, err, "removing dir record")
		}
		byPath, err := Bucket(tx, true, dirByPathBucket)
		if err != nil {
			return err
		}
		if err := byPath.Delete(pathCopy); err != nil {
			return ferr.Wrap(ferr.IOError, err, "removing dir path index")
		}
		return d.alloc.Free(tx, id)
	})
}

// ByID returns the path indexed under id.
func (d *Dirs) ByID(id uint32) (string, error) {
	var path string
	err := d.h.View(func(tx *Tx) error {
		b, err := Bucket(tx, false, dirByIDBucket)
		if err != nil {
			return err
		}
		v := b.Get(u32key(id))
		if v == nil {
			return ferr.Newf(ferr.NotFound, "dir id %d not found", id)
		}
		path = string(v)
		return nil
	})
	return path, err
}

// ByPath returns the id indexed under path, maintaining the bijection
// spec §3 requires between the primary map and its secondary index.
func (d *Dirs) ByPath(path string) (uint32, error) {
	var id uint32
	err := d.h.View(func(tx *Tx) error {
		b, err := Bucket(tx, false, dirByPathBucket)
		if err != nil {
			return err
		}
		v := b.Get([]byte(path))
		if v == nil {
			return ferr.Newf(ferr.NotFound, "dir %q not found", path)
		}
		id = keyU32(v)
		return nil
	})
	return id, err
}

// Each calls fn for every registered directory in id order.
func (d *Dirs) Each(fn func(id uint32, path string) error) error {
	return d.h.View(func(tx *Tx) error {
		b, err := Bucket(tx, false, dirByIDBucket)
		if err != nil {
			if ferr.Is(err, ferr.NotFound) {
				return nil
			}
			return err
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := fn(keyU32(k), string(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetScanStatus records (or clears, when resumePath == "") the walk cursor
// the external indexer uses to resume a directory scan (spec: "transient
// per-directory cursor ... deleted when the walk finishes").
func (d *Dirs) SetScanStatus(id uint32, resumePath string) error {
	return d.h.Update(func(tx *Tx) error {
		b, err := Bucket(tx, true, dirScanBucket)
		if err != nil {
			return err
		}
		if resumePath == "" {
			return b.Delete(u32key(id))
		}
		return b.Put(u32key(id), []byte(resumePath))
	})
}

// ScanStatus returns the resume cursor for id, or "" if none is set.
func (d *Dirs) ScanStatus(id uint32) (string, error) {
	var resume string
	err := d.h.View(func(tx *Tx) error {
		b, err := Bucket(tx, false, dirScanBucket)
		if err != nil {
			if ferr.Is(err, ferr.NotFound) {
				return nil
			}
			return err
		}
		if v := b.Get(u32key(id)); v != nil {
			resume = string(v)
		}
		return nil
	})
	return resume, err
}
