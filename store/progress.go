package store

import (
	"github.com/wwwVladislav/fsync-sub000/ferr"
	"github.com/wwwVladislav/fsync-sub000/peerid"
)

// Progress is the façade over the per-peer "fdinf" map (spec §3, §6.2):
// DownloadProgress keyed by FileId, tracking received bytes so a resumed
// sync can skip already-acknowledged ranges (spec §7, "User-visible
// behavior").
type Progress struct {
	h    *Handle
	peer string
}

// NewProgress opens the progress façade for the given peer's namespace.
func NewProgress(h *Handle, peer peerid.ID) *Progress {
	return &Progress{h: h, peer: peer.String()}
}

// Set records received for fileID's in-flight download.
func (p *Progress) Set(fileID uint32, received uint64) error {
	return p.h.Update(func(tx *Tx) error {
		b, err := Bucket(tx, true, p.peer, "fdinf")
		if err != nil {
			return err
		}
		if err := b.Put(u32key(fileID), u64key(received)); err != nil {
			return ferr.Wrap(ferr.IOError, err, "recording download progress")
		}
		return nil
	})
}

// Get returns bytes received so far for fileID, or 0 if no progress is recorded.
func (p *Progress) Get(fileID uint32) (uint64, error) {
	var received uint64
	err := p.h.View(func(tx *Tx) error {
		b, err := Bucket(tx, false, p.peer, "fdinf")
		if err != nil {
			if ferr.Is(err, ferr.NotFound) {
				return nil
			}
			return err
		}
		if v := b.Get(u32key(fileID)); v != nil {
			received = keyU64(v)
		}
		return nil
	})
	return received, err
}

// Clear removes the progress record for fileID, e.g. once the sync completes.
func (p *Progress) Clear(fileID uint32) error {
	return p.h.Update(func(tx *Tx) error {
		b, err := Bucket(tx, true, p.peer, "fdinf")
		if err != nil {
			return err
		}
		return b.Delete(u32key(fileID))
	})
}
