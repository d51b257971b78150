package store

import (
	"encoding/json"

	"github.com/wwwVladislav/fsync-sub000/ferr"
	"github.com/wwwVladislav/fsync-sub000/peerid"
)

const peersBucket = "sys/nodes"

// PeerRecord is keyed by PeerId (spec §3).
type PeerRecord struct {
	Address string
}

// Peers is the façade over the "sys/nodes" map, grounded on
// original_source/fdb/src/sync/nodes.c's fdb_nodes_* family.
type Peers struct{ h *Handle }

// NewPeers opens the peers façade over h.
func NewPeers(h *Handle) *Peers { return &Peers{h: h} }

// Put creates or re-advertises a peer (spec: "created when first learned;
// updated when re-advertised").
func (p *Peers) Put(id peerid.ID, rec PeerRecord) error {
	return p.h.Update(func(tx *Tx) error {
		b, err := Bucket(tx, true, peersBucket)
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return ferr.Wrap(ferr.IOError, err, "encoding peer record")
		}
		return b.Put(id.Bytes(), data)
	})
}

// Get looks up a peer by id.
func (p *Peers) Get(id peerid.ID) (PeerRecord, error) {
	var rec PeerRecord
	err := p.h.View(func(tx *Tx) error {
		b, err := Bucket(tx, false, peersBucket)
		if err != nil {
			return err
		}
		data := b.Get(id.Bytes())
		if data == nil {
			return ferr.Newf(ferr.NotFound, "peer %s not known", id)
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

// Remove tombstones a peer record (spec: "tombstoned on explicit removal").
func (p *Peers) Remove(id peerid.ID) error {
	return p.h.Update(func(tx *Tx) error {
		b, err := Bucket(tx, true, peersBucket)
		if err != nil {
			return err
		}
		return b.Delete(id.Bytes())
	})
}

// Each calls fn for every known peer in id order, stopping at the first error.
func (p *Peers) Each(fn func(peerid.ID, PeerRecord) error) error {
	return p.h.View(func(tx *Tx) error {
		b, err := Bucket(tx, false, peersBucket)
		if err != nil {
			if ferr.Is(err, ferr.NotFound) {
				return nil
			}
			return err
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			id, err := peerid.FromBytes(k)
			if err != nil {
				return err
			}
			var rec PeerRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return ferr.Wrap(ferr.IOError, err, "decoding peer record")
			}
			if err := fn(id, rec); err != nil {
				return err
			}
		}
		return nil
	})
}
