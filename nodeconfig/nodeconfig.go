// Package nodeconfig resolves the one persisted record every process
// needs before it can join the overlay (spec §3): its PeerID, listen
// address, and sync root. It is a thin façade over store.Config; no
// flag or config-file parsing lives here.
package nodeconfig

import (
	"github.com/wwwVladislav/fsync-sub000/ferr"
	"github.com/wwwVladislav/fsync-sub000/peerid"
	"github.com/wwwVladislav/fsync-sub000/store"
)

// Node is the minimal identity a process needs to join the overlay.
type Node struct {
	PeerID        peerid.ID
	ListenAddress string
	SyncRoot      string
}

// Bootstrap loads the node's persisted config from h, creating it from
// def on first start. Spec §3: "created on first start; mutated only by
// administrative operations; destroyed never" -- a second Bootstrap call
// against the same database returns the persisted record, ignoring def.
func Bootstrap(h *store.Handle, def Node) (Node, error) {
	cfg := store.NewConfig(h)

	existing, err := cfg.Get()
	if err == nil {
		return fromStoreConfig(existing), nil
	}
	if !ferr.Is(err, ferr.NotFound) {
		return Node{}, err
	}

	if err := cfg.Create(toStoreConfig(def)); err != nil {
		return Node{}, err
	}
	return def, nil
}

func toStoreConfig(n Node) store.NodeConfig {
	return store.NodeConfig{PeerID: n.PeerID, ListenAddress: n.ListenAddress, SyncRoot: n.SyncRoot}
}

func fromStoreConfig(c store.NodeConfig) Node {
	return Node{PeerID: c.PeerID, ListenAddress: c.ListenAddress, SyncRoot: c.SyncRoot}
}
