package store

import (
	"encoding/json"

	"github.com/wwwVladislav/fsync-sub000/ferr"
	"github.com/wwwVladislav/fsync-sub000/peerid"
)

const (
	configBucket = "config"
	configKey    = "node"
)

// NodeConfig is the single per-database record described in spec §3.
type NodeConfig struct {
	PeerID        peerid.ID
	ListenAddress string
	SyncRoot      string
}

type nodeConfigWire struct {
	PeerID        []byte
	ListenAddress string
	SyncRoot      string
}

func (c NodeConfig) marshal() ([]byte, error) {
	return json.Marshal(nodeConfigWire{
		PeerID:        c.PeerID.Bytes(),
		ListenAddress: c.ListenAddress,
		SyncRoot:      c.SyncRoot,
	})
}

func unmarshalNodeConfig(data []byte) (NodeConfig, error) {
	var w nodeConfigWire
	if err := json.Unmarshal(data, &w); err != nil {
		return NodeConfig{}, ferr.Wrap(ferr.IOError, err, "decoding node config")
	}
	id, err := peerid.FromBytes(w.PeerID)
	if err != nil {
		return NodeConfig{}, err
	}
	return NodeConfig{PeerID: id, ListenAddress: w.ListenAddress, SyncRoot: w.SyncRoot}, nil
}

// Config is the façade over the "config" map (spec §6.2).
type Config struct{ h *Handle }

// NewConfig opens the config façade over h.
func NewConfig(h *Handle) *Config { return &Config{h: h} }

// Get returns the node config, or ferr.NotFound if this database has never
// been initialized (spec: "created on first start").
func (c *Config) Get() (NodeConfig, error) {
	var cfg NodeConfig
	err := c.h.View(func(tx *Tx) error {
		b, err := Bucket(tx, false, configBucket)
		if err != nil {
			return err
		}
		data := b.Get([]byte(configKey))
		if data == nil {
			return ferr.New(ferr.NotFound, "node config not initialized")
		}
		cfg, err = unmarshalNodeConfig(data)
		return err
	})
	return cfg, err
}

// Create writes the node config. Spec: "created on first start; mutated
// only by administrative operations; destroyed never" -- Create refuses
// to overwrite an existing record; use Update for administrative changes.
func (c *Config) Create(cfg NodeConfig) error {
	return c.h.Update(func(tx *Tx) error {
		b, err := Bucket(tx, true, configBucket)
		if err != nil {
			return err
		}
		if b.Get([]byte(configKey)) != nil {
			return ferr.New(ferr.AlreadyExists, "node config already initialized")
		}
		data, err := cfg.marshal()
		if err != nil {
			return ferr.Wrap(ferr.IOError, err, "encoding node config")
		}
		return b.Put([]byte(configKey), data)
	})
}

// Update mutates the existing node config via fn, which receives the
// current value and returns the new one.
func (c *Config) Update(fn func(NodeConfig) NodeConfig) error {
	return c.h.Update(func(tx *Tx) error {
		b, err := Bucket(tx, true, configBucket)
		if err != nil {
			return err
		}
		data := b.Get([]byte(configKey))
		if data == nil {
			return ferr.New(ferr.NotFound, "node config not initialized")
		}
		cfg, err := unmarshalNodeConfig(data)
		if err != nil {
			return err
		}
		cfg = fn(cfg)
		updated, err := cfg.marshal()
		if err != nil {
			return ferr.Wrap(ferr.IOError, err, "encoding node config")
		}
		return b.Put([]byte(configKey), updated)
	})
}
