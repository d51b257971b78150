package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wwwVladislav/fsync-sub000/peerid"
	"github.com/wwwVladislav/fsync-sub000/store"
)

func TestConfigCreateGetUpdate(t *testing.T) {
	h := openTestHandle(t)
	cfg := store.NewConfig(h)

	_, err := cfg.Get()
	require.Error(t, err)

	node := store.NodeConfig{
		PeerID:        peerid.Generate(),
		ListenAddress: "0.0.0.0:7777",
		SyncRoot:      "/srv/sync",
	}
	require.NoError(t, cfg.Create(node))

	require.Error(t, cfg.Create(node), "config must be created exactly once")

	got, err := cfg.Get()
	require.NoError(t, err)
	require.Equal(t, node, got)

	require.NoError(t, cfg.Update(func(c store.NodeConfig) store.NodeConfig {
		c.ListenAddress = "0.0.0.0:9999"
		return c
	}))
	got, err = cfg.Get()
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9999", got.ListenAddress)
}
