package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wwwVladislav/fsync-sub000/store"
)

func openTestHandle(t *testing.T) *store.Handle {
	t.Helper()
	dir := t.TempDir()
	h, err := store.Open(filepath.Join(dir, "node.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestIDAllocatorSequence(t *testing.T) {
	h := openTestHandle(t)
	alloc := store.NewIDAllocator("dir_ids")

	var ids []uint32
	err := h.Update(func(tx *store.Tx) error {
		for i := 0; i < 2; i++ {
			id, err := alloc.Generate(tx)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 1}, ids)

	// S5: free(0), generate -> 0, generate -> 2
	err = h.Update(func(tx *store.Tx) error {
		return alloc.Free(tx, 0)
	})
	require.NoError(t, err)

	err = h.Update(func(tx *store.Tx) error {
		id, err := alloc.Generate(tx)
		require.NoError(t, err)
		require.Equal(t, uint32(0), id, "freed id must be reused")

		id, err = alloc.Generate(tx)
		require.NoError(t, err)
		require.Equal(t, uint32(2), id)
		return nil
	})
	require.NoError(t, err)
}

func TestIDAllocatorFreeUnknownID(t *testing.T) {
	h := openTestHandle(t)
	alloc := store.NewIDAllocator("dir_ids")

	err := h.Update(func(tx *store.Tx) error {
		return alloc.Free(tx, 42)
	})
	require.Error(t, err)
}
