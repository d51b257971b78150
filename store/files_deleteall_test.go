package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wwwVladislav/fsync-sub000/peerid"
	"github.com/wwwVladislav/fsync-sub000/store"
)

func TestFilesDeleteAllClearsPeerNamespace(t *testing.T) {
	h := openTestHandle(t)
	peer := peerid.Generate()
	files := store.NewFiles(h, peer)

	id, err := files.Add(store.FileRecord{Path: "a", StatusBits: uint32(store.StatusExists)})
	require.NoError(t, err)
	_, err = files.Add(store.FileRecord{Path: "b"})
	require.NoError(t, err)

	require.NoError(t, files.DeleteAll())

	_, err = files.ByID(id)
	require.Error(t, err)
	_, _, err = files.ByPath("a")
	require.Error(t, err)

	var seen []uint32
	require.NoError(t, files.ByStatus(store.StatusExists, func(fid uint32) error {
		seen = append(seen, fid)
		return nil
	}))
	require.Empty(t, seen)

	// Namespace must be reusable afterwards.
	newID, err := files.Add(store.FileRecord{Path: "c"})
	require.NoError(t, err)
	require.Equal(t, uint32(0), newID)
}
