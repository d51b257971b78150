package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wwwVladislav/fsync-sub000/store"
)

func TestDirsAddRemoveReusesID(t *testing.T) {
	h := openTestHandle(t)
	dirs := store.NewDirs(h)

	id0, err := dirs.Add("/srv/photos")
	require.NoError(t, err)
	id1, err := dirs.Add("/srv/music")
	require.NoError(t, err)
	require.Equal(t, uint32(0), id0)
	require.Equal(t, uint32(1), id1)

	gotID, err := dirs.ByPath("/srv/photos")
	require.NoError(t, err)
	require.Equal(t, id0, gotID)

	require.NoError(t, dirs.Remove(id0))
	_, err = dirs.ByID(id0)
	require.Error(t, err)
	_, err = dirs.ByPath("/srv/photos")
	require.Error(t, err)

	id2, err := dirs.Add("/srv/videos")
	require.NoError(t, err)
	require.Equal(t, uint32(0), id2, "freed dir id must be reused")
}

func TestDirScanStatusLifecycle(t *testing.T) {
	h := openTestHandle(t)
	dirs := store.NewDirs(h)

	id, err := dirs.Add("/srv/data")
	require.NoError(t, err)

	resume, err := dirs.ScanStatus(id)
	require.NoError(t, err)
	require.Empty(t, resume)

	require.NoError(t, dirs.SetScanStatus(id, "/srv/data/sub/next"))
	resume, err = dirs.ScanStatus(id)
	require.NoError(t, err)
	require.Equal(t, "/srv/data/sub/next", resume)

	require.NoError(t, dirs.SetScanStatus(id, ""))
	resume, err = dirs.ScanStatus(id)
	require.NoError(t, err)
	require.Empty(t, resume)
}
