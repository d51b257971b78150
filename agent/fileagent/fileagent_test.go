package fileagent_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wwwVladislav/fsync-sub000/agent/fileagent"
	"github.com/wwwVladislav/fsync-sub000/peerid"
	"github.com/wwwVladislav/fsync-sub000/proto"
	"github.com/wwwVladislav/fsync-sub000/rstream"
	"github.com/wwwVladislav/fsync-sub000/store"
)

func openHandle(t *testing.T) *store.Handle {
	t.Helper()
	dir := t.TempDir()
	h, err := store.Open(filepath.Join(dir, "fsync.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

// pump drives src to completion against sink, as Engine.Sync's internal
// transport loop would.
func pump(t *testing.T, src rstream.IStream, sink rstream.OStream) {
	t.Helper()
	buf := make([]byte, 4096)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			_, werr := sink.Write(buf[:n])
			require.NoError(t, werr)
		}
		if rerr != nil {
			break
		}
	}
	require.NoError(t, sink.Close(rstream.StatusEOF))
}

func TestFileAgentFullSyncFromEmptyBase(t *testing.T) {
	senderRoot, receiverRoot := t.TempDir(), t.TempDir()
	peerSender, peerReceiver := peerid.Generate(), peerid.Generate()

	content := []byte("the quick brown fox jumps over the lazy dog\n")
	require.NoError(t, os.MkdirAll(filepath.Join(senderRoot, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(senderRoot, "docs", "report.txt"), content, 0o644))

	sender := fileagent.New(1, senderRoot, openHandle(t))
	receiver := fileagent.New(1, receiverRoot, openHandle(t))

	meta := fileagent.NewRequest("docs/report.txt")
	src, err := sender.Source(peerReceiver, meta)
	require.NoError(t, err)
	sink, err := receiver.Accept(peerSender, meta)
	require.NoError(t, err)

	pump(t, src, sink)

	got, err := os.ReadFile(filepath.Join(receiverRoot, "docs", "report.txt"))
	require.NoError(t, err)
	require.Equal(t, content, got)

	// Staging area is cleaned up once the file is promoted.
	_, err = os.Stat(filepath.Join(receiverRoot, ".fsync-staging", peerSender.String(), "docs", "report.txt"))
	require.True(t, os.IsNotExist(err))
}

// TestFileAgentIncrementalSyncAfterReplicaUpdate covers two successive
// syncs of the same path in one direction: after a first full sync, a
// second sync with a small localized change still reconstructs the
// target exactly. The replica refresh happens on the receiving node
// (keyed by the sender), so the sender here has no replica of the
// receiver and both syncs diff against an empty base.
func TestFileAgentIncrementalSyncAfterReplicaUpdate(t *testing.T) {
	senderRoot, receiverRoot := t.TempDir(), t.TempDir()
	peerSender, peerReceiver := peerid.Generate(), peerid.Generate()

	original := bytes.Repeat([]byte("abcdefgh"), 1024) // 8KiB
	require.NoError(t, os.WriteFile(filepath.Join(senderRoot, "blob.bin"), original, 0o644))

	sender := fileagent.New(2, senderRoot, openHandle(t))
	receiver := fileagent.New(2, receiverRoot, openHandle(t))
	meta := fileagent.NewRequest("blob.bin")

	syncOnce := func() {
		src, err := sender.Source(peerReceiver, meta)
		require.NoError(t, err)
		sink, err := receiver.Accept(peerSender, meta)
		require.NoError(t, err)
		pump(t, src, sink)
	}

	syncOnce()
	got, err := os.ReadFile(filepath.Join(receiverRoot, "blob.bin"))
	require.NoError(t, err)
	require.Equal(t, original, got)

	modified := append([]byte(nil), original...)
	copy(modified[4000:4010], []byte("XXXXXXXXXX"))
	require.NoError(t, os.WriteFile(filepath.Join(senderRoot, "blob.bin"), modified, 0o644))

	syncOnce()
	got, err = os.ReadFile(filepath.Join(receiverRoot, "blob.bin"))
	require.NoError(t, err)
	require.Equal(t, modified, got)
}

func TestFileAgentAcceptRejectsRequestMissingPath(t *testing.T) {
	receiver := fileagent.New(1, t.TempDir(), openHandle(t))
	_, err := receiver.Accept(peerid.Generate(), proto.NewMetaInf())
	require.Error(t, err)
}

func TestFileAgentSourceRejectsRequestMissingPath(t *testing.T) {
	sender := fileagent.New(1, t.TempDir(), openHandle(t))
	_, err := sender.Source(peerid.Generate(), proto.NewMetaInf())
	require.Error(t, err)
}

func TestFileAgentSourceMissingFile(t *testing.T) {
	sender := fileagent.New(1, t.TempDir(), openHandle(t))
	_, err := sender.Source(peerid.Generate(), fileagent.NewRequest("nope.txt"))
	require.Error(t, err)
}

// literalCommand hand-encodes a single LITERAL delta command, the same
// wire shape ComputeDelta would produce for an unmatched run of bytes.
func literalCommand(data []byte) []byte {
	hdr := make([]byte, 5+len(data))
	hdr[0] = 1 // cmdLiteral
	binary.BigEndian.PutUint32(hdr[1:5], uint32(len(data)))
	copy(hdr[5:], data)
	return hdr
}

// TestFileAgentFailedStreamKeepsStagingForResume covers spec §7: a
// stream that ends in error leaves the staging file and download
// progress in place rather than promoting a partial reconstruction.
func TestFileAgentFailedStreamKeepsStagingForResume(t *testing.T) {
	receiverRoot := t.TempDir()
	receiver := fileagent.New(3, receiverRoot, openHandle(t))
	peer := peerid.Generate()
	meta := fileagent.NewRequest("partial.bin")

	sink, err := receiver.Accept(peer, meta)
	require.NoError(t, err)

	payload := []byte("only some of the bytes arrived before the link dropped")
	_, err = sink.Write(literalCommand(payload))
	require.NoError(t, err)
	// No END command follows: the pipe closes mid-stream, as a dropped
	// connection would leave it.
	require.Error(t, sink.Close(rstream.StatusErr))

	_, err = os.Stat(filepath.Join(receiverRoot, "partial.bin"))
	require.True(t, os.IsNotExist(err), "partial reconstruction must never be promoted")

	staged, err := os.ReadFile(filepath.Join(receiverRoot, ".fsync-staging", peer.String(), "partial.bin"))
	require.NoError(t, err)
	require.Equal(t, payload, staged)
}
