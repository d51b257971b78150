package proto_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wwwVladislav/fsync-sub000/peerid"
	"github.com/wwwVladislav/fsync-sub000/proto"
)

func roundTrip(t *testing.T, msg interface{}) interface{} {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, proto.WriteMessage(&buf, msg))
	got, err := proto.ReadMessage(&buf)
	require.NoError(t, err)
	return got
}

func TestHelloRoundTrip(t *testing.T) {
	msg := proto.Hello{PeerID: peerid.Generate(), Version: proto.ProtocolVersion}
	require.Equal(t, msg, roundTrip(t, msg))
}

func TestNodeStatusRoundTrip(t *testing.T) {
	msg := proto.NodeStatus{PeerID: peerid.Generate(), StatusBits: 0xdeadbeef}
	require.Equal(t, msg, roundTrip(t, msg))
}

func TestStreamRequestRoundTrip(t *testing.T) {
	meta := proto.NewMetaInf()
	meta.SetStr("path", "a/b/c")
	meta.SetU64("size", 1<<32)
	msg := proto.StreamRequest{
		Src:     peerid.Generate(),
		Dst:     peerid.Generate(),
		Cookie:  42,
		MetaInf: meta.Encode(),
	}
	got := roundTrip(t, msg).(proto.StreamRequest)
	require.Equal(t, msg.Src, got.Src)
	require.Equal(t, msg.Dst, got.Dst)
	require.Equal(t, msg.Cookie, got.Cookie)
	gotMeta, err := proto.DecodeMetaInf(got.MetaInf)
	require.NoError(t, err)
	path, ok := gotMeta.Str("path")
	require.True(t, ok)
	require.Equal(t, "a/b/c", path)
	size, ok := gotMeta.U64("size")
	require.True(t, ok)
	require.Equal(t, uint64(1<<32), size)
}

func TestStreamRequestEmptyMetaInf(t *testing.T) {
	msg := proto.StreamRequest{Src: peerid.Generate(), Dst: peerid.Generate(), Cookie: 1}
	got := roundTrip(t, msg).(proto.StreamRequest)
	require.Empty(t, got.MetaInf)
}

func TestStreamRoundTrip(t *testing.T) {
	msg := proto.Stream{Src: peerid.Generate(), Dst: peerid.Generate(), StreamID: 7, Cookie: 42}
	require.Equal(t, msg, roundTrip(t, msg))
}

func TestStreamDataRoundTrip(t *testing.T) {
	msg := proto.StreamData{
		Src:      peerid.Generate(),
		Dst:      peerid.Generate(),
		StreamID: 3,
		Offset:   1 << 20,
		Data:     []byte("payload chunk"),
	}
	require.Equal(t, msg, roundTrip(t, msg))
}

func TestStreamDataEmptyPayload(t *testing.T) {
	msg := proto.StreamData{Src: peerid.Generate(), Dst: peerid.Generate(), StreamID: 1, Offset: 0, Data: []byte{}}
	got := roundTrip(t, msg).(proto.StreamData)
	require.Empty(t, got.Data)
}

func TestStreamEndRoundTrip(t *testing.T) {
	for _, status := range []proto.StreamEndStatus{proto.StreamOK, proto.StreamErr, proto.StreamTimeout} {
		msg := proto.StreamEnd{Src: peerid.Generate(), Dst: peerid.Generate(), StreamID: 9, Status: status}
		require.Equal(t, msg, roundTrip(t, msg))
	}
}

func TestWriteMessageRejectsUnknownType(t *testing.T) {
	var buf bytes.Buffer
	err := proto.WriteMessage(&buf, struct{ X int }{X: 1})
	require.Error(t, err)
}

func TestReadMessageRejectsUnknownType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, proto.WriteMessage(&buf, proto.Hello{PeerID: peerid.Generate(), Version: 1}))
	raw := buf.Bytes()
	raw[3] = 0xff // corrupt the low byte of the big-endian msg type tag
	_, err := proto.ReadMessage(bytes.NewReader(raw))
	require.Error(t, err)
}

func TestReadMessageTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, proto.WriteMessage(&buf, proto.StreamData{
		Src: peerid.Generate(), Dst: peerid.Generate(), StreamID: 1, Offset: 0, Data: []byte("hello"),
	}))
	truncated := buf.Bytes()[:buf.Len()-3]
	_, err := proto.ReadMessage(bytes.NewReader(truncated))
	require.Error(t, err)
}
