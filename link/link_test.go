package link_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wwwVladislav/fsync-sub000/bus"
	"github.com/wwwVladislav/fsync-sub000/link"
	"github.com/wwwVladislav/fsync-sub000/peerid"
	"github.com/wwwVladislav/fsync-sub000/proto"
)

// tcpDialer/tcpListener adapt the standard library's TCP sockets to
// link.Dialer/link.Listener, the way the real composition root would;
// tests use loopback TCP rather than net.Pipe because net.Pipe is fully
// synchronous and would deadlock on the handshake's write-then-read on
// both ends (real sockets buffer, so they don't).
type tcpDialer struct{}

func (tcpDialer) Dial(addr string) (link.Conn, error) {
	return net.Dial("tcp", addr)
}

type tcpListener struct{ ln net.Listener }

func (t tcpListener) Accept() (link.Conn, error) { return t.ln.Accept() }
func (t tcpListener) Close() error               { return t.ln.Close() }

func listen(t *testing.T) tcpListener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return tcpListener{ln: ln}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHandshakeEstablishesSession(t *testing.T) {
	peerA, peerB := peerid.Generate(), peerid.Generate()
	busA, busB := bus.New(bus.Config{}), bus.New(bus.Config{})
	defer busA.Close()
	defer busB.Close()

	linkA := link.New(peerA, busA)
	linkB := link.New(peerB, busB)

	lnB := listen(t)
	defer lnB.Close()
	go linkB.Serve(lnB)

	require.NoError(t, linkA.Dial(tcpDialer{}, lnB.ln.Addr().String()))

	waitFor(t, func() bool { return linkA.Connected(peerB) })
	waitFor(t, func() bool { return linkB.Connected(peerA) })
}

// TestSelfConnectRejected exercises spec §8 scenario S6: a node that
// connects to itself must reject the handshake.
func TestSelfConnectRejected(t *testing.T) {
	self := peerid.Generate()
	b := bus.New(bus.Config{})
	defer b.Close()

	l := link.New(self, b)
	ln := listen(t)
	defer ln.Close()
	go l.Serve(ln)

	err := l.Dial(tcpDialer{}, ln.ln.Addr().String())
	require.Error(t, err)
	require.False(t, l.Connected(self))
}

func TestSendRoundTrip(t *testing.T) {
	peerA, peerB := peerid.Generate(), peerid.Generate()
	busA, busB := bus.New(bus.Config{}), bus.New(bus.Config{})
	defer busA.Close()
	defer busB.Close()

	linkA := link.New(peerA, busA)
	linkB := link.New(peerB, busB)

	lnB := listen(t)
	defer lnB.Close()
	go linkB.Serve(lnB)
	require.NoError(t, linkA.Dial(tcpDialer{}, lnB.ln.Addr().String()))
	waitFor(t, func() bool { return linkB.Connected(peerA) })

	received := make(chan link.InboundMessage, 1)
	busB.Subscribe(link.TopicInbound, func(m bus.Message) {
		received <- m.Payload.(link.InboundMessage)
	})

	require.NoError(t, linkA.Send(peerB, proto.NodeStatus{PeerID: peerA, StatusBits: 7}))

	select {
	case got := <-received:
		require.Equal(t, peerA, got.From)
		ns, ok := got.Msg.(proto.NodeStatus)
		require.True(t, ok)
		require.Equal(t, uint32(7), ns.StatusBits)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound message")
	}
}

func TestSendToUnknownPeerFails(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Close()
	l := link.New(peerid.Generate(), b)
	err := l.Send(peerid.Generate(), nil)
	require.Error(t, err)
}
