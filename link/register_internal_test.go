package link

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wwwVladislav/fsync-sub000/bus"
	"github.com/wwwVladislav/fsync-sub000/peerid"
)

type nopConn struct{}

func (nopConn) Read([]byte) (int, error)    { return 0, io.EOF }
func (nopConn) Write(p []byte) (int, error) { return len(p), nil }
func (nopConn) Close() error                { return nil }

// TestRegisterTieBreakKeepsLesserIDsOutboundSession exercises spec §4.3's
// "Connection table" tie-break: when two sessions to the same peer race,
// the survivor is whichever was opened by the numerically lesser peer id.
func TestRegisterTieBreakKeepsLesserIDsOutboundSession(t *testing.T) {
	a, bID := peerid.Generate(), peerid.Generate()
	for !a.Less(bID) {
		a, bID = peerid.Generate(), peerid.Generate()
	}
	// a < bID. From a's point of view, self (a) is the lesser id, so the
	// surviving session to bID must be the outbound one.
	b := bus.New(bus.Config{})
	defer b.Close()
	l := New(a, b)

	inbound := &session{conn: nopConn{}, peer: bID, outbound: false}
	require.True(t, l.register(inbound))

	outbound := &session{conn: nopConn{}, peer: bID, outbound: true}
	require.True(t, l.register(outbound))

	l.mu.Lock()
	got := l.sessions[bID]
	l.mu.Unlock()
	require.Same(t, outbound, got)

	// A further inbound attempt must lose against the already-installed
	// outbound session.
	anotherInbound := &session{conn: nopConn{}, peer: bID, outbound: false}
	require.False(t, l.register(anotherInbound))

	l.mu.Lock()
	got = l.sessions[bID]
	l.mu.Unlock()
	require.Same(t, outbound, got)
}

// TestRegisterTieBreakKeepsGreaterIDsInboundSession covers the symmetric
// case: when self is the greater id, the surviving session must be the
// inbound one (opened by the remote, lesser-id peer).
func TestRegisterTieBreakKeepsGreaterIDsInboundSession(t *testing.T) {
	a, bID := peerid.Generate(), peerid.Generate()
	for !a.Less(bID) {
		a, bID = peerid.Generate(), peerid.Generate()
	}
	// From bID's point of view, self (bID) is the greater id, so the
	// surviving session to a must be the inbound one.
	bb := bus.New(bus.Config{})
	defer bb.Close()
	l := New(bID, bb)

	outbound := &session{conn: nopConn{}, peer: a, outbound: true}
	require.True(t, l.register(outbound))

	inbound := &session{conn: nopConn{}, peer: a, outbound: false}
	require.True(t, l.register(inbound))

	l.mu.Lock()
	got := l.sessions[a]
	l.mu.Unlock()
	require.Same(t, inbound, got)
}

func TestRegisterAfterCloseRejects(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Close()
	l := New(peerid.Generate(), b)
	l.Close()

	s := &session{conn: nopConn{}, peer: peerid.Generate(), outbound: true}
	require.False(t, l.register(s))
}
