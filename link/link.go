// Package link implements the interlink of spec §4.3: a connection
// manager holding, per known peer, at most one active session over an
// externally supplied transport, exchanging framed proto messages.
package link

import (
	"io"
	"sync"
	"time"

	"github.com/wwwVladislav/fsync-sub000/bus"
	"github.com/wwwVladislav/fsync-sub000/ferr"
	"github.com/wwwVladislav/fsync-sub000/flog"
	"github.com/wwwVladislav/fsync-sub000/peerid"
	"github.com/wwwVladislav/fsync-sub000/proto"
)

var log = flog.New("link")

// Conn is the transport contract a session is built on: an authenticated,
// ordered, reliable byte stream. *net.TCPConn and *tls.Conn both satisfy
// it; this package never constructs one itself, matching spec.md's
// "transport layer... opaque reliable bidirectional byte channel"
// Non-goal — certificate verification and dialing policy live outside.
type Conn interface {
	io.ReadWriteCloser
}

// Dialer opens an outbound Conn to addr. Supplied by the composition
// root (cmd/fsyncd), not by this package.
type Dialer interface {
	Dial(addr string) (Conn, error)
}

// Listener accepts inbound Conns. Supplied by the composition root.
type Listener interface {
	Accept() (Conn, error)
	Close() error
}

// HandshakeTimeout bounds how long a session waits for the peer's HELLO
// before the connection is aborted as PROTOCOL/TIMEOUT.
const HandshakeTimeout = 10 * time.Second

// Interlink owns the connection table of spec §4.3: map<PeerId, Session>
// guarded by a mutex, with tie-break-by-lesser-id collision handling.
type Interlink struct {
	self peerid.ID
	bus  *bus.Bus

	mu       sync.Mutex
	sessions map[peerid.ID]*session
	closed   bool
}

// New constructs an Interlink bound to self's identity, publishing
// PEER_LOST/PEER_FOUND and inbound frames onto b.
func New(self peerid.ID, b *bus.Bus) *Interlink {
	return &Interlink{
		self:     self,
		bus:      b,
		sessions: make(map[peerid.ID]*session),
	}
}

// Dial opens a new outbound session to addr via d, performs the
// handshake, and registers the resulting session in the connection
// table (subject to the tie-break rule below).
func (l *Interlink) Dial(d Dialer, addr string) error {
	conn, err := d.Dial(addr)
	if err != nil {
		return ferr.Wrapf(ferr.IOError, err, "dial %s", addr)
	}
	return l.handshake(conn, true)
}

// Serve accepts connections from ln until it returns an error (including
// after Close), handshaking each one in its own goroutine.
func (l *Interlink) Serve(ln Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go func() {
			if err := l.handshake(conn, false); err != nil {
				log.Debugf(nil, "inbound handshake failed: %v", err)
			}
		}()
	}
}

type session struct {
	conn     Conn
	peer     peerid.ID
	outbound bool // true if we dialed this session, false if we accepted it
	wmu      sync.Mutex // serializes writes per spec §4.3's "I/O discipline"
}

// readHelloWithTimeout reads the next framed message from conn, aborting
// with a Timeout-coded error if none arrives within timeout. Conn exposes
// no deadline method, so the wait is bounded with a goroutine + select
// instead; the reader goroutine is left to unblock on its own once the
// caller closes conn; the buffered channel keeps it from leaking even if
// nobody ever reads its result.
func readHelloWithTimeout(conn Conn, timeout time.Duration) (interface{}, error) {
	type result struct {
		msg interface{}
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := proto.ReadMessage(conn)
		ch <- result{msg, err}
	}()
	select {
	case r := <-ch:
		return r.msg, r.err
	case <-time.After(timeout):
		return nil, ferr.Newf(ferr.Timeout, "handshake: no HELLO within %s", timeout)
	}
}

func (l *Interlink) handshake(conn Conn, outbound bool) error {
	if err := proto.WriteMessage(conn, proto.Hello{PeerID: l.self, Version: proto.ProtocolVersion}); err != nil {
		conn.Close()
		return ferr.Wrap(ferr.IOError, err, "writing HELLO")
	}

	raw, err := readHelloWithTimeout(conn, HandshakeTimeout)
	if err != nil {
		conn.Close()
		if ferr.Is(err, ferr.Timeout) {
			return err
		}
		return ferr.Wrap(ferr.Protocol, err, "reading HELLO")
	}
	hello, ok := raw.(proto.Hello)
	if !ok {
		conn.Close()
		return ferr.New(ferr.Protocol, "expected HELLO as first message")
	}
	if hello.Version != proto.ProtocolVersion {
		conn.Close()
		return ferr.Newf(ferr.Protocol, "protocol version mismatch: got %d want %d", hello.Version, proto.ProtocolVersion)
	}
	if hello.PeerID == l.self {
		conn.Close()
		return ferr.New(ferr.Protocol, "self-connect rejected")
	}

	s := &session{conn: conn, peer: hello.PeerID, outbound: outbound}

	if !l.register(s) {
		conn.Close()
		return nil // lost the tie-break; the other side's session wins
	}

	l.bus.Publish(bus.Message{Topic: TopicPeerFound, Payload: PeerFoundEvent{PeerID: s.peer}})
	go l.readLoop(s)
	return nil
}

// register installs s in the connection table, applying the
// min(local_peer_id, remote_peer_id) tie-break of spec §4.3 when a
// session to the same peer already exists. Returns false if s lost the
// tie-break and should be discarded by the caller.
func (l *Interlink) register(s *session) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	existing, ok := l.sessions[s.peer]
	if !ok {
		l.sessions[s.peer] = s
		return true
	}
	// A session to this peer already exists. Keep whichever of the two
	// was opened by the lesser peer id (spec §4.3 "Connection table"):
	// "opened by us" means outbound, "opened by them" means inbound.
	selfIsLesser := l.self.Less(s.peer)
	existingMatches := existing.outbound == selfIsLesser
	newMatches := s.outbound == selfIsLesser
	if newMatches && !existingMatches {
		existing.close()
		l.sessions[s.peer] = s
		return true
	}
	// Either existing already matches the rule, or neither does (a rare
	// race of two same-direction connection attempts); keep existing.
	return false
}

func (s *session) close() {
	s.conn.Close()
}

func (l *Interlink) unregister(s *session) {
	l.mu.Lock()
	if l.sessions[s.peer] == s {
		delete(l.sessions, s.peer)
	}
	l.mu.Unlock()
}

func (l *Interlink) readLoop(s *session) {
	defer func() {
		s.close()
		l.unregister(s)
		l.bus.Publish(bus.Message{Topic: TopicPeerLost, Payload: PeerLostEvent{PeerID: s.peer}})
	}()
	for {
		msg, err := proto.ReadMessage(s.conn)
		if err != nil {
			return
		}
		l.bus.Publish(bus.Message{Topic: TopicInbound, Payload: InboundMessage{From: s.peer, Msg: msg}})
	}
}

// Send writes msg to the session for peer, serialized against any other
// concurrent Send to the same session by the session's write mutex
// (spec §4.3 "I/O discipline").
func (l *Interlink) Send(peer peerid.ID, msg interface{}) error {
	l.mu.Lock()
	s, ok := l.sessions[peer]
	l.mu.Unlock()
	if !ok {
		return ferr.Newf(ferr.NotFound, "no session to peer %s", peer)
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := proto.WriteMessage(s.conn, msg); err != nil {
		go func() {
			s.close()
			l.unregister(s)
			l.bus.Publish(bus.Message{Topic: TopicPeerLost, Payload: PeerLostEvent{PeerID: s.peer}})
		}()
		return ferr.Wrap(ferr.IOError, err, "writing message")
	}
	return nil
}

// Connected reports whether a session to peer is currently registered.
func (l *Interlink) Connected(peer peerid.ID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.sessions[peer]
	return ok
}

// Close tears down every session and marks the interlink closed; further
// Dial/Serve calls will fail to register new sessions.
func (l *Interlink) Close() {
	l.mu.Lock()
	l.closed = true
	sessions := make([]*session, 0, len(l.sessions))
	for _, s := range l.sessions {
		sessions = append(sessions, s)
	}
	l.sessions = make(map[peerid.ID]*session)
	l.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}
