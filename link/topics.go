package link

import (
	"github.com/wwwVladislav/fsync-sub000/bus"
	"github.com/wwwVladislav/fsync-sub000/peerid"
)

// Bus topics published and consumed by the interlink and, transitively,
// by every layer built on top of it (rstream, syncengine). Topics are
// plain bus.Topic constants the way spec §4.2 describes them.
const (
	// TopicPeerLost carries PeerLostEvent whenever a registered session's
	// I/O fails or the session is torn down. A rejected handshake never
	// registers a session and publishes nothing.
	TopicPeerLost bus.Topic = iota + 1
	// TopicPeerFound carries PeerFoundEvent once a session's handshake
	// completes and the peer is bound in the connection table. Not named
	// in spec §4.3's prose but symmetric with PEER_LOST. No package in
	// this tree subscribes to it.
	TopicPeerFound
	// TopicInbound carries InboundMessage for every frame read off any
	// session, fanned out to rstream/syncengine subscribers by message
	// type rather than by a dedicated topic per message, mirroring the
	// bus's own "subscriber pair per topic" model with the session layer
	// doing the demultiplexing.
	TopicInbound
)

// PeerLostEvent is published on TopicPeerLost.
type PeerLostEvent struct {
	PeerID peerid.ID
}

// PeerFoundEvent is published on TopicPeerFound.
type PeerFoundEvent struct {
	PeerID peerid.ID
}

// InboundMessage is published on TopicInbound for every frame received
// from any session. Msg is one of the proto message structs.
type InboundMessage struct {
	From peerid.ID
	Msg  interface{}
}
