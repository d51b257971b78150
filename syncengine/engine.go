// Package syncengine implements the sync engine and agent registry of
// spec §4.5: it demultiplexes the remote stream factory's generic
// streams to application-level agents by an agent id carried in the
// stream's metainf, and guarantees each sync completes with exactly one
// of Complete/Failed per side.
package syncengine

import (
	"sync"
	"sync/atomic"

	"github.com/wwwVladislav/fsync-sub000/ferr"
	"github.com/wwwVladislav/fsync-sub000/flog"
	"github.com/wwwVladislav/fsync-sub000/peerid"
	"github.com/wwwVladislav/fsync-sub000/proto"
	"github.com/wwwVladislav/fsync-sub000/rstream"
)

var log = flog.New("syncengine")

const metaAgentIDKey = "agent_id"

// Agent is the application-level contract spec §4.5 defines: a registry
// key plus the four callbacks invoked over the lifetime of one sync.
type Agent interface {
	// ID is the key register_agent keys this agent by.
	ID() uint32
	// Accept is invoked on the receiver when a peer opens a sync for
	// this agent. It returns the sink that raw stream bytes are written
	// to; an agent that needs to interpret those bytes (e.g. applying a
	// delta against a base file) returns an OStream that does so
	// internally rather than a plain file sink.
	Accept(peer peerid.ID, metainf *proto.MetaInf) (rstream.OStream, error)
	// Source is invoked by callers (not by Engine itself) to obtain the
	// byte source later passed to Engine.Sync.
	Source(peer peerid.ID, metainf *proto.MetaInf) (rstream.IStream, error)
	// Complete and Failed are invoked exactly once per sync, on each
	// side independently, never both for the same side.
	Complete(metainf *proto.MetaInf)
	Failed(metainf *proto.MetaInf, err error)
}

// Engine is the sync engine of spec §4.5, built on a rstream.Factory.
type Engine struct {
	self    peerid.ID
	factory *rstream.Factory

	mu         sync.Mutex
	agents     map[uint32]Agent
	nextCookie uint32
}

// New constructs an Engine and registers it as f's acceptor. f must not
// already have an acceptor registered.
func New(self peerid.ID, f *rstream.Factory) *Engine {
	e := &Engine{self: self, factory: f, agents: make(map[uint32]Agent)}
	f.SetAcceptor(e.accept)
	return e
}

// RegisterAgent installs agent, keyed by agent.ID(). Idempotent: a
// second registration under the same id simply replaces the first.
func (e *Engine) RegisterAgent(agent Agent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agents[agent.ID()] = agent
}

func (e *Engine) agentByID(id uint32) (Agent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.agents[id]
	return a, ok
}

// Sync is the sender-side operation of spec §4.5: it composes a
// STREAM_REQUEST carrying {agent_id, metainf, cookie}, pumps src to dst
// once the factory completes the handshake, and invokes exactly one of
// agent.Complete/agent.Failed before returning.
func (e *Engine) Sync(dst peerid.ID, agentID uint32, metainf *proto.MetaInf, src rstream.IStream) error {
	agent, ok := e.agentByID(agentID)
	if !ok {
		return ferr.Newf(ferr.NotFound, "no agent registered for id %d", agentID)
	}

	// agent_id rides inside the same metainf blob the agent itself set;
	// this mutates the caller's MetaInf in place rather than cloning it,
	// since MetaInf exposes no clone operation and callers build one
	// fresh per sync.
	wire := metainf
	if wire == nil {
		wire = proto.NewMetaInf()
	}
	wire.SetU32(metaAgentIDKey, agentID)

	cookie := atomic.AddUint32(&e.nextCookie, 1)
	err := e.factory.OpenSend(dst, cookie, wire.Encode(), src)
	if err != nil {
		agent.Failed(metainf, err)
		return err
	}
	agent.Complete(metainf)
	return nil
}

// accept is registered as the factory's AcceptFunc: it demultiplexes by
// agent_id and wraps the agent's sink so the factory's own STREAM_END
// handling drives exactly one of Complete/Failed.
func (e *Engine) accept(src peerid.ID, cookie uint32, metainfBytes []byte) (rstream.OStream, error) {
	meta, err := proto.DecodeMetaInf(metainfBytes)
	if err != nil {
		return nil, ferr.Wrap(ferr.Protocol, err, "decoding sync request metainf")
	}
	agentID, ok := meta.U32(metaAgentIDKey)
	if !ok {
		return nil, ferr.New(ferr.Protocol, "sync request missing agent_id")
	}
	agent, ok := e.agentByID(agentID)
	if !ok {
		return nil, ferr.Newf(ferr.NotFound, "no agent registered for id %d", agentID)
	}

	sink, err := agent.Accept(src, meta)
	if err != nil {
		log.Debugf(nil, "agent %d rejected sync from %s: %v", agentID, src, err)
		return nil, err
	}
	return &trackingSink{inner: sink, agent: agent, metainf: meta}, nil
}

// trackingSink wraps an agent's sink so that closing the underlying
// stream (driven by the factory on STREAM_END) also invokes the agent's
// completion callback, satisfying the engine's "exactly one of
// complete/failed" contract on the receiver side.
type trackingSink struct {
	inner   rstream.OStream
	agent   Agent
	metainf *proto.MetaInf
}

func (t *trackingSink) Write(p []byte) (int, error) { return t.inner.Write(p) }
func (t *trackingSink) Status() rstream.Status       { return t.inner.Status() }

func (t *trackingSink) Close(status rstream.Status) error {
	err := t.inner.Close(status)
	if status == rstream.StatusEOF {
		t.agent.Complete(t.metainf)
	} else {
		t.agent.Failed(t.metainf, ferr.New(ferr.IOError, "stream ended with error"))
	}
	return err
}
