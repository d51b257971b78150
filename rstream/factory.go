package rstream

import (
	"io"
	"sync"
	"time"

	"github.com/wwwVladislav/fsync-sub000/bus"
	"github.com/wwwVladislav/fsync-sub000/ferr"
	"github.com/wwwVladislav/fsync-sub000/flog"
	"github.com/wwwVladislav/fsync-sub000/link"
	"github.com/wwwVladislav/fsync-sub000/peerid"
	"github.com/wwwVladislav/fsync-sub000/proto"
)

var log = flog.New("rstream")

const (
	// DefaultBlockSize is the sender's chunk size (spec §4.4.4 "Chunking").
	DefaultBlockSize = 64 * 1024
	// DefaultMaxBlocks is the block count a Factory records alongside
	// DefaultBlockSize. The factory creates no receiver-side MemIoStream:
	// incoming STREAM_DATA is written straight into the sink its
	// AcceptFunc returned, so how much is buffered is up to that sink.
	DefaultMaxBlocks = 64

	acceptTimeout    = 10 * time.Second
	reorderAttempts  = 30
	reorderWait      = 100 * time.Millisecond
)

// AcceptFunc is invoked on the receiving side when a STREAM_REQUEST
// arrives; it returns the sink (spec's "target_ostream") that incoming
// STREAM_DATA bytes should be written to, or an error to refuse the
// stream.
type AcceptFunc func(src peerid.ID, cookie uint32, metainf []byte) (OStream, error)

type pendingKey struct {
	dst    peerid.ID
	cookie uint32
}

type pendingRequest struct {
	replyCh chan proto.Stream
	errCh   chan error
}

// recvKey identifies a receiver-side pending request by the full
// (src, dst, cookie) triple spec.md:136 keys "at-most-one stream pending"
// on.
type recvKey struct {
	src, dst peerid.ID
	cookie   uint32
}

type recvState struct {
	src     peerid.ID
	key     recvKey
	sink    OStream
	mu      sync.Mutex
	written uint64
}

// Factory implements the remote stream factory of spec §4.4: it
// negotiates numbered streams over an interlink and multiplexes
// STREAM_DATA/STREAM_END frames to/from local IStream/OStream pairs.
type Factory struct {
	self      peerid.ID
	link      *link.Interlink
	bus       *bus.Bus
	blockSize int
	maxBlocks int

	mu           sync.Mutex
	acceptor     AcceptFunc
	pending      map[pendingKey]*pendingRequest
	nextStreamID uint32
	recv         map[uint32]*recvState
	recvPending  map[recvKey]struct{}
	subID        bus.SubscriptionID
}

// New constructs a Factory bound to self's identity, negotiating streams
// over l and consuming inbound frames from b.
func New(self peerid.ID, l *link.Interlink, b *bus.Bus) *Factory {
	f := &Factory{
		self:      self,
		link:      l,
		bus:       b,
		blockSize: DefaultBlockSize,
		maxBlocks: DefaultMaxBlocks,
		pending:     make(map[pendingKey]*pendingRequest),
		recv:        make(map[uint32]*recvState),
		recvPending: make(map[recvKey]struct{}),
	}
	f.subID = b.Subscribe(link.TopicInbound, f.onInbound)
	return f
}

// SetAcceptor registers the receiver-side callback invoked for every
// incoming STREAM_REQUEST. It must be called before any peer can
// request a stream from this node.
func (f *Factory) SetAcceptor(fn AcceptFunc) {
	f.mu.Lock()
	f.acceptor = fn
	f.mu.Unlock()
}

// Close unsubscribes the factory from the bus. In-flight streams are not
// forcibly closed; callers should drain them first.
func (f *Factory) Close() {
	f.bus.Unsubscribe(link.TopicInbound, f.subID)
}

func (f *Factory) onInbound(m bus.Message) {
	in, ok := m.Payload.(link.InboundMessage)
	if !ok {
		return
	}
	switch msg := in.Msg.(type) {
	case proto.StreamRequest:
		f.handleStreamRequest(in.From, msg)
	case proto.Stream:
		f.handleStream(msg)
	case proto.StreamData:
		f.handleStreamData(msg)
	case proto.StreamEnd:
		f.handleStreamEnd(msg)
	}
}

// OpenSend is the sender-side entry point of spec §4.4.3: it requests a
// stream from dst, then pumps src to completion as STREAM_DATA frames
// once the receiver replies with STREAM{stream_id}, finishing with
// STREAM_END. It blocks until the whole transfer (or a failure) completes.
func (f *Factory) OpenSend(dst peerid.ID, cookie uint32, metainf []byte, src IStream) error {
	key := pendingKey{dst: dst, cookie: cookie}

	f.mu.Lock()
	if _, exists := f.pending[key]; exists {
		f.mu.Unlock()
		return ferr.Newf(ferr.AlreadyExists, "stream already pending for (dst=%s, cookie=%d)", dst, cookie)
	}
	req := &pendingRequest{replyCh: make(chan proto.Stream, 1), errCh: make(chan error, 1)}
	f.pending[key] = req
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.pending, key)
		f.mu.Unlock()
	}()

	if err := f.link.Send(dst, proto.StreamRequest{Src: f.self, Dst: dst, Cookie: cookie, MetaInf: metainf}); err != nil {
		return err
	}

	var streamID uint32
	select {
	case reply := <-req.replyCh:
		streamID = reply.StreamID
	case err := <-req.errCh:
		return err
	case <-time.After(acceptTimeout):
		return ferr.Newf(ferr.Timeout, "stream request to %s timed out waiting for STREAM reply", dst)
	}

	return f.pump(dst, streamID, src)
}

func (f *Factory) pump(dst peerid.ID, streamID uint32, src IStream) error {
	buf := make([]byte, f.blockSize)
	var offset uint64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if sendErr := f.link.Send(dst, proto.StreamData{
				Src: f.self, Dst: dst, StreamID: streamID, Offset: offset, Data: append([]byte(nil), buf[:n]...),
			}); sendErr != nil {
				f.link.Send(dst, proto.StreamEnd{Src: f.self, Dst: dst, StreamID: streamID, Status: proto.StreamErr})
				return sendErr
			}
			offset += uint64(n)
		}
		if err != nil {
			status := proto.StreamOK
			var retErr error
			if err != io.EOF {
				status = proto.StreamErr
				retErr = err
			}
			f.link.Send(dst, proto.StreamEnd{Src: f.self, Dst: dst, StreamID: streamID, Status: status})
			return retErr
		}
	}
}

func (f *Factory) handleStreamRequest(from peerid.ID, msg proto.StreamRequest) {
	key := recvKey{src: from, dst: msg.Dst, cookie: msg.Cookie}

	f.mu.Lock()
	acceptor := f.acceptor
	if acceptor == nil {
		f.mu.Unlock()
		log.Debugf(nil, "no acceptor registered, ignoring STREAM_REQUEST from %s", from)
		return
	}
	if _, exists := f.recvPending[key]; exists {
		f.mu.Unlock()
		log.Debugf(nil, "%v", ferr.Newf(ferr.AlreadyExists, "duplicate STREAM_REQUEST from %s (dst=%s, cookie=%d) already pending", from, msg.Dst, msg.Cookie))
		return
	}
	f.recvPending[key] = struct{}{}
	f.mu.Unlock()

	sink, err := acceptor(from, msg.Cookie, msg.MetaInf)
	if err != nil {
		f.mu.Lock()
		delete(f.recvPending, key)
		f.mu.Unlock()
		log.Debugf(nil, "acceptor rejected stream from %s: %v", from, err)
		return
	}

	f.mu.Lock()
	f.nextStreamID++
	streamID := f.nextStreamID
	f.recv[streamID] = &recvState{src: from, key: key, sink: sink}
	f.mu.Unlock()

	f.link.Send(from, proto.Stream{Src: msg.Dst, Dst: from, StreamID: streamID, Cookie: msg.Cookie})
}

func (f *Factory) handleStream(msg proto.Stream) {
	f.mu.Lock()
	req, ok := f.pending[pendingKey{dst: msg.Src, cookie: msg.Cookie}]
	f.mu.Unlock()
	if !ok {
		return
	}
	req.replyCh <- msg
}

// handleStreamData applies the ordering policy of spec §4.4.4: frames
// must arrive in ascending offset; a frame that arrives early waits up
// to reorderAttempts*reorderWait for its predecessor before the stream
// is aborted with TIMEOUT.
func (f *Factory) handleStreamData(msg proto.StreamData) {
	f.mu.Lock()
	st, ok := f.recv[msg.StreamID]
	f.mu.Unlock()
	if !ok {
		return
	}

	for attempt := 0; ; attempt++ {
		st.mu.Lock()
		if st.written == msg.Offset {
			break
		}
		st.mu.Unlock()
		if attempt >= reorderAttempts {
			f.abortRecv(msg.StreamID, st, proto.StreamTimeout, ferr.Newf(ferr.Timeout, "stream %d: offset %d never arrived", msg.StreamID, st.written))
			return
		}
		time.Sleep(reorderWait)
	}
	defer st.mu.Unlock()

	if _, err := st.sink.Write(msg.Data); err != nil {
		go f.abortRecv(msg.StreamID, st, proto.StreamErr, err)
		return
	}
	st.written += uint64(len(msg.Data))
}

func (f *Factory) abortRecv(streamID uint32, st *recvState, status proto.StreamEndStatus, err error) {
	f.mu.Lock()
	delete(f.recv, streamID)
	delete(f.recvPending, st.key)
	f.mu.Unlock()
	st.sink.Close(StatusErr)
	log.Debugf(nil, "stream %d aborted: %v", streamID, err)
	f.link.Send(st.src, proto.StreamEnd{Src: f.self, Dst: st.src, StreamID: streamID, Status: status})
}

func (f *Factory) handleStreamEnd(msg proto.StreamEnd) {
	f.mu.Lock()
	st, ok := f.recv[msg.StreamID]
	if ok {
		delete(f.recv, msg.StreamID)
		delete(f.recvPending, st.key)
	}
	f.mu.Unlock()
	if !ok {
		return
	}
	if msg.Status == proto.StreamOK {
		st.sink.Close(StatusEOF)
	} else {
		st.sink.Close(StatusErr)
	}
}
