// Package rstream bridges in-process byte streams to peer-to-peer
// messages (spec §4.4): it negotiates numbered, one-directional streams
// over the interlink and exposes each end as a plain Go reader/writer
// pair backed by a bounded in-memory block queue.
package rstream

import (
	"io"
	"sync"

	"github.com/wwwVladislav/fsync-sub000/ferr"
)

// Status mirrors a stream's OK/EOF/ERR state (spec §4.4.1).
type Status int

const (
	StatusOK Status = iota
	StatusEOF
	StatusErr
)

// IStream is the read side of a stream.
type IStream interface {
	// Read behaves like io.Reader: it may return fewer than len(p) bytes
	// with a nil error (a read never spans more than one block), and it
	// returns io.EOF once the stream is drained and closed with StatusEOF
	// (the stream's error if it was closed with StatusErr).
	Read(p []byte) (int, error)
	Status() Status
}

// OStream is the write side of a stream. Short writes are reported as
// errors, never silently truncated (spec §4.4.1).
type OStream interface {
	Write(p []byte) (int, error)
	Status() Status
	// Close transitions the stream to its terminal status. status must
	// be StatusEOF or StatusErr.
	Close(status Status) error
}

// memIOStream is the bounded block-list FIFO of spec §4.4.1, shared
// between one IStream view and one OStream view. Writes allocate blocks
// of up to blockSize bytes; reads consume from the head block and free
// it once exhausted, bounding memory to blockSize*maxBlocks.
type memIOStream struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	blockSize int
	maxBlocks int

	blocks  [][]byte
	readOff int

	status Status
	err    error
}

func newMemIOStream(blockSize, maxBlocks int) *memIOStream {
	m := &memIOStream{blockSize: blockSize, maxBlocks: maxBlocks}
	m.notEmpty = sync.NewCond(&m.mu)
	m.notFull = sync.NewCond(&m.mu)
	return m
}

func (m *memIOStream) write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	written := 0
	for len(p) > 0 {
		for len(m.blocks) >= m.maxBlocks && m.status == StatusOK {
			m.notFull.Wait()
		}
		if m.status != StatusOK {
			return written, ferr.New(ferr.IOError, "write to closed stream")
		}
		n := len(p)
		if n > m.blockSize {
			n = m.blockSize
		}
		block := make([]byte, n)
		copy(block, p[:n])
		m.blocks = append(m.blocks, block)
		p = p[n:]
		written += n
		m.notEmpty.Signal()
	}
	return written, nil
}

func (m *memIOStream) read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.blocks) == 0 {
		switch m.status {
		case StatusEOF:
			return 0, io.EOF
		case StatusErr:
			return 0, m.err
		}
		m.notEmpty.Wait()
	}
	head := m.blocks[0]
	n := copy(p, head[m.readOff:])
	m.readOff += n
	if m.readOff == len(head) {
		m.blocks = m.blocks[1:]
		m.readOff = 0
		m.notFull.Signal()
	}
	return n, nil
}

func (m *memIOStream) close(status Status, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusOK {
		return nil
	}
	m.status = status
	m.err = err
	m.notEmpty.Broadcast()
	m.notFull.Broadcast()
	return nil
}

func (m *memIOStream) statusOf() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

type istreamView struct{ m *memIOStream }

func (v istreamView) Read(p []byte) (int, error) { return v.m.read(p) }
func (v istreamView) Status() Status              { return v.m.statusOf() }

type ostreamView struct{ m *memIOStream }

func (v ostreamView) Write(p []byte) (int, error) { return v.m.write(p) }
func (v ostreamView) Status() Status               { return v.m.statusOf() }
func (v ostreamView) Close(status Status) error {
	var err error
	if status == StatusErr {
		err = ferr.New(ferr.IOError, "stream ended with error")
	}
	return v.m.close(status, err)
}

// NewMemIoStream returns a paired (IStream, OStream) sharing one bounded
// block queue: bytes written to the OStream become readable from the
// IStream in order, with memory bounded to blockSize*maxBlocks.
func NewMemIoStream(blockSize, maxBlocks int) (IStream, OStream) {
	m := newMemIOStream(blockSize, maxBlocks)
	return istreamView{m}, ostreamView{m}
}
