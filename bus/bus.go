// Package bus implements the process-local, topic-addressed publish/
// subscribe bus of spec §4.2: a fixed worker pool dequeues from one FIFO,
// dispatches to the subscriber snapshot for a message's topic, and a
// dedicated control goroutine serializes subscribe/unsubscribe so that
// unsubscribe can wait for in-flight handler invocations to quiesce.
package bus

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/wwwVladislav/fsync-sub000/ferr"
	"github.com/wwwVladislav/fsync-sub000/flog"
)

// Topic identifies a message class. Topics are plain u32 constants the
// way the original C bus used enum values; this package assigns no
// meaning to any particular topic, leaving that to callers (interlink,
// rstream, syncengine).
type Topic uint32

// Message is a typed envelope owning its payload.
type Message struct {
	Topic   Topic
	Payload interface{}
}

// Sizer lets a payload report its approximate wire weight so the bus's
// bounded queue can account for it in bytes rather than message count.
// Payloads that don't implement it are charged a small fixed size.
type Sizer interface {
	Size() int
}

const defaultPayloadSize = 64

func payloadSize(p interface{}) int {
	if s, ok := p.(Sizer); ok {
		return s.Size()
	}
	return defaultPayloadSize
}

// Handler processes one message. Handlers for the same message run
// serially, in subscribe order; handlers for distinct messages may run
// concurrently across worker goroutines.
type Handler func(Message)

// Config tunes a Bus instance. Zero values fall back to spec §4.2's
// defaults (8 workers, ~1 MiB queue).
type Config struct {
	Workers       int
	MaxQueueBytes int
	Log           *flog.Logger
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.MaxQueueBytes <= 0 {
		c.MaxQueueBytes = 1 << 20
	}
	if c.Log == nil {
		c.Log = flog.New("bus")
	}
	return c
}

type subscription struct {
	id      uint64
	handler Handler
	refs    int32
	done    chan struct{} // closed once refs can never rise again (unsubscribed)
}

type queued struct {
	msg  Message
	size int
}

// Bus is a running instance of the message bus. Construct with New and
// release resources with Close.
type Bus struct {
	cfg Config

	mu      sync.Mutex
	subs    map[Topic][]*subscription
	nextID  uint64
	inbytes int
	notFull *sync.Cond

	queue    []queued
	qhead    int
	qnotify  chan struct{} // signals the queue grew; buffered, best-effort
	shutdown chan struct{} // closed once on Close, wakes every blocked worker

	control chan func()

	inactive int32
	wg       sync.WaitGroup
	closeOne sync.Once
}

// New starts the bus's worker pool and control goroutine.
func New(cfg Config) *Bus {
	cfg = cfg.withDefaults()
	b := &Bus{
		cfg:      cfg,
		subs:     make(map[Topic][]*subscription),
		qnotify:  make(chan struct{}, 1),
		shutdown: make(chan struct{}),
		control:  make(chan func()),
	}
	b.notFull = sync.NewCond(&b.mu)

	b.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go b.worker()
	}
	b.wg.Add(1)
	go b.controlLoop()

	return b
}

// Subscribe registers handler for topic and returns a SubscriptionID used
// to Unsubscribe later. The registration itself is processed on the
// control goroutine, matching spec §4.2's "subscribe/unsubscribe are
// themselves messages on a control channel".
type SubscriptionID uint64

func (b *Bus) Subscribe(topic Topic, h Handler) SubscriptionID {
	var id SubscriptionID
	done := make(chan struct{})
	b.control <- func() {
		defer close(done)
		b.mu.Lock()
		b.nextID++
		sub := &subscription{id: b.nextID, handler: h, done: make(chan struct{})}
		b.subs[topic] = append(b.subs[topic], sub)
		id = SubscriptionID(sub.id)
		b.mu.Unlock()
	}
	<-done
	return id
}

// Unsubscribe removes id from topic and blocks until any handler
// invocation already in flight for that subscription has returned.
func (b *Bus) Unsubscribe(topic Topic, id SubscriptionID) {
	done := make(chan struct{})
	b.control <- func() {
		defer close(done)
		b.mu.Lock()
		list := b.subs[topic]
		var target *subscription
		for i, s := range list {
			if s.id == uint64(id) {
				target = s
				b.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		if target == nil {
			return
		}
		close(target.done)
		for atomic.LoadInt32(&target.refs) > 0 {
			// A handler invocation is still dispatching this subscription;
			// yield until the worker's defer releases the retain.
			runtime.Gosched()
		}
	}
	<-done
}

// Publish enqueues msg, blocking while the queue is at capacity. It
// returns only a shutdown error; callers that want non-blocking behavior
// should use TryPublish.
func (b *Bus) Publish(msg Message) error {
	size := payloadSize(msg.Payload)
	b.mu.Lock()
	for {
		if atomic.LoadInt32(&b.inactive) != 0 {
			b.mu.Unlock()
			return ferr.New(ferr.IOError, "bus is shut down")
		}
		if b.inbytes+size <= b.cfg.MaxQueueBytes || b.inbytes == 0 {
			break
		}
		b.notFull.Wait()
	}
	b.queue = append(b.queue, queued{msg: msg, size: size})
	b.inbytes += size
	b.mu.Unlock()
	b.wake()
	return nil
}

// TryPublish enqueues msg without blocking, returning a QueueFull-coded
// error (spec's QUEUE_FULL) when the bus cannot accept it immediately.
func (b *Bus) TryPublish(msg Message) error {
	size := payloadSize(msg.Payload)
	b.mu.Lock()
	if atomic.LoadInt32(&b.inactive) != 0 {
		b.mu.Unlock()
		return ferr.New(ferr.IOError, "bus is shut down")
	}
	if b.inbytes+size > b.cfg.MaxQueueBytes && b.inbytes != 0 {
		b.mu.Unlock()
		return ferr.New(ferr.QueueFull, "bus queue is at capacity")
	}
	b.queue = append(b.queue, queued{msg: msg, size: size})
	b.inbytes += size
	b.mu.Unlock()
	b.wake()
	return nil
}

func (b *Bus) wake() {
	select {
	case b.qnotify <- struct{}{}:
	default:
	}
}

func (b *Bus) dequeue() (queued, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queue) == b.qhead {
		if atomic.LoadInt32(&b.inactive) != 0 {
			return queued{}, false
		}
		b.mu.Unlock()
		select {
		case <-b.qnotify:
		case <-b.shutdown:
		}
		b.mu.Lock()
	}
	q := b.queue[b.qhead]
	b.qhead++
	// b.inbytes is released only once the message finishes dispatch (see
	// worker), so the bounded queue also accounts for messages a worker
	// is actively processing, not just ones still waiting.
	// Compact occasionally so the backing array doesn't grow unbounded.
	if b.qhead > 1024 && b.qhead*2 > len(b.queue) {
		b.queue = append([]queued(nil), b.queue[b.qhead:]...)
		b.qhead = 0
	}
	return q, true
}

func (b *Bus) release(size int) {
	b.mu.Lock()
	b.inbytes -= size
	b.notFull.Signal()
	b.mu.Unlock()
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		q, ok := b.dequeue()
		if !ok {
			return
		}
		b.dispatch(q.msg)
		b.release(q.size)
	}
}

// dispatch snapshots the subscriber list for the message's topic under
// the topic lock, retains each handler, releases the lock, then invokes
// handlers serially in subscribe order (spec §4.2 "Scheduling").
func (b *Bus) dispatch(msg Message) {
	b.mu.Lock()
	list := b.subs[msg.Topic]
	snapshot := make([]*subscription, len(list))
	copy(snapshot, list)
	for _, s := range snapshot {
		atomic.AddInt32(&s.refs, 1)
	}
	b.mu.Unlock()

	for _, s := range snapshot {
		func() {
			defer atomic.AddInt32(&s.refs, -1)
			select {
			case <-s.done:
				return // unsubscribed between snapshot and dispatch
			default:
			}
			defer func() {
				if r := recover(); r != nil {
					b.cfg.Log.Errorf(nil, "bus handler panic on topic %d: %v", msg.Topic, r)
				}
			}()
			s.handler(msg)
		}()
	}
}

func (b *Bus) controlLoop() {
	defer b.wg.Done()
	for fn := range b.control {
		fn()
	}
}

// Close performs the cooperative shutdown of spec §4.2: sets the
// inactive flag, wakes every worker, joins them, drains the queue, and
// closes the control channel. Close is idempotent.
func (b *Bus) Close() {
	b.closeOne.Do(func() {
		atomic.StoreInt32(&b.inactive, 1)
		b.mu.Lock()
		b.notFull.Broadcast()
		b.mu.Unlock()
		close(b.shutdown)
		close(b.control)
		b.wg.Wait()
	})
}
