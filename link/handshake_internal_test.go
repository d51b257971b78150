package link

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wwwVladislav/fsync-sub000/ferr"
)

// blockingConn never delivers any bytes until Close is called, simulating a
// peer that completes the transport connect but never sends HELLO.
type blockingConn struct {
	closed chan struct{}
}

func newBlockingConn() *blockingConn { return &blockingConn{closed: make(chan struct{})} }

func (c *blockingConn) Read([]byte) (int, error) {
	<-c.closed
	return 0, io.EOF
}
func (c *blockingConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *blockingConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

// TestReadHelloWithTimeoutExpires exercises spec.md:103/205's bounded
// handshake wait: a peer that never sends HELLO must not block the caller
// past the timeout, and the resulting error must be Timeout-coded.
func TestReadHelloWithTimeoutExpires(t *testing.T) {
	conn := newBlockingConn()
	defer conn.Close()

	start := time.Now()
	_, err := readHelloWithTimeout(conn, 50*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	require.True(t, ferr.Is(err, ferr.Timeout))
	require.Less(t, elapsed, 2*time.Second)
}
