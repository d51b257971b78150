package rstream_test

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wwwVladislav/fsync-sub000/rstream"
)

func TestMemIoStreamWriteReadRoundTrip(t *testing.T) {
	r, w := rstream.NewMemIoStream(4, 4)

	go func() {
		_, err := w.Write([]byte("hello, world"))
		require.NoError(t, err)
		require.NoError(t, w.Close(rstream.StatusEOF))
	}()

	got := make([]byte, 0, 32)
	buf := make([]byte, 3)
	for {
		n, err := r.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	require.Equal(t, "hello, world", string(got))
}

// TestMemIoStreamBoundsMemory exercises spec §8 scenario S4: the
// receiver's buffer is bounded to block_size*max_blocks regardless of
// how much the writer tries to push ahead of the reader.
func TestMemIoStreamBoundsMemory(t *testing.T) {
	const blockSize, maxBlocks = 8, 2
	r, w := rstream.NewMemIoStream(blockSize, maxBlocks)

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		// Writes enough blocks to fill the bound twice over; the writer
		// must block once maxBlocks worth of unread data is pending.
		for i := 0; i < 6; i++ {
			_, err := w.Write([]byte("12345678"))
			require.NoError(t, err)
		}
		require.NoError(t, w.Close(rstream.StatusEOF))
	}()

	select {
	case <-writeDone:
		t.Fatal("writer should have blocked on the bounded queue before finishing")
	case <-time.After(100 * time.Millisecond):
	}

	// Drain everything; now the writer must be able to finish.
	buf := make([]byte, blockSize)
	var total int
	for {
		n, err := r.Read(buf)
		total += n
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	require.Equal(t, 6*blockSize, total)

	select {
	case <-writeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never unblocked after reader drained the queue")
	}
}

func TestMemIoStreamErrorStatus(t *testing.T) {
	r, w := rstream.NewMemIoStream(4, 4)
	require.NoError(t, w.Close(rstream.StatusErr))
	require.Equal(t, rstream.StatusErr, r.Status())

	_, err := r.Read(make([]byte, 4))
	require.Error(t, err)
	require.NotEqual(t, io.EOF, err)
}

func TestMemIoStreamWriteAfterCloseFails(t *testing.T) {
	_, w := rstream.NewMemIoStream(4, 4)
	require.NoError(t, w.Close(rstream.StatusEOF))
	_, err := w.Write([]byte("x"))
	require.Error(t, err)
}

func TestMemIoStreamConcurrentReadersDontCorrupt(t *testing.T) {
	r, w := rstream.NewMemIoStream(16, 8)
	var mu sync.Mutex
	var got []byte
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			buf := make([]byte, 4)
			for {
				n, err := r.Read(buf)
				if n > 0 {
					mu.Lock()
					got = append(got, buf[:n]...)
					mu.Unlock()
				}
				if err == io.EOF {
					return
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		w.Write([]byte("abcdefgh"))
	}
	w.Close(rstream.StatusEOF)
	wg.Wait()
	require.Len(t, got, 80)
}
