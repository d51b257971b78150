package delta

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/wwwVladislav/fsync-sub000/ferr"
)

// commandTag identifies one delta command (spec §4.6.3).
type commandTag byte

const (
	cmdCopy commandTag = iota
	cmdLiteral
	cmdEnd
)

// literalFlushThreshold bounds how many unmatched bytes accumulate before
// a LITERAL command is emitted, independent of block size.
const literalFlushThreshold = 64 * 1024

type deltaEncoder struct{ w io.Writer }

func (e *deltaEncoder) writeCopy(offset uint64, length int) error {
	var buf [13]byte
	buf[0] = byte(cmdCopy)
	binary.BigEndian.PutUint64(buf[1:9], offset)
	binary.BigEndian.PutUint32(buf[9:13], uint32(length))
	_, err := e.w.Write(buf[:])
	return err
}

func (e *deltaEncoder) writeLiteral(data []byte) error {
	hdr := make([]byte, 5+len(data))
	hdr[0] = byte(cmdLiteral)
	binary.BigEndian.PutUint32(hdr[1:5], uint32(len(data)))
	copy(hdr[5:], data)
	_, err := e.w.Write(hdr)
	return err
}

func (e *deltaEncoder) writeEnd() error {
	_, err := e.w.Write([]byte{byte(cmdEnd)})
	return err
}

// ComputeDelta implements spec §4.6.3: it scans input with the rolling
// hash, looks each window up in sig, and emits COPY for confirmed block
// matches or buffers unmatched bytes into LITERAL runs, terminating with
// END.
func ComputeDelta(sig *Signature, input io.Reader, out io.Writer) error {
	blockSize := int(sig.BlockSize)
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	r := bufio.NewReaderSize(input, blockSize*2)
	enc := &deltaEncoder{w: out}

	fill := func(n int) []byte {
		window := make([]byte, 0, n)
		for len(window) < n {
			b, err := r.ReadByte()
			if err != nil {
				break
			}
			window = append(window, b)
		}
		return window
	}

	var literal []byte
	flushLiteral := func() error {
		if len(literal) == 0 {
			return nil
		}
		if err := enc.writeLiteral(literal); err != nil {
			return ferr.Wrap(ferr.IOError, err, "writing LITERAL command")
		}
		literal = nil
		return nil
	}

	window := fill(blockSize)
	if len(window) == 0 {
		return enc.writeEnd()
	}
	rh := newRollingHash(window)

	for {
		if off, length, ok := sig.lookup(rh.sum(), window); ok {
			if err := flushLiteral(); err != nil {
				return err
			}
			if err := enc.writeCopy(off, length); err != nil {
				return ferr.Wrap(ferr.IOError, err, "writing COPY command")
			}
			window = fill(blockSize)
			if len(window) == 0 {
				break
			}
			rh = newRollingHash(window)
			continue
		}

		literal = append(literal, window[0])
		if len(literal) >= literalFlushThreshold {
			if err := flushLiteral(); err != nil {
				return err
			}
		}

		next, err := r.ReadByte()
		if err != nil {
			literal = append(literal, window[1:]...)
			break
		}
		rh.roll(next)
		window = append(window[1:], next)
	}

	if err := flushLiteral(); err != nil {
		return err
	}
	return enc.writeEnd()
}

// ApplyDelta implements spec §4.6.4: base is seekable random access so
// COPY commands can pull arbitrary ranges from it; delta's commands are
// applied in order to reconstruct target.
func ApplyDelta(base io.ReaderAt, deltaStream io.Reader, target io.Writer) error {
	r := bufio.NewReader(deltaStream)
	for {
		tagByte, err := r.ReadByte()
		if err != nil {
			return ferr.Wrap(ferr.Protocol, err, "reading delta command tag")
		}
		switch commandTag(tagByte) {
		case cmdEnd:
			return nil

		case cmdCopy:
			var hdr [12]byte
			if _, err := io.ReadFull(r, hdr[:]); err != nil {
				return ferr.Wrap(ferr.Protocol, err, "reading COPY command")
			}
			offset := binary.BigEndian.Uint64(hdr[0:8])
			length := binary.BigEndian.Uint32(hdr[8:12])
			buf := make([]byte, length)
			if length > 0 {
				if _, err := base.ReadAt(buf, int64(offset)); err != nil && err != io.EOF {
					return ferr.Wrap(ferr.IOError, err, "reading base for COPY command")
				}
			}
			if _, err := target.Write(buf); err != nil {
				return ferr.Wrap(ferr.IOError, err, "writing COPY bytes to target")
			}

		case cmdLiteral:
			var lenBuf [4]byte
			if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
				return ferr.Wrap(ferr.Protocol, err, "reading LITERAL length")
			}
			length := binary.BigEndian.Uint32(lenBuf[:])
			buf := make([]byte, length)
			if length > 0 {
				if _, err := io.ReadFull(r, buf); err != nil {
					return ferr.Wrap(ferr.Protocol, err, "reading LITERAL bytes")
				}
			}
			if _, err := target.Write(buf); err != nil {
				return ferr.Wrap(ferr.IOError, err, "writing LITERAL bytes to target")
			}

		default:
			return ferr.Newf(ferr.Protocol, "unknown delta command tag %d", tagByte)
		}
	}
}
