// Package delta implements the rsync-style signature/delta/apply codec of
// spec §4.6: a compact way to reconstruct a target version from a base
// version plus a literal remainder, used by agent/fileagent so that only
// the changed bytes of a file cross the wire.
package delta

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"io"

	"github.com/wwwVladislav/fsync-sub000/ferr"
)

// DefaultBlockSize is the signature calculator's default partition size.
const DefaultBlockSize = 2048

type blockSig struct {
	Weak   uint32
	Strong [md5.Size]byte
}

// Signature is the per-block hash table of spec §4.6.2: once built (by
// BuildSignature or DecodeSignature) it is immediately queryable, folding
// spec §4.6.2's LOADING->READY transition into construction itself.
type Signature struct {
	BlockSize uint32
	blocks    []blockSig
	byWeak    map[uint32][]int
}

// BuildSignature implements spec §4.6.1: base is partitioned into
// blockSize chunks (the last may be short) and each chunk's
// (weak, strong) hash pair is recorded.
func BuildSignature(base io.Reader, blockSize uint32) (*Signature, error) {
	if blockSize == 0 {
		return nil, ferr.New(ferr.InvalidArg, "signature block size must be > 0")
	}
	sig := &Signature{BlockSize: blockSize}
	buf := make([]byte, blockSize)
	for {
		n, err := io.ReadFull(base, buf)
		if n > 0 {
			sig.blocks = append(sig.blocks, blockSig{
				Weak:   adlerChecksum(buf[:n]),
				Strong: md5.Sum(buf[:n]),
			})
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, ferr.Wrap(ferr.IOError, err, "reading base for signature")
		}
	}
	sig.index()
	return sig, nil
}

func (s *Signature) index() {
	s.byWeak = make(map[uint32][]int, len(s.blocks))
	for i, b := range s.blocks {
		s.byWeak[b.Weak] = append(s.byWeak[b.Weak], i)
	}
}

// Encode serializes the signature to its wire form: a header of
// (block_size, record_count), then one (weak u32, strong 16B) record per
// block.
func (s *Signature) Encode() []byte {
	buf := make([]byte, 0, 8+len(s.blocks)*(4+md5.Size))
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], s.BlockSize)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(s.blocks)))
	buf = append(buf, hdr[:]...)
	for _, b := range s.blocks {
		var w [4]byte
		binary.BigEndian.PutUint32(w[:], b.Weak)
		buf = append(buf, w[:]...)
		buf = append(buf, b.Strong[:]...)
	}
	return buf
}

// DecodeSignature parses the wire form produced by Encode and builds the
// weak-hash lookup table.
func DecodeSignature(data []byte) (*Signature, error) {
	if len(data) < 8 {
		return nil, ferr.New(ferr.Protocol, "signature header truncated")
	}
	blockSize := binary.BigEndian.Uint32(data[0:4])
	count := binary.BigEndian.Uint32(data[4:8])
	data = data[8:]

	const recSize = 4 + md5.Size
	if uint64(len(data)) < uint64(count)*uint64(recSize) {
		return nil, ferr.New(ferr.Protocol, "signature records truncated")
	}

	sig := &Signature{BlockSize: blockSize, blocks: make([]blockSig, count)}
	for i := uint32(0); i < count; i++ {
		rec := data[i*recSize:]
		sig.blocks[i].Weak = binary.BigEndian.Uint32(rec[0:4])
		copy(sig.blocks[i].Strong[:], rec[4:recSize])
	}
	sig.index()
	return sig, nil
}

// lookup checks whether block's content matches a known signature block:
// first by weak hash (candidates come from byWeak), then confirmed by the
// strong hash, exactly as spec §4.6.3 describes.
func (s *Signature) lookup(weak uint32, block []byte) (baseOffset uint64, length int, ok bool) {
	candidates := s.byWeak[weak]
	if len(candidates) == 0 {
		return 0, 0, false
	}
	strong := md5.Sum(block)
	for _, idx := range candidates {
		if bytes.Equal(s.blocks[idx].Strong[:], strong[:]) {
			return uint64(idx) * uint64(s.BlockSize), len(block), true
		}
	}
	return 0, 0, false
}
