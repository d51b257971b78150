package delta

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildSignaturePartitionsIntoBlocks(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), 10) // 160 bytes
	sig, err := BuildSignature(bytes.NewReader(data), 16)
	require.NoError(t, err)
	require.Len(t, sig.blocks, 10)
	for _, b := range sig.blocks {
		require.Equal(t, sig.blocks[0].Weak, b.Weak)
		require.Equal(t, sig.blocks[0].Strong, b.Strong)
	}
}

func TestBuildSignatureLastBlockShort(t *testing.T) {
	data := []byte("0123456789") // 10 bytes, block size 4 -> blocks of 4,4,2
	sig, err := BuildSignature(bytes.NewReader(data), 4)
	require.NoError(t, err)
	require.Len(t, sig.blocks, 3)
	require.Equal(t, adlerChecksum([]byte("89")), sig.blocks[2].Weak)
}

func TestBuildSignatureEmptyBase(t *testing.T) {
	sig, err := BuildSignature(bytes.NewReader(nil), 16)
	require.NoError(t, err)
	require.Empty(t, sig.blocks)
}

func TestSignatureEncodeDecodeRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 37)
	sig, err := BuildSignature(bytes.NewReader(data), 8)
	require.NoError(t, err)

	decoded, err := DecodeSignature(sig.Encode())
	require.NoError(t, err)
	require.Equal(t, sig.BlockSize, decoded.BlockSize)
	require.Equal(t, sig.blocks, decoded.blocks)

	off, length, ok := decoded.lookup(sig.blocks[0].Weak, data[:8])
	require.True(t, ok)
	require.Equal(t, uint64(0), off)
	require.Equal(t, 8, length)
}

func TestSignatureLookupRejectsNonMatchingContent(t *testing.T) {
	sig, err := BuildSignature(bytes.NewReader([]byte("aaaaaaaa")), 8)
	require.NoError(t, err)
	_, _, ok := sig.lookup(sig.blocks[0].Weak, []byte("bbbbbbbb"))
	require.False(t, ok)

	// Same weak hash but different content must still be rejected by the
	// strong-hash confirmation step.
	_, _, ok = sig.lookup(sig.blocks[0].Weak, []byte("aaaaaaab"))
	require.False(t, ok)
}
