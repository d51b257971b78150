package delta

// adlerMod is the modulus of the classic rsync rolling checksum, the same
// one Adler-32 uses (spec §4.6: "weak rolling hash"). hash/adler32 only
// ever accumulates forward, with no way to remove a byte that has fallen
// out of the window, so the rolling sums are tracked here directly using
// the same (a, b) identity rather than recomputing the whole window's
// checksum on every shift.
const adlerMod = 65521

// rollingHash maintains Tridgell's two-sum rolling checksum over a
// fixed-length window, letting the window slide one byte at a time in
// O(1) instead of rehashing the whole window.
type rollingHash struct {
	a, b   uint32
	window []byte
}

func newRollingHash(block []byte) *rollingHash {
	h := &rollingHash{window: append([]byte(nil), block...)}
	n := uint32(len(block))
	var a uint32 = 1
	var b uint32
	for i, c := range block {
		a = (a + uint32(c)) % adlerMod
		b = (b + (n-uint32(i))*uint32(c)) % adlerMod
	}
	h.a, h.b = a, b
	return h
}

func (h *rollingHash) sum() uint32 { return h.b<<16 | h.a }

// roll drops the oldest byte in the window and appends next, updating the
// checksum incrementally:
//
//	a' = a - old + next
//	b' = b - n*old + a' - 1
//
// (the -1 cancels the initial 1 that a carries but b's weights never see).
func (h *rollingHash) roll(next byte) {
	n := int64(len(h.window))
	old := int64(h.window[0])

	a := (int64(h.a) - old + int64(next)) % adlerMod
	if a < 0 {
		a += adlerMod
	}
	b := (int64(h.b) - n*old + a - 1) % adlerMod
	if b < 0 {
		b += adlerMod
	}
	h.a, h.b = uint32(a), uint32(b)
	h.window = append(h.window[1:], next)
}

// adlerChecksum computes the same (a, b) checksum as rollingHash's initial
// state, in one pass, for signature construction where no rolling is
// needed.
func adlerChecksum(p []byte) uint32 {
	n := uint32(len(p))
	var a uint32 = 1
	var b uint32
	for i, c := range p {
		a = (a + uint32(c)) % adlerMod
		b = (b + (n-uint32(i))*uint32(c)) % adlerMod
	}
	return b<<16 | a
}
