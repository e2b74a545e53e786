package fftengine

// BitReverse9 mirrors the low 9 bits of addr: output bit i equals input
// bit 8-i. Applying it twice returns the original address.
func BitReverse9(addr uint16) uint16 {
	var out uint16
	for i := 0; i < AddrBits; i++ {
		out = (out << 1) | (addr & 1)
		addr >>= 1
	}
	return out & (FFTSize - 1)
}
