package fftengine

// DCFilter removes the DC component from a sample stream ahead of the
// FFT: a single-pole high-pass, one multiply-accumulate per sample, in
// the same Q15 fixed point as the engine.
//
//	y[n] = x[n] - x[n-1] + (R * y[n-1]) >> 15
//
// R close to one gives a cutoff of a few hertz at audio rates.
type DCFilter struct {
	coeff int16 // R in Q15
	x1    int16
	y1    int16
}

// DefaultDCCoeff is R = 0.995 in Q15.
const DefaultDCCoeff int16 = 32604

// NewDCFilter creates a filter with the given Q15 pole coefficient. A
// non-positive coefficient selects the default.
func NewDCFilter(coeff int16) *DCFilter {
	if coeff <= 0 {
		coeff = DefaultDCCoeff
	}
	return &DCFilter{coeff: coeff}
}

// Process filters one sample.
func (f *DCFilter) Process(x int16) int16 {
	acc := int32(x) - int32(f.x1) + ((int32(f.coeff) * int32(f.y1)) >> 15)
	y := saturateQ15(acc)
	f.x1 = x
	f.y1 = y
	return y
}

// ProcessBlock filters a block in place.
func (f *DCFilter) ProcessBlock(samples []int16) {
	for i, x := range samples {
		samples[i] = f.Process(x)
	}
}

// Reset clears the filter state.
func (f *DCFilter) Reset() {
	f.x1 = 0
	f.y1 = 0
}

func saturateQ15(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
