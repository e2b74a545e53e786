package fftengine

// Butterfly computes the radix-2 pair A' = (A + W*B)/2, B' = (A - W*B)/2
// in Q15 fixed point. The complex product is taken at double width and
// shifted back by 15 bits; the sums and differences are held in 32 bits
// until the final shift so no precision is lost before scaling. The
// mandatory /2 at every butterfly bounds growth across the nine cascaded
// stages -- without it full-scale inputs overflow around stage 5.
func Butterfly(a, b, w Sample) (Sample, Sample) {
	// W*B, double-width products, arithmetic shift back to Q15.
	wbRe := (int32(w.Re)*int32(b.Re) - int32(w.Im)*int32(b.Im)) >> 15
	wbIm := (int32(w.Re)*int32(b.Im) + int32(w.Im)*int32(b.Re)) >> 15

	aOut := Sample{
		Re: int16((int32(a.Re) + wbRe) >> 1),
		Im: int16((int32(a.Im) + wbIm) >> 1),
	}
	bOut := Sample{
		Re: int16((int32(a.Re) - wbRe) >> 1),
		Im: int16((int32(a.Im) - wbIm) >> 1),
	}
	return aOut, bOut
}
