package fftengine

import "math"

// Quarter-wave twiddle ROM. Only the first 128 magnitudes (one quarter
// cycle) are stored; the other three quadrants are derived by sign/swap
// symmetry. The table is generated analytically at init rather than
// carrying a literal table.
var (
	twiddleCosROM [ROMDepth]int16
	twiddleSinROM [ROMDepth]int16
)

func init() {
	for i := 0; i < ROMDepth; i++ {
		angle := float64(i) * math.Pi / 256.0
		twiddleCosROM[i] = quantizeQ15(math.Cos(angle))
		twiddleSinROM[i] = quantizeQ15(math.Sin(angle))
	}
}

// quantizeQ15 scales a value in [-1, 1] to Q15, rounded to nearest.
func quantizeQ15(v float64) int16 {
	scaled := math.Round(v * 32767.0)
	if scaled > 32767 {
		scaled = 32767
	}
	if scaled < -32768 {
		scaled = -32768
	}
	return int16(scaled)
}

// quadrant identifies which quarter of the unit circle an angle index
// falls in. The sign/swap correction for each quadrant is the rotation
// by (-j)^q applied to the quarter-wave ROM entry.
type quadrant uint8

const (
	quadrant0 quadrant = iota // angle in [0, pi/2)
	quadrant1                 // angle in [pi/2, pi)
	quadrant2                 // angle in [pi, 3pi/2)
	quadrant3                 // angle in [3pi/2, 2pi)
)

// twiddleAt returns W = cos(theta) - j*sin(theta) for theta =
// 2*pi*angleIndex/512, as a Q15 Sample.
func twiddleAt(angleIndex int) Sample {
	angleIndex &= FFTSize - 1

	q := quadrant(angleIndex >> 7)
	base := angleIndex & (ROMDepth - 1)

	cosVal := twiddleCosROM[base]
	sinVal := twiddleSinROM[base]

	// Quadrant correction: W(theta + q*pi/2) = W(theta) * (-j)^q.
	switch q {
	case quadrant0:
		return Sample{Re: cosVal, Im: -sinVal}
	case quadrant1:
		return Sample{Re: -sinVal, Im: -cosVal}
	case quadrant2:
		return Sample{Re: -cosVal, Im: sinVal}
	default: // quadrant3
		return Sample{Re: sinVal, Im: cosVal}
	}
}

// Twiddle returns the twiddle coefficient for one butterfly. At stage s
// the butterfly's position within its group is butterflyIndex mod 2^s,
// and the coefficient argument is that position scaled up to the full
// 512-point circle.
func Twiddle(stage, butterflyIndex int) Sample {
	stride := 1 << uint(stage)
	pos := butterflyIndex & (stride - 1)
	return twiddleAt(pos << uint(StageCount-1-stage))
}

// TwiddleConj returns the conjugated coefficient, used for the inverse
// transform.
func TwiddleConj(stage, butterflyIndex int) Sample {
	w := Twiddle(stage, butterflyIndex)
	return Sample{Re: w.Re, Im: negQ15(w.Im)}
}

// negQ15 negates a Q15 value, saturating the single asymmetric case
// (-32768 has no positive counterpart).
func negQ15(v int16) int16 {
	if v == -32768 {
		return 32767
	}
	return -v
}
