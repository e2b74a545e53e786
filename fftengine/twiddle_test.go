package fftengine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwiddleROMContent(t *testing.T) {
	// Full 128-entry quarter wave, cos/sin at k*pi/256 rounded to Q15.
	for i := 0; i < ROMDepth; i++ {
		angle := float64(i) * math.Pi / 256.0
		assert.Equal(t, int16(math.Round(math.Cos(angle)*32767)), twiddleCosROM[i], "cos[%d]", i)
		assert.Equal(t, int16(math.Round(math.Sin(angle)*32767)), twiddleSinROM[i], "sin[%d]", i)
	}
}

func TestTwiddleQuadrantBoundaries(t *testing.T) {
	// W at 0, 90, 180 and 270 degrees.
	assert.Equal(t, Sample{Re: 32767, Im: 0}, twiddleAt(0))
	assert.Equal(t, Sample{Re: 0, Im: -32767}, twiddleAt(128))
	assert.Equal(t, Sample{Re: -32767, Im: 0}, twiddleAt(256))
	assert.Equal(t, Sample{Re: 0, Im: 32767}, twiddleAt(384))
}

func TestTwiddleMatchesAnalytic(t *testing.T) {
	// W = cos(theta) - j*sin(theta) across the whole circle, within
	// Q15 rounding.
	for idx := 0; idx < FFTSize; idx++ {
		theta := 2 * math.Pi * float64(idx) / FFTSize
		w := twiddleAt(idx)
		assert.InDelta(t, math.Cos(theta)*32767, float64(w.Re), 1.0, "re at %d", idx)
		assert.InDelta(t, -math.Sin(theta)*32767, float64(w.Im), 1.0, "im at %d", idx)
	}
}

func TestTwiddleUnitMagnitude(t *testing.T) {
	// real^2 + imag^2 is one within fixed-point rounding, for every
	// (stage, butterflyIndex) pair the controller can present.
	for stage := 0; stage < StageCount; stage++ {
		for k := 0; k < ButterfliesPerStage; k++ {
			w := Twiddle(stage, k)
			mag := math.Sqrt(float64(w.Re)*float64(w.Re) + float64(w.Im)*float64(w.Im))
			require.InDelta(t, 32767.0, mag, 1.5, "stage %d butterfly %d", stage, k)
		}
	}
}

func TestTwiddleStageZeroIsUnity(t *testing.T) {
	// Stage 0 butterflies pair adjacent sub-transforms of length one;
	// every coefficient is W^0.
	for k := 0; k < ButterfliesPerStage; k++ {
		assert.Equal(t, Sample{Re: 32767, Im: 0}, Twiddle(0, k), "butterfly %d", k)
	}
}

func TestTwiddleConj(t *testing.T) {
	for stage := 0; stage < StageCount; stage++ {
		for k := 0; k < ButterfliesPerStage; k += 7 {
			w := Twiddle(stage, k)
			c := TwiddleConj(stage, k)
			assert.Equal(t, w.Re, c.Re)
			assert.Equal(t, negQ15(w.Im), c.Im)
		}
	}
}
