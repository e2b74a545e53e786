package fftengine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/dsp/fourier"
)

// referenceDFT computes the double-precision DFT of in, scaled by the
// engine's 1/512 attenuation (one halving per stage).
func referenceDFT(in []Sample) []complex128 {
	src := make([]complex128, FFTSize)
	for i, s := range in {
		src[i] = complex(float64(s.Re), float64(s.Im))
	}
	fft := fourier.NewCmplxFFT(FFTSize)
	coeffs := fft.Coefficients(nil, src)
	for i := range coeffs {
		coeffs[i] /= FFTSize
	}
	return coeffs
}

func runBatch(t *testing.T, e *Engine, in []Sample) []Sample {
	t.Helper()
	out := make([]Sample, FFTSize)
	require.True(t, e.Transform(in, out))
	require.True(t, e.TakeDone())
	return out
}

func TestEngineMatchesReferenceDFT(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	in := make([]Sample, FFTSize)
	for i := range in {
		in[i] = Sample{
			Re: int16(rng.Intn(32768) - 16384),
			Im: int16(rng.Intn(32768) - 16384),
		}
	}

	out := runBatch(t, NewEngine(), in)
	want := referenceDFT(in)

	// Error bound: per-stage truncation plus Q15 twiddle rounding,
	// attenuated by the halving of later stages.
	const tol = 12.0
	for i := range out {
		assert.InDelta(t, real(want[i]), float64(out[i].Re), tol, "re bin %d", i)
		assert.InDelta(t, imag(want[i]), float64(out[i].Im), tol, "im bin %d", i)
	}
}

func TestEngineAllZeroInput(t *testing.T) {
	e := NewEngine()
	out := runBatch(t, e, make([]Sample, FFTSize))
	for i, s := range out {
		assert.Equal(t, Sample{}, s, "bin %d", i)
	}
	// Done is a one-shot pulse; runBatch already consumed it.
	assert.False(t, e.TakeDone())
	assert.Equal(t, StateIdle, e.State())
}

func TestEngineImpulseResponse(t *testing.T) {
	// A full-scale impulse at address 0 has a flat spectrum: every bin
	// is 0x7FFF attenuated by the nine halvings, within rounding.
	in := make([]Sample, FFTSize)
	in[0] = Sample{Re: 32767, Im: 0}

	out := runBatch(t, NewEngine(), in)
	for i, s := range out {
		assert.InDelta(t, 64.0, float64(s.Re), 3.0, "re bin %d", i)
		assert.InDelta(t, 0.0, float64(s.Im), 3.0, "im bin %d", i)
	}
}

func TestEngineSingleToneBin(t *testing.T) {
	// A pure twiddle-frequency tone concentrates in one bin.
	const bin = 37
	in := make([]Sample, FFTSize)
	for n := range in {
		w := twiddleAt((n * bin) % FFTSize)
		// e^{+j 2 pi bin n / 512} so the energy lands at +bin.
		in[n] = Sample{Re: w.Re, Im: negQ15(w.Im)}
	}

	out := runBatch(t, NewEngine(), in)
	want := referenceDFT(in)
	for i := range out {
		assert.InDelta(t, real(want[i]), float64(out[i].Re), 12.0, "re bin %d", i)
		assert.InDelta(t, imag(want[i]), float64(out[i].Im), 12.0, "im bin %d", i)
	}
	// Peak bin holds nearly the entire signal: 512 * 0x7FFF / 512.
	assert.Greater(t, out[bin].Re, int16(32000))
}

func TestEngineRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	in := make([]Sample, FFTSize)
	for i := range in {
		in[i] = Sample{
			Re: int16(rng.Intn(65536) - 32768),
			Im: int16(rng.Intn(65536) - 32768),
		}
	}

	fwd := runBatch(t, NewEngine(), in)
	back := runBatch(t, NewInverseEngine(), fwd)

	// Forward and inverse each attenuate by 2^9; the round trip
	// returns the input scaled down by 512.
	for i := range in {
		assert.InDelta(t, float64(in[i].Re)/FFTSize, float64(back[i].Re), 8.0, "re %d", i)
		assert.InDelta(t, float64(in[i].Im)/FFTSize, float64(back[i].Im), 8.0, "im %d", i)
	}
}

func TestEngineComputeStepCountIsDataIndependent(t *testing.T) {
	zeros := make([]Sample, FFTSize)
	noise := make([]Sample, FFTSize)
	rng := rand.New(rand.NewSource(3))
	for i := range noise {
		noise[i] = Sample{Re: int16(rng.Intn(65536) - 32768), Im: int16(rng.Intn(65536) - 32768)}
	}

	e := NewEngine()
	runBatch(t, e, zeros)
	assert.Equal(t, uint64(ComputeStepsPerBatch), e.ComputeSteps())
	runBatch(t, e, noise)
	assert.Equal(t, uint64(ComputeStepsPerBatch), e.ComputeSteps())
	assert.Equal(t, uint64(4608), e.ComputeSteps())
}

func TestEngineStartWhileBusyIgnored(t *testing.T) {
	in := make([]Sample, FFTSize)
	in[3] = Sample{Re: 12345, Im: -6789}

	e := NewEngine()
	require.True(t, e.Start())
	for i := 0; i < 100; i++ {
		e.Load(in[i].Re, in[i].Im, uint16(i))
	}

	// Start during LOAD must not disturb the batch.
	assert.False(t, e.Start())
	assert.Equal(t, StateLoad, e.State())

	for i := 100; i < FFTSize; i++ {
		e.Load(in[i].Re, in[i].Im, uint16(i))
	}

	// Start during OUTPUT must not disturb the result stream either.
	assert.Equal(t, StateOutput, e.State())
	assert.False(t, e.Start())

	out := make([]Sample, FFTSize)
	for {
		r, ok := e.ReadResult()
		if !ok {
			break
		}
		out[r.Addr] = Sample{Re: r.Re, Im: r.Im}
	}
	require.True(t, e.TakeDone())

	// Same input through an undisturbed engine gives identical output.
	want := runBatch(t, NewEngine(), in)
	assert.Equal(t, want, out)
}

func TestEngineOutputNaturalOrder(t *testing.T) {
	e := NewEngine()
	require.True(t, e.Start())
	for i := 0; i < FFTSize; i++ {
		e.Load(0, 0, uint16(i))
	}
	for want := 0; want < FFTSize; want++ {
		r, ok := e.ReadResult()
		require.True(t, ok)
		assert.Equal(t, uint16(want), r.Addr)
	}
	_, ok := e.ReadResult()
	assert.False(t, ok)
	assert.Equal(t, StateIdle, e.State())
}

func TestEngineBitReversedLoad(t *testing.T) {
	// Loading natural address a must land at BitReverse9(a) in bank A.
	e := NewEngine()
	require.True(t, e.Start())
	e.Load(111, -222, 3)
	assert.Equal(t, Sample{Re: 111, Im: -222}, e.banks[0][BitReverse9(3)])
}

func TestEngineLoadOutsideLoadPhaseIgnored(t *testing.T) {
	e := NewEngine()
	e.Load(1, 2, 0)
	assert.Equal(t, Sample{}, e.banks[0][0])
	assert.Equal(t, StateIdle, e.State())
}

func TestEngineReset(t *testing.T) {
	e := NewEngine()
	require.True(t, e.Start())
	e.Load(5, 6, 0)
	e.Reset()
	assert.Equal(t, StateIdle, e.State())
	assert.False(t, e.Busy())
	assert.False(t, e.TakeDone())
	// Ready for a fresh batch.
	assert.True(t, e.Start())
}

func BenchmarkEngineTransform(b *testing.B) {
	rng := rand.New(rand.NewSource(11))
	in := make([]Sample, FFTSize)
	out := make([]Sample, FFTSize)
	for i := range in {
		in[i] = Sample{Re: int16(rng.Intn(65536) - 32768), Im: int16(rng.Intn(65536) - 32768)}
	}
	e := NewEngine()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Transform(in, out)
		e.TakeDone()
	}
}
