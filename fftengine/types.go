package fftengine

// Build-time geometry of the engine. The stage-parity output bank rule
// below depends on StageCount being odd; changing FFTSize means
// re-deriving it, not just editing the constant.
const (
	// FFTSize is the transform length.
	FFTSize = 512

	// AddrBits is the width of a bank address.
	AddrBits = 9

	// StageCount is log2(FFTSize): the number of butterfly stages.
	StageCount = 9

	// ButterfliesPerStage is the number of butterflies run per stage,
	// independent of the stage index.
	ButterfliesPerStage = FFTSize / 2

	// ROMDepth is the quarter-wave twiddle table length.
	ROMDepth = 128

	// SampleBits is the fixed-point sample width.
	SampleBits = 16

	// ComputeStepsPerBatch is the deterministic internal step count of
	// the compute phase: two steps (read, write) per butterfly.
	ComputeStepsPerBatch = 2 * StageCount * ButterfliesPerStage
)

// Sample is one complex value in Q15 fixed point: one sign bit, 15
// fractional bits, range [-1, 1).
type Sample struct {
	Re int16
	Im int16
}

// Result is one output-port triple: a transformed sample and its
// natural-order address.
type Result struct {
	Re   int16
	Im   int16
	Addr uint16
}

// State is the controller phase.
type State int

const (
	StateIdle State = iota
	StateLoad
	StateCompute
	StateOutput
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoad:
		return "load"
	case StateCompute:
		return "compute"
	case StateOutput:
		return "output"
	default:
		return "unknown"
	}
}
