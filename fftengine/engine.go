// Package fftengine implements a 512-point radix-2 decimation-in-time
// FFT in Q15 fixed point, modeled on the register-level engine it
// replaces: a four-phase controller (idle, load, compute, output), two
// memory banks alternated as ping-pong buffers, a single butterfly unit
// reused for all 2304 butterflies, and a quarter-wave twiddle ROM.
package fftengine

// Engine is the FFT controller. It owns the two memory banks
// exclusively and processes one batch at a time: samples are loaded at
// bit-reversed addresses, nine butterfly stages run with the bank roles
// swapping on stage parity, and results stream out of the final bank in
// natural order.
//
// Engine is not safe for concurrent use; the surrounding system drives
// one port at a time, matching the strictly sequential hardware
// schedule.
type Engine struct {
	inverse bool

	banks [2][FFTSize]Sample

	state          State
	stage          int
	butterflyIndex int
	outAddr        int

	computeSteps uint64
	done         bool
}

// NewEngine returns an idle forward-transform engine.
func NewEngine() *Engine {
	return &Engine{}
}

// NewInverseEngine returns an idle engine using conjugated twiddle
// coefficients. Forward then inverse reproduces the input scaled by
// 1/512, since every stage of each direction halves magnitude.
func NewInverseEngine() *Engine {
	return &Engine{inverse: true}
}

// State returns the current controller phase.
func (e *Engine) State() State {
	return e.state
}

// Busy reports whether a batch is in flight.
func (e *Engine) Busy() bool {
	return e.state != StateIdle
}

// Start begins a new batch. It is effective only from idle: a start
// request while busy is ignored and leaves the in-flight batch
// untouched.
func (e *Engine) Start() bool {
	if e.state != StateIdle {
		return false
	}
	e.stage = 0
	e.butterflyIndex = 0
	e.outAddr = 0
	e.computeSteps = 0
	e.done = false
	e.state = StateLoad
	return true
}

// Reset returns the controller to idle unconditionally, discarding any
// in-flight batch.
func (e *Engine) Reset() {
	e.state = StateIdle
	e.stage = 0
	e.butterflyIndex = 0
	e.outAddr = 0
	e.done = false
}

// Load accepts one input triple during the load phase, storing the
// sample at the bit-reversed position of its natural address. Receipt
// of address 511 completes the batch and runs the compute phase.
// Callers must supply all 512 addresses exactly once; skipped or
// duplicate addresses leave the bank contents undefined by contract,
// they are not detected here.
func (e *Engine) Load(re, im int16, naturalAddr uint16) {
	if e.state != StateLoad {
		return
	}
	naturalAddr &= FFTSize - 1
	e.banks[0][BitReverse9(naturalAddr)] = Sample{Re: re, Im: im}
	if naturalAddr == FFTSize-1 {
		e.state = StateCompute
		e.compute()
		e.state = StateOutput
	}
}

// compute runs the full butterfly schedule: 9 stages of 256 butterflies,
// reading the stage-parity bank and writing its partner at the same two
// addresses. The hardware's separate read and write cycles per butterfly
// are collapsed into one pass, but the step counter keeps the two-cycle
// accounting so the compute phase is always ComputeStepsPerBatch steps.
func (e *Engine) compute() {
	for e.stage = 0; e.stage < StageCount; e.stage++ {
		read := &e.banks[e.stage&1]
		write := &e.banks[1-(e.stage&1)]
		stride := 1 << uint(e.stage)

		for e.butterflyIndex = 0; e.butterflyIndex < ButterfliesPerStage; e.butterflyIndex++ {
			k := e.butterflyIndex

			// Split the butterfly index into (group, position) and map
			// to the operand pair: group*groupSize + pos and its
			// partner one stride above.
			addrA := ((k &^ (stride - 1)) << 1) | (k & (stride - 1))
			addrB := addrA + stride

			var w Sample
			if e.inverse {
				w = TwiddleConj(e.stage, k)
			} else {
				w = Twiddle(e.stage, k)
			}

			write[addrA], write[addrB] = Butterfly(read[addrA], read[addrB], w)
			e.computeSteps += 2
		}
	}
}

// outputBank is the bank holding final results: nine stages means an
// odd number of ping-pong swaps, so results land in bank B.
const outputBank = StageCount & 1

// ReadResult streams one output triple during the output phase, in
// natural address order. After address 511 the engine returns to idle
// and latches the one-shot done pulse. The second return is false
// outside the output phase.
func (e *Engine) ReadResult() (Result, bool) {
	if e.state != StateOutput {
		return Result{}, false
	}
	addr := e.outAddr
	s := e.banks[outputBank][addr]
	e.outAddr++
	if e.outAddr == FFTSize {
		e.state = StateIdle
		e.done = true
	}
	return Result{Re: s.Re, Im: s.Im, Addr: uint16(addr)}, true
}

// TakeDone consumes the one-shot completion pulse. It returns true
// exactly once per completed batch.
func (e *Engine) TakeDone() bool {
	d := e.done
	e.done = false
	return d
}

// ComputeSteps returns the internal step count of the most recent
// compute phase. The count is data-independent.
func (e *Engine) ComputeSteps() uint64 {
	return e.computeSteps
}

// Transform drives a full batch through the port sequence: start,
// natural-order load, output drain into out indexed by address. It
// returns false without touching the banks if the engine is busy or the
// slices are short.
func (e *Engine) Transform(in, out []Sample) bool {
	if len(in) < FFTSize || len(out) < FFTSize {
		return false
	}
	if !e.Start() {
		return false
	}
	for i := 0; i < FFTSize; i++ {
		e.Load(in[i].Re, in[i].Im, uint16(i))
	}
	for {
		r, ok := e.ReadResult()
		if !ok {
			break
		}
		out[r.Addr] = Sample{Re: r.Re, Im: r.Im}
	}
	return true
}
