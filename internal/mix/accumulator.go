package mix

// Accumulator buffers loopback samples between mic frames so the two
// channels can be mixed in fixed-size pairs even though the devices deliver
// callbacks on independent cadences. It is not safe for concurrent use; the
// session's pump goroutine is the only caller.
type Accumulator struct {
	buf []float32
	max int
}

// NewAccumulator bounds the buffer at max samples; older samples are dropped
// first when the producer outruns the consumer.
func NewAccumulator(max int) *Accumulator {
	if max <= 0 {
		max = 1 << 16
	}
	return &Accumulator{max: max}
}

func (a *Accumulator) Push(samples []float32) {
	a.buf = append(a.buf, samples...)
	if over := len(a.buf) - a.max; over > 0 {
		a.buf = a.buf[over:]
	}
}

// Pull returns exactly n samples, zero-padded when fewer are buffered.
func (a *Accumulator) Pull(n int) []float32 {
	out := make([]float32, n)
	c := copy(out, a.buf)
	a.buf = a.buf[c:]
	return out
}

func (a *Accumulator) Len() int { return len(a.buf) }

func (a *Accumulator) Reset() { a.buf = a.buf[:0] }
