package gosmu

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
)

func collect(s *Signal, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(s.GetSample())
	}
	return out
}

// TestPeriodicity ensures every periodic source repeats exactly after one
// integral period.
func TestPeriodicity(t *testing.T) {
	const period = 100.0
	configure := map[string]func(s *Signal){
		"square":    func(s *Signal) { s.SourceSquare(-1, 1, period, 0.5, 0) },
		"sawtooth":  func(s *Signal) { s.SourceSawtooth(-1, 1, period, 0) },
		"stairstep": func(s *Signal) { s.SourceStairstep(-1, 1, period, 0) },
		"sine":      func(s *Signal) { s.SourceSine(-1, 1, period, 0) },
		"triangle":  func(s *Signal) { s.SourceTriangle(-1, 1, period, 0) },
	}
	for name, cfg := range configure {
		s := &Signal{}
		cfg(s)
		first := collect(s, period)
		second := collect(s, period)
		for i := range first {
			if first[i] != second[i] {
				t.Errorf("%s sample %d = %v on first cycle, %v on second", name, i, first[i], second[i])
			}
		}
	}
}

func TestSineShape(t *testing.T) {
	s := &Signal{}
	s.SourceSine(0, 1, 100, 0)
	vals := collect(s, 100)
	if vals[0] != 1 {
		t.Errorf("sine at phase 0 = %v, want peak 1", vals[0])
	}
	if max := floats.Max(vals); max != 1 {
		t.Errorf("sine max = %v, want 1", max)
	}
	if min := floats.Min(vals); min < 0 || min > 0.001 {
		t.Errorf("sine min = %v, want ~0", min)
	}
	// A raised cosine averages to the midpoint of its range over one cycle.
	if mean := floats.Sum(vals) / float64(len(vals)); math.Abs(mean-0.5) > 0.01 {
		t.Errorf("sine mean = %v, want ~0.5", mean)
	}
}

func TestTriangleShape(t *testing.T) {
	s := &Signal{}
	s.SourceTriangle(0, 1, 4, 0)
	want := []float64{1, 0.5, 0, 0.5}
	got := collect(s, 4)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("triangle sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestStairstepShape(t *testing.T) {
	s := &Signal{}
	s.SourceStairstep(0, 9, 10, 0)
	got := collect(s, 10)
	for i := range got {
		want := float64(9 - i)
		if got[i] != want {
			t.Errorf("stairstep sample %d = %v, want %v", i, got[i], want)
		}
	}
}

// TestSquareDuty checks the duty-cycle split: with duty 0.5 exactly half the
// samples in a period sit at the midpoint level.
func TestSquareDuty(t *testing.T) {
	s := &Signal{}
	s.SourceSquare(-1, 1, 100, 0.5, 0)
	vals := collect(s, 1000)
	low := 0
	for _, v := range vals {
		if v == -1 {
			low++
		}
	}
	if low != 500 {
		t.Errorf("square with duty 0.5 has %d of 1000 samples at midpoint, want 500", low)
	}
}

// TestSawtoothNonIntegralPeriod exercises the non-integral-period
// interpolation: a 100.6-sample sawtooth must hit both rails every cycle and
// must not drift over many cycles.
func TestSawtoothNonIntegralPeriod(t *testing.T) {
	const period = 100.6
	s := &Signal{}
	s.SourceSawtooth(0, 1, period, 0)

	const cycles = 1000
	n := 101 * cycles
	vals := collect(s, n)

	var wrapTicks []int
	for i := 1; i < n; i++ {
		if vals[i] > vals[i-1] {
			wrapTicks = append(wrapTicks, i)
		}
	}
	wraps := len(wrapTicks)
	if wraps < cycles-10 || wraps > cycles+10 {
		t.Fatalf("saw wrapped %d times in %d samples, want ~%d", wraps, n, n*10/1006)
	}
	// The long-run average ticks per cycle converges on the period: no drift.
	ticksPerCycle := float64(wrapTicks[wraps-1]-wrapTicks[0]) / float64(wraps-1)
	if math.Abs(ticksPerCycle-period) > 0.01 {
		t.Errorf("saw averages %.4f ticks per cycle, want %.1f", ticksPerCycle, period)
	}
	// Both rails are reached: v2 at every cycle start, v1 on cycles whose
	// integer phase reaches the top of the interpolation range.
	if vals[0] != 1 {
		t.Errorf("saw first sample = %v, want 1", vals[0])
	}
	if min := floats.Min(vals); min != 0 {
		t.Errorf("saw min = %v, want 0", min)
	}
}

// TestSawtoothFracBoundary pins the tie-break at the fractional boundary:
// an initial phase whose fraction equals or exceeds the period's fraction
// shortens the integer phase range by one.
func TestSawtoothFracBoundary(t *testing.T) {
	s := &Signal{}
	s.SourceSawtooth(0, 1, 100.6, 0.7)
	// frac(phase)=0.7 >= frac(period)=0.6, so the cycle interpolates over
	// integer phases 0..99 and the very first sample sits at the peak.
	if v := s.GetSample(); v != 1 {
		t.Errorf("saw at phase 0.7 = %v, want 1", v)
	}
	// Advance to phase 99.7, the last tick of the cycle: exactly the floor.
	for i := 0; i < 98; i++ {
		s.GetSample()
	}
	if v := s.GetSample(); v != 0 {
		t.Errorf("saw at phase 99.7 = %v, want 0", v)
	}
}

func TestConstantSource(t *testing.T) {
	s := &Signal{}
	s.SourceConstant(2.5)
	for i := 0; i < 5; i++ {
		if v := s.GetSample(); v != 2.5 {
			t.Errorf("constant sample %d = %v, want 2.5", i, v)
		}
	}
}

func TestBufferSource(t *testing.T) {
	buf := []float32{1, 2, 3}

	s := &Signal{}
	s.SourceBuffer(buf, false)
	want := []float32{1, 2, 3, 3, 3, 3}
	for i, w := range want {
		if v := s.GetSample(); v != w {
			t.Errorf("non-repeating sample %d = %v, want %v", i, v, w)
		}
	}

	s.SourceBuffer(buf, true)
	want = []float32{1, 2, 3, 1, 2, 3, 1}
	for i, w := range want {
		if v := s.GetSample(); v != w {
			t.Errorf("repeating sample %d = %v, want %v", i, v, w)
		}
	}
}

func TestCallbackSource(t *testing.T) {
	var indexes []uint64
	s := &Signal{}
	s.SourceCallback(func(index uint64) float32 {
		indexes = append(indexes, index)
		return float32(index) * 2
	})
	for i := 0; i < 4; i++ {
		if v := s.GetSample(); v != float32(i*2) {
			t.Errorf("callback sample %d = %v, want %v", i, v, i*2)
		}
	}
	for i, idx := range indexes {
		if idx != uint64(i) {
			t.Errorf("callback index %d = %d, want %d", i, idx, i)
		}
	}
}

// TestSourceSwitchDiscardsState ensures that replacing the source resets
// phase and cursor state rather than leaking it across kinds.
func TestSourceSwitchDiscardsState(t *testing.T) {
	s := &Signal{}
	s.SourceSine(0, 1, 10, 0)
	first := s.GetSample()
	s.GetSample()
	s.GetSample()

	s.SourceSine(0, 1, 10, 0)
	if v := s.GetSample(); v != first {
		t.Errorf("sine after reconfigure = %v, want the phase-0 value %v", v, first)
	}

	s.SourceBuffer([]float32{7, 8}, false)
	s.GetSample()
	s.SourceBuffer([]float32{7, 8}, false)
	if v := s.GetSample(); v != 7 {
		t.Errorf("buffer after reconfigure = %v, want cursor reset to 7", v)
	}
}

func TestMeasureBufferStopsAtCapacity(t *testing.T) {
	backing := make([]float32, 6)
	for i := range backing {
		backing[i] = -99
	}
	s := &Signal{}
	s.MeasureBuffer(backing[:4])
	for i := 0; i < 7; i++ {
		s.PutSample(float32(i))
	}
	for i, want := range []float32{0, 1, 2, 3} {
		if backing[i] != want {
			t.Errorf("dest[%d] = %v, want %v", i, backing[i], want)
		}
	}
	if backing[4] != -99 || backing[5] != -99 {
		t.Error("writes continued past the destination capacity")
	}
	if s.LatestMeasurement() != 6 {
		t.Errorf("latest measurement = %v, want 6", s.LatestMeasurement())
	}
}

func TestMeasureCallback(t *testing.T) {
	var got []float32
	s := &Signal{}
	s.MeasureCallback(func(v float32) { got = append(got, v) })
	s.PutSample(1.5)
	s.PutSample(2.5)
	if len(got) != 2 || got[0] != 1.5 || got[1] != 2.5 {
		t.Errorf("callback received %v, want [1.5 2.5]", got)
	}
}

func TestPutSampleWithoutDestination(t *testing.T) {
	s := &Signal{}
	s.PutSample(3.25)
	if s.LatestMeasurement() != 3.25 {
		t.Errorf("latest measurement = %v, want 3.25", s.LatestMeasurement())
	}
}
