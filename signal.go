package gosmu

import (
	"fmt"
	"math"
)

// SampleFunc supplies one output sample per call. The index argument is a
// strictly increasing 0-based tick counter.
type SampleFunc func(index uint64) float32

// MeasureFunc consumes one measured sample per call.
type MeasureFunc func(value float32)

// Signal holds the per-channel output synthesis and input measurement state.
// Each channel of a Session owns one Signal pair: an output Signal whose
// GetSample is called once per tick to produce the driven value, and an input
// Signal whose PutSample receives the measured value for the same tick.
//
// The active source is one of: constant, square, sawtooth, stairstep, sine,
// triangle, buffer, or callback. Calling any Source* method replaces the
// active source wholesale, so no phase or cursor state survives a source
// change. None of the Signal operations can fail; argument validation (e.g.
// rejecting a zero period) is the job of the Session boundary.
type Signal struct {
	src    source
	dst    dest
	cfgErr error // unusable source configuration, surfaced by Run/Start
	latest float32
}

// source produces the next output sample, advancing internal state by one tick.
type source interface {
	sample() float32
}

// dest consumes one measured sample.
type dest interface {
	put(value float32)
}

// waveform holds the state shared by all periodic sources. The period is a
// positive real number of samples per cycle and need not be integral; the
// phase accumulator wraps modulo period.
type waveform struct {
	v1, v2        float32 // midpoint and peak values
	period, phase float64
}

// step returns the pre-advance phase and normalized phase in [0,1), then
// advances the accumulator by one tick.
func (w *waveform) step() (phase, norm float64) {
	phase = w.phase
	norm = phase / w.period
	if norm < 0 {
		norm++
	}
	w.phase = math.Mod(w.phase+1, w.period)
	return phase, norm
}

func (w *waveform) peakToPeak() float32 { return w.v2 - w.v1 }

type srcConstant struct{ value float32 }

func (s *srcConstant) sample() float32 { return s.value }

type srcSquare struct {
	waveform
	duty float64
}

func (s *srcSquare) sample() float32 {
	_, norm := s.step()
	if norm < s.duty {
		return s.v1
	}
	return s.v2
}

type srcSawtooth struct{ waveform }

func (s *srcSawtooth) sample() float32 {
	phase, _ := s.step()
	intPeriod := math.Trunc(s.period)
	intPhase := math.Trunc(phase)
	fracPeriod := s.period - intPeriod
	fracPhase := phase - intPhase

	// Integer part of the maximum value the phase reaches before wrapping.
	// With period = 100.6 and an initial phase of 0.3 the accumulator visits
	// 0.3, 1.3, ..., 99.3, 100.3; with an initial phase of 0.7 it stops at
	// 99.7. The <= comparison at the frac boundary is a deliberate tie-break:
	// changing it changes the long-run waveform shape.
	maxIntPhase := intPeriod
	if fracPeriod <= fracPhase {
		maxIntPhase = intPeriod - 1
	}
	return s.v2 - float32(intPhase/maxIntPhase)*s.peakToPeak()
}

type srcStairstep struct{ waveform }

func (s *srcStairstep) sample() float32 {
	_, norm := s.step()
	return s.v2 - float32(math.Floor(norm*10))*s.peakToPeak()/9
}

type srcSine struct{ waveform }

func (s *srcSine) sample() float32 {
	_, norm := s.step()
	return s.v1 + float32(1+math.Cos(norm*2*math.Pi))*s.peakToPeak()/2
}

type srcTriangle struct{ waveform }

func (s *srcTriangle) sample() float32 {
	_, norm := s.step()
	return s.v1 + float32(math.Abs(1-norm*2))*s.peakToPeak()
}

// srcBuffer plays back a caller-owned sample buffer. The buffer is borrowed:
// it is never copied, resized, or retained past a source change.
type srcBuffer struct {
	buf    []float32
	repeat bool
	cursor int
}

func (s *srcBuffer) sample() float32 {
	if s.cursor >= len(s.buf) {
		if !s.repeat {
			// Exhausted and not repeating: clamp on the final element.
			return s.buf[len(s.buf)-1]
		}
		s.cursor = 0
	}
	v := s.buf[s.cursor]
	s.cursor++
	return v
}

type srcCallback struct {
	fn     SampleFunc
	cursor uint64
}

func (s *srcCallback) sample() float32 {
	v := s.fn(s.cursor)
	s.cursor++
	return v
}

// destBuffer writes measurements into a caller-owned buffer until its capacity
// is consumed; further writes are dropped.
type destBuffer struct{ buf []float32 }

func (d *destBuffer) put(value float32) {
	if len(d.buf) > 0 {
		d.buf[0] = value
		d.buf = d.buf[1:]
	}
}

type destCallback struct{ fn MeasureFunc }

func (d *destCallback) put(value float32) { d.fn(value) }

func periodErr(kind string, period float64) error {
	if period > 0 {
		return nil
	}
	return fmt.Errorf("%s source period %g is not positive", kind, period)
}

// SourceConstant makes the Signal output a fixed value.
func (s *Signal) SourceConstant(value float32) {
	s.src = &srcConstant{value: value}
	s.cfgErr = nil
}

// SourceSquare makes the Signal output a square wave. The wave holds midpoint
// for the first duty fraction of each cycle and peak for the remainder.
func (s *Signal) SourceSquare(midpoint, peak float32, period, duty, phase float64) {
	s.src = &srcSquare{waveform: waveform{v1: midpoint, v2: peak, period: period, phase: phase}, duty: duty}
	s.cfgErr = periodErr("square", period)
}

// SourceSawtooth makes the Signal output a falling ramp from peak to midpoint
// each cycle. Non-integral periods are handled without long-term phase drift.
func (s *Signal) SourceSawtooth(midpoint, peak float32, period, phase float64) {
	s.src = &srcSawtooth{waveform{v1: midpoint, v2: peak, period: period, phase: phase}}
	s.cfgErr = periodErr("sawtooth", period)
}

// SourceStairstep makes the Signal output a descending 9-step staircase.
func (s *Signal) SourceStairstep(midpoint, peak float32, period, phase float64) {
	s.src = &srcStairstep{waveform{v1: midpoint, v2: peak, period: period, phase: phase}}
	s.cfgErr = periodErr("stairstep", period)
}

// SourceSine makes the Signal output a raised cosine between midpoint and peak.
func (s *Signal) SourceSine(midpoint, peak float32, period, phase float64) {
	s.src = &srcSine{waveform{v1: midpoint, v2: peak, period: period, phase: phase}}
	s.cfgErr = periodErr("sine", period)
}

// SourceTriangle makes the Signal output a triangle wave.
func (s *Signal) SourceTriangle(midpoint, peak float32, period, phase float64) {
	s.src = &srcTriangle{waveform{v1: midpoint, v2: peak, period: period, phase: phase}}
	s.cfgErr = periodErr("triangle", period)
}

// SourceBuffer plays back buf, one sample per tick. The buffer is borrowed
// from the caller and must outlive its use as a source. With repeat the
// playback wraps; without it the final sample repeats forever.
func (s *Signal) SourceBuffer(buf []float32, repeat bool) {
	s.src = &srcBuffer{buf: buf, repeat: repeat}
	s.cfgErr = nil
	if len(buf) == 0 {
		s.cfgErr = fmt.Errorf("buffer source has no samples")
	}
}

// SourceCallback asks fn for each output sample. fn runs on the production
// path and must not block.
func (s *Signal) SourceCallback(fn SampleFunc) {
	s.src = &srcCallback{fn: fn}
	s.cfgErr = nil
}

// MeasureBuffer directs measured samples into buf, stopping (without error)
// once buf is full. The buffer is borrowed from the caller.
func (s *Signal) MeasureBuffer(buf []float32) {
	s.dst = &destBuffer{buf: buf}
}

// MeasureCallback directs measured samples to fn. fn runs on the production
// path and must not block.
func (s *Signal) MeasureCallback(fn MeasureFunc) {
	s.dst = &destCallback{fn: fn}
}

// sourceErr reports a source configuration the production loop cannot run
// with, such as a nonpositive period or an empty playback buffer. Source*
// methods never fail; the Session refuses to produce instead.
func (s *Signal) sourceErr() error { return s.cfgErr }

// GetSample produces the next output sample, advancing the source by exactly
// one tick. With no source configured it returns 0.
func (s *Signal) GetSample() float32 {
	if s.src == nil {
		return 0
	}
	return s.src.sample()
}

// PutSample records one measured sample. The latest measurement is always
// retained; the configured destination, if any, receives the value as well.
func (s *Signal) PutSample(value float32) {
	s.latest = value
	if s.dst != nil {
		s.dst.put(value)
	}
}

// LatestMeasurement returns the last value passed to PutSample.
func (s *Signal) LatestMeasurement() float32 { return s.latest }
