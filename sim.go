package gosmu

import (
	"fmt"
	"sync"
	"time"
)

// Rate and packet geometry of the simulated device. Rates quantize to 256
// Sa/s steps, so a negotiated rate is never more than 128 Sa/s from the
// target, comfortably inside the 256 Sa/s bound the reference hardware keeps.
const (
	simPacketSize = 256    // frames per packet
	simRateStep   = 256    // Sa/s quantization step
	simMinRate    = 1024   // Sa/s
	simMaxRate    = 102400 // Sa/s
)

// SimTransport is a software loopback device: every submitted output packet
// completes as an input packet carrying the same values, paced by the wall
// clock at the negotiated sample rate. It stands in for hardware in tests and
// when smud runs without a device attached.
type SimTransport struct {
	mu      sync.Mutex
	rate    int
	clock   time.Time // completion time of the last submitted packet
	pending []simPacket
	closed  bool
}

type simPacket struct {
	frames  []Frame
	readyAt time.Time
}

// NewSimTransport creates a loopback transport. The rate defaults to the
// quantization of DefaultSampleRate until NegotiateRate is called.
func NewSimTransport() *SimTransport {
	t := &SimTransport{}
	t.rate, _ = t.NegotiateRate(DefaultSampleRate)
	return t
}

// NegotiateRate quantizes target to the nearest 256 Sa/s step.
func (t *SimTransport) NegotiateRate(target int) (int, error) {
	rate := (target + simRateStep/2) / simRateStep * simRateStep
	if rate < simMinRate || rate > simMaxRate {
		return 0, fmt.Errorf("%d Sa/s is outside [%d, %d]: %w",
			target, simMinRate, simMaxRate, ErrRateUnattainable)
	}
	t.mu.Lock()
	t.rate = rate
	t.mu.Unlock()
	return rate, nil
}

// PacketSize returns the fixed frames-per-packet of the simulated device.
func (t *SimTransport) PacketSize() int { return simPacketSize }

// SubmitOutput schedules pkt to complete as an input packet after the time
// the device would take to produce it at the negotiated rate.
func (t *SimTransport) SubmitOutput(pkt []Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("sim transport is closed")
	}
	now := time.Now()
	if t.clock.Before(now) {
		t.clock = now
	}
	t.clock = t.clock.Add(time.Duration(len(pkt)) * time.Second / time.Duration(t.rate))
	t.pending = append(t.pending, simPacket{frames: pkt, readyAt: t.clock})
	return nil
}

// PollInput returns the oldest completed packet. With nothing in flight it
// returns nil immediately regardless of timeout.
func (t *SimTransport) PollInput(timeout time.Duration) ([]Frame, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return nil, fmt.Errorf("sim transport is closed")
		}
		if len(t.pending) == 0 {
			t.mu.Unlock()
			return nil, nil
		}
		p := t.pending[0]
		wait := time.Until(p.readyAt)
		if wait <= 0 {
			t.pending = t.pending[1:]
			t.mu.Unlock()
			return p.frames, nil
		}
		t.mu.Unlock()

		if timeout == 0 {
			return nil, nil
		}
		if timeout > 0 {
			remain := time.Until(deadline)
			if remain <= 0 {
				return nil, nil
			}
			if wait > remain {
				wait = remain
			}
		}
		time.Sleep(wait)
	}
}

// Close marks the transport closed; further submissions and polls fail.
func (t *SimTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}
