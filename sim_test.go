package gosmu

import (
	"testing"
	"time"
)

func TestSimRateNegotiation(t *testing.T) {
	sim := NewSimTransport()
	var tests = []struct {
		target int
		want   int
	}{
		{100000, 100096},
		{102400, 102400},
		{50000, 49920},
		{10000, 9984},
		{1024, 1024},
	}
	for _, test := range tests {
		got, err := sim.NegotiateRate(test.target)
		if err != nil {
			t.Errorf("NegotiateRate(%d): %v", test.target, err)
			continue
		}
		if got != test.want {
			t.Errorf("NegotiateRate(%d) = %d, want %d", test.target, got, test.want)
		}
	}
	for _, target := range []int{0, -5, 100, 500000} {
		if _, err := sim.NegotiateRate(target); err == nil {
			t.Errorf("NegotiateRate(%d) succeeded, want error", target)
		}
	}
}

func TestSimLoopbackOrder(t *testing.T) {
	sim := NewSimTransport()
	if _, err := sim.NegotiateRate(102400); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		pkt := []Frame{{float32(i)}, {float32(i) + 0.5}}
		if err := sim.SubmitOutput(pkt); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		frames, err := sim.PollInput(-1)
		if err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
		if len(frames) != 2 || frames[0][0] != float32(i) {
			t.Fatalf("poll %d = %v, want the packet submitted %d-th", i, frames, i)
		}
	}
	// Nothing in flight: polling reports no packet rather than blocking.
	frames, err := sim.PollInput(-1)
	if err != nil || frames != nil {
		t.Errorf("idle poll = %v, %v, want nil, nil", frames, err)
	}
}

func TestSimPacing(t *testing.T) {
	sim := NewSimTransport()
	rate, err := sim.NegotiateRate(102400)
	if err != nil {
		t.Fatal(err)
	}

	// 10240 frames at 102400 Sa/s should take about 100 ms to complete.
	const frames = 10240
	start := time.Now()
	for sent := 0; sent < frames; sent += sim.PacketSize() {
		pkt := make([]Frame, sim.PacketSize())
		for i := range pkt {
			pkt[i] = Frame{0}
		}
		if err := sim.SubmitOutput(pkt); err != nil {
			t.Fatal(err)
		}
		if _, err := sim.PollInput(-1); err != nil {
			t.Fatal(err)
		}
	}
	elapsed := time.Since(start)
	want := time.Duration(frames) * time.Second / time.Duration(rate)
	if elapsed < want/2 || elapsed > 4*want {
		t.Errorf("streaming %d frames took %v, want about %v", frames, elapsed, want)
	}
}
