package gosmu

import (
	"fmt"
	"sync"
	"time"
)

// SessionMode indicates what a Session is doing.
type SessionMode int

// Names for the possible values of SessionMode.
const (
	ModeIdle      SessionMode = iota // no production in progress
	ModeRunning                      // bounded synchronous Run in progress
	ModeStreaming                    // continuous background production
)

// Default session geometry, matching the reference device.
const (
	DefaultSampleRate = 100000 // target Sa/s before device quantization
	DefaultQueueSize  = 10000  // frames the input queue holds
)

// Channel is one session channel: an output Signal sampled every tick to
// drive the device, and an input Signal receiving every measured value.
type Channel struct {
	Output *Signal
	Input  *Signal
}

// Session orchestrates production and consumption of samples over one
// Transport. Exactly one goroutine produces at a time: either the caller of
// Run (bounded, synchronous) or the background producer started by Start
// (continuous). Clients drain measured frames with Read.
//
// The frame queue is the only state shared between the producer and client
// calls; one mutex guards it, held only for the duration of each data move.
// Blocked readers wait on a condition variable and are woken by new frames,
// by a pending error, or by Cancel/End.
type Session struct {
	transport Transport
	channels  []*Channel
	queueSize int

	mu         sync.Mutex
	cond       *sync.Cond
	queue      *FrameQueue
	mode       SessionMode
	sampleRate int
	producing  bool
	pendingErr error // sticky drop or producer transport failure; cleared by Flush
	abort      chan struct{}
	runDone    sync.WaitGroup
}

// NewSession creates a Session with nchan channels over the given transport.
// queueSize fixes the input queue capacity in frames; zero selects
// DefaultQueueSize. The initial sample rate is the device's quantization of
// DefaultSampleRate; call Configure to change it.
func NewSession(transport Transport, nchan, queueSize int) (*Session, error) {
	if nchan <= 0 {
		return nil, fmt.Errorf("session needs at least 1 channel, have %d", nchan)
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	rate, err := transport.NegotiateRate(DefaultSampleRate)
	if err != nil {
		return nil, fmt.Errorf("negotiating default sample rate: %w", err)
	}
	s := &Session{
		transport:  transport,
		channels:   make([]*Channel, nchan),
		queueSize:  queueSize,
		queue:      NewFrameQueue(queueSize),
		sampleRate: rate,
	}
	s.cond = sync.NewCond(&s.mu)
	for i := range s.channels {
		s.channels[i] = &Channel{Output: &Signal{}, Input: &Signal{}}
	}
	return s, nil
}

// Channel returns channel i for Source*/Measure* configuration.
func (s *Session) Channel(i int) *Channel { return s.channels[i] }

// Nchan returns the number of channels.
func (s *Session) Nchan() int { return len(s.channels) }

// SampleRate returns the negotiated (device-quantized) sample rate in Sa/s.
func (s *Session) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleRate
}

// QueueSize returns the input queue capacity in frames.
func (s *Session) QueueSize() int { return s.queueSize }

// Mode returns the current session mode.
func (s *Session) Mode() SessionMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Configure negotiates the closest achievable sample rate to target and
// returns it. The session must be idle. The input queue is re-created empty
// at its fixed capacity.
func (s *Session) Configure(target int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeIdle {
		return 0, fmt.Errorf("configure: %w", ErrNotIdle)
	}
	rate, err := s.transport.NegotiateRate(target)
	if err != nil {
		return 0, fmt.Errorf("configure %d Sa/s: %w", target, err)
	}
	s.sampleRate = rate
	s.queue = NewFrameQueue(s.queueSize)
	return rate, nil
}

// Run synchronously produces and consumes exactly n ticks: every tick pulls
// one sample from each channel's output Signal, submits the packet, and
// delivers the measured packet to the input Signals and the frame queue.
// A pending drop error surfaces here before any production. Asking for more
// ticks than the queue holds is refused immediately with a sample-drop error,
// since Run does not drain concurrently with producing; the error stays
// pending until Flush. Transport failures propagate without becoming sticky.
func (s *Session) Run(n int) error {
	if n <= 0 {
		return nil
	}
	s.mu.Lock()
	if err := s.pendingErr; err != nil {
		s.mu.Unlock()
		return err
	}
	if s.mode != ModeIdle {
		s.mu.Unlock()
		return fmt.Errorf("run: %w", ErrNotIdle)
	}
	if err := s.checkSignals(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("run: %w", err)
	}
	if n > s.queue.Cap() {
		s.pendingErr = fmt.Errorf("run of %d ticks cannot fit the %d-frame queue: %w",
			n, s.queue.Cap(), ErrSampleDrop)
		err := s.pendingErr
		s.mu.Unlock()
		return err
	}
	s.mode = ModeRunning
	s.producing = true
	s.abort = make(chan struct{})
	s.mu.Unlock()

	err := s.produce(n)

	s.mu.Lock()
	s.mode = ModeIdle
	s.producing = false
	if err == nil {
		err = s.pendingErr // a drop during this run surfaces now
	}
	s.cond.Broadcast()
	s.mu.Unlock()
	return err
}

// Start begins continuous background production. A count of 0 streams until
// Cancel or End; a nonzero count streams exactly that many ticks and then
// quiesces, leaving queued frames readable. While streaming, the producer
// fills the frame queue at the negotiated rate independent of client reads;
// if clients fall behind, frames are dropped and the drop error surfaces on
// the next Read or Run.
func (s *Session) Start(count uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeIdle {
		return fmt.Errorf("start: %w", ErrNotIdle)
	}
	if err := s.checkSignals(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	s.mode = ModeStreaming
	s.producing = true
	s.abort = make(chan struct{})
	s.runDone.Add(1)
	go s.streamLoop(int(count))
	return nil
}

// checkSignals validates the output source configuration of every channel.
// Signal's Source* methods never fail; a bad configuration is caught here,
// before any production, so no garbage samples reach the transport. Called
// with the session lock held.
func (s *Session) checkSignals() error {
	for i, ch := range s.channels {
		if err := ch.Output.sourceErr(); err != nil {
			return fmt.Errorf("channel %d: %w", i, err)
		}
	}
	return nil
}

func (s *Session) streamLoop(count int) {
	err := s.produce(count)

	s.mu.Lock()
	s.producing = false
	if err != nil && s.pendingErr == nil {
		// The session now needs End and Flush before further production.
		s.pendingErr = err
	}
	s.cond.Broadcast()
	s.mu.Unlock()
	if err != nil {
		ProblemLogger.Printf("background producer stopped: %v", err)
	}
	s.runDone.Done()
}

// produce drives n ticks through the transport, or streams unbounded when
// n <= 0. It runs without the session lock except inside deliver; output
// Signals are touched only here, by the single active producer.
func (s *Session) produce(n int) error {
	psize := s.transport.PacketSize()
	remaining := n
	for n <= 0 || remaining > 0 {
		select {
		case <-s.abort:
			return nil
		default:
		}

		count := psize
		if n > 0 && remaining < count {
			count = remaining
		}
		pkt := make([]Frame, count)
		for i := range pkt {
			frame := make(Frame, len(s.channels))
			for c, ch := range s.channels {
				frame[c] = ch.Output.GetSample()
			}
			pkt[i] = frame
		}
		if err := s.transport.SubmitOutput(pkt); err != nil {
			return fmt.Errorf("submit output packet: %w", err)
		}

		timeout := s.packetTimeout(count)
		emptyPolls := 0
		for received := 0; received < count; {
			select {
			case <-s.abort:
				return nil
			default:
			}
			in, err := s.transport.PollInput(timeout)
			if err != nil {
				return fmt.Errorf("poll input packet: %w", err)
			}
			if len(in) == 0 {
				if emptyPolls++; emptyPolls >= 5 {
					return fmt.Errorf("no input packet in %v: transport stalled", time.Duration(emptyPolls)*timeout)
				}
				continue
			}
			emptyPolls = 0
			s.deliver(in)
			received += len(in)
		}
		remaining -= count
	}
	return nil
}

// packetTimeout bounds one input poll: the nominal packet duration plus
// margin, so a stuck transport is retried often enough to notice Cancel.
func (s *Session) packetTimeout(count int) time.Duration {
	s.mu.Lock()
	rate := s.sampleRate
	s.mu.Unlock()
	return time.Duration(count)*time.Second/time.Duration(rate) + 100*time.Millisecond
}

// deliver pushes measured frames to the per-channel input Signals and the
// frame queue, recording a pending drop when the queue is full. The producer
// keeps going after a drop; it never blocks on a slow consumer.
func (s *Session) deliver(frames []Frame) {
	s.mu.Lock()
	for _, f := range frames {
		for c, ch := range s.channels {
			if c < len(f) {
				ch.Input.PutSample(f[c])
			}
		}
		if err := s.queue.Enqueue(f); err != nil && s.pendingErr == nil {
			s.pendingErr = err
		}
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Read drains up to n measured frames from the queue, oldest first.
// A negative timeout blocks until n frames have been read, the producer
// quiesces, or an error becomes pending. A zero timeout never blocks and
// returns whatever is queued, truncated to n. A positive timeout blocks at
// most that long; returning fewer than n frames at the deadline is a normal
// outcome, not an error. If a sample drop or producer failure is pending, it
// is returned alongside whatever frames are legitimately available, on every
// Read until Flush clears it. Asking for more frames than the queue holds is
// legal; a blocking read keeps draining as the producer delivers, so it can
// accumulate more than one queue's worth before returning.
func (s *Session) Read(n int, timeout time.Duration) ([]Frame, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.queue.DequeueUpTo(n)
	if s.pendingErr != nil {
		return out, s.pendingErr
	}
	if timeout == 0 || len(out) == n {
		return out, nil
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		// sync.Cond has no timed wait; a timer broadcast stands in for one.
		timer := time.AfterFunc(timeout, s.cond.Broadcast)
		defer timer.Stop()
	}
	for len(out) < n {
		if !s.producing && s.queue.Len() == 0 {
			break // nothing more is coming; hand back the partial result
		}
		if timeout > 0 && !time.Now().Before(deadline) {
			break
		}
		s.cond.Wait()
		out = append(out, s.queue.DequeueUpTo(n-len(out))...)
		if s.pendingErr != nil {
			return out, s.pendingErr
		}
	}
	return out, nil
}

// Cancel stops production without tearing down session state. Queued but
// unread frames remain readable, and any blocked reader wakes promptly with
// the partial data it had accumulated.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.abort != nil {
		closeIfOpen(s.abort)
	}
	s.mu.Unlock()
}

// End stops production and returns the session to Idle. It waits for the
// background producer to quiesce fully: after End returns, nothing touches
// the queue until the next Run or Start. The queue contents and any pending
// error survive; clearing them is Flush's job.
func (s *Session) End() {
	s.Cancel()
	s.runDone.Wait()
	s.mu.Lock()
	s.mode = ModeIdle
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Flush discards all queued frames and acknowledges any pending drop or
// producer error. Callable from any state.
func (s *Session) Flush() {
	s.mu.Lock()
	s.queue.Clear()
	s.pendingErr = nil
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Close ends the session and closes its transport.
func (s *Session) Close() error {
	s.End()
	return s.transport.Close()
}

func closeIfOpen(c chan struct{}) {
	select {
	case <-c:
	default:
		close(c)
	}
}
