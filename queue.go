package gosmu

import "fmt"

// Frame is one multi-channel sample: one measured value per input channel,
// all originating from the same tick.
type Frame []float32

// FrameQueue is a fixed-capacity FIFO of Frames backed by a circular buffer.
// It owns no locks; the Session serializes all access. An enqueue against a
// full queue reports a sample drop instead of blocking or evicting, and the
// queue counts every frame it refuses.
type FrameQueue struct {
	frames  []Frame
	head    int
	count   int
	dropped uint64
}

// NewFrameQueue creates a queue holding at most capacity frames.
func NewFrameQueue(capacity int) *FrameQueue {
	return &FrameQueue{frames: make([]Frame, capacity)}
}

// Enqueue appends one frame, or returns ErrSampleDrop if the queue is full.
func (q *FrameQueue) Enqueue(f Frame) error {
	if q.count == len(q.frames) {
		q.dropped++
		return fmt.Errorf("enqueue with %d of %d frames queued: %w", q.count, len(q.frames), ErrSampleDrop)
	}
	q.frames[(q.head+q.count)%len(q.frames)] = f
	q.count++
	return nil
}

// DequeueUpTo removes and returns up to n of the oldest frames in FIFO order.
// A short or empty result is normal when fewer than n frames are queued.
func (q *FrameQueue) DequeueUpTo(n int) []Frame {
	if n > q.count {
		n = q.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]Frame, n)
	for i := range out {
		out[i] = q.frames[q.head]
		q.frames[q.head] = nil
		q.head = (q.head + 1) % len(q.frames)
	}
	q.count -= n
	return out
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int { return q.count }

// Cap returns the fixed capacity.
func (q *FrameQueue) Cap() int { return len(q.frames) }

// Dropped returns the number of frames refused since creation or the last Clear.
func (q *FrameQueue) Dropped() uint64 { return q.dropped }

// Clear discards all queued frames and resets the drop counter.
func (q *FrameQueue) Clear() {
	for i := range q.frames {
		q.frames[i] = nil
	}
	q.head = 0
	q.count = 0
	q.dropped = 0
}
