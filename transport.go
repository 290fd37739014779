package gosmu

import (
	"errors"
	"time"
)

// Transport moves sample packets between the Session and a device. One packet
// is the atomic unit of production and consumption: a fixed count of frames,
// each frame holding one value per channel. Implementations include the
// bulk-transfer USB device (package usb) and the software loopback
// SimTransport.
type Transport interface {
	// NegotiateRate returns the closest device-achievable sample rate to
	// target, in Sa/s, and remembers it for pacing. It returns an error
	// wrapping ErrRateUnattainable when no rate can satisfy the hardware
	// constraints. The reference hardware quantizes rates in steps no
	// coarser than 256 Sa/s.
	NegotiateRate(target int) (int, error)

	// PacketSize returns the number of frames per hardware packet.
	PacketSize() int

	// SubmitOutput queues one packet of output frames for the device.
	SubmitOutput(pkt []Frame) error

	// PollInput returns the next completed packet of input frames, or nil
	// when none is available. A negative timeout blocks until a packet
	// completes, zero polls without blocking, and a positive timeout blocks
	// at most that long. Returning nil frames with a nil error is not a
	// failure; it means no packet completed in time.
	PollInput(timeout time.Duration) ([]Frame, error)

	Close() error
}

// ErrSampleDrop reports that the input sample queue overflowed: the producer
// outran the consumer or the queue capacity. Once raised it stays pending on
// the Session until Flush acknowledges it.
var ErrSampleDrop = errors.New("sample drop: input sample queue overflowed")

// ErrRateUnattainable reports that no device-achievable sample rate satisfies
// a requested configuration.
var ErrRateUnattainable = errors.New("no achievable sample rate satisfies the request")

// ErrNotIdle reports an operation that requires an idle session, such as
// Configure or Run while streaming.
var ErrNotIdle = errors.New("session is not idle")
