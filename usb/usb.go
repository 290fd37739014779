// Package usb implements the session Transport over a bulk-transfer USB
// source/measure device using libusb.
package usb

import (
	"fmt"
	"strings"
	"time"

	"github.com/gotmc/libusb"

	"github.com/gosmu/gosmu"
)

// USB identifiers and endpoints of the reference device.
const (
	IDVendor  = uint16(0x064b)
	IDProduct = uint16(0x784c)

	// Untyped, so they convert implicitly to libusb's endpoint address type.
	endpointOut = 0x02
	endpointIn  = 0x81
)

// The device derives its sample clock from a 48 MHz master clock by an
// integer divisor. Neighboring achievable rates in the supported range differ
// by well under 256 Sa/s.
const (
	masterClockHz = 48000000
	minRate       = 1024   // Sa/s
	maxRate       = 102400 // Sa/s
)

// Maximum time to wait on any single control or bulk transfer.
const maxDelayUSB = 100 * time.Millisecond

// Transport drives one USB device: output packets go out over a bulk OUT
// endpoint, completed measurement packets come back over a bulk IN endpoint.
// It implements gosmu.Transport.
type Transport struct {
	ctx    *libusb.Context
	handle *libusb.DeviceHandle
	nchan  int
	rate   int
	outSeq uint32
	inSeq  uint32
}

// Open connects to the first matching device and claims its streaming
// interface. nchan is the channel count the device is expected to stream.
func Open(nchan int) (*Transport, error) {
	ctx, err := libusb.NewContext()
	if err != nil {
		return nil, fmt.Errorf("creating USB context: %w", err)
	}
	_, handle, err := ctx.OpenDeviceWithVendorProduct(IDVendor, IDProduct)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("opening device %04x:%04x: %w", IDVendor, IDProduct, err)
	}
	if err := handle.ClaimInterface(0); err != nil {
		handle.Close()
		ctx.Close()
		return nil, fmt.Errorf("claiming streaming interface: %w", err)
	}
	t := &Transport{ctx: ctx, handle: handle, nchan: nchan, rate: maxRate}
	return t, nil
}

// NegotiateRate picks the integer divisor of the master clock closest to
// target and returns the resulting rate.
func (t *Transport) NegotiateRate(target int) (int, error) {
	if target < minRate || target > maxRate {
		return 0, fmt.Errorf("%d Sa/s is outside [%d, %d]: %w",
			target, minRate, maxRate, gosmu.ErrRateUnattainable)
	}
	divisor := (masterClockHz + target/2) / target
	t.rate = masterClockHz / divisor
	return t.rate, nil
}

// PacketSize returns the frames per bulk transfer for this channel count.
func (t *Transport) PacketSize() int { return framesPerPacket(t.nchan) }

// SubmitOutput encodes one packet and writes it to the bulk OUT endpoint.
func (t *Transport) SubmitOutput(pkt []gosmu.Frame) error {
	data := encodePacket(t.outSeq, t.nchan, pkt)
	t.outSeq++
	n, err := t.handle.BulkTransfer(endpointOut, data, len(data), int(maxDelayUSB.Milliseconds()))
	if err != nil {
		return fmt.Errorf("bulk out of %d bytes: %w", len(data), err)
	}
	if n != len(data) {
		return fmt.Errorf("bulk out wrote %d of %d bytes", n, len(data))
	}
	return nil
}

// PollInput reads one completed packet from the bulk IN endpoint. A sequence
// gap means the device produced packets the host never read, which the
// session must see as a transport fault rather than a silent skip.
func (t *Transport) PollInput(timeout time.Duration) ([]gosmu.Frame, error) {
	ms := int(timeout.Milliseconds())
	if timeout < 0 {
		ms = 0 // libusb semantics: 0 waits without limit
	} else if ms < 1 {
		ms = 1
	}
	data := make([]byte, packetBytes(t.nchan))
	n, err := t.handle.BulkTransfer(endpointIn, data, len(data), ms)
	if err != nil {
		if timeout >= 0 && isTimeout(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("bulk in: %w", err)
	}
	seq, frames, err := decodePacket(data[:n], t.nchan)
	if err != nil {
		return nil, err
	}
	if seq != t.inSeq {
		return nil, fmt.Errorf("input sequence jumped from %d to %d: device packets were lost", t.inSeq, seq)
	}
	t.inSeq = seq + 1
	return frames, nil
}

// Close releases the interface and the device.
func (t *Transport) Close() error {
	err := t.handle.ReleaseInterface(0)
	t.handle.Close()
	t.ctx.Close()
	if err != nil {
		return fmt.Errorf("releasing streaming interface: %w", err)
	}
	return nil
}

func isTimeout(err error) bool {
	return err != nil && strings.Contains(err.Error(), "timeout")
}
