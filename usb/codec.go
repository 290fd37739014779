package usb

import (
	"encoding/binary"
	"fmt"

	"github.com/gosmu/gosmu"
)

// Wire format of one packet, little-endian throughout:
//
//	uint32 magic
//	uint32 sequence number
//	uint16 frame count
//	uint16 channel count
//	count*nchan uint16 raw samples, frame-major
//
// Raw samples map the 0..fullScale volt range onto the full uint16 range.

// PacketMagic is the packet header's magic number.
const PacketMagic uint32 = 0x534d5501

const headerBytes = 12

// fullScale is the device's measurable span in volts.
const fullScale = 5.0

// The device's bulk transfers carry 1024 bytes of payload.
const payloadBytes = 1024

func framesPerPacket(nchan int) int {
	return payloadBytes / (2 * nchan)
}

func packetBytes(nchan int) int {
	return headerBytes + 2*nchan*framesPerPacket(nchan)
}

func rawFromVolts(v float32) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= fullScale {
		return 0xffff
	}
	return uint16(v / fullScale * 0xffff)
}

func voltsFromRaw(r uint16) float32 {
	return float32(r) / 0xffff * fullScale
}

func encodePacket(seq uint32, nchan int, pkt []gosmu.Frame) []byte {
	data := make([]byte, 0, headerBytes+2*nchan*len(pkt))
	data = binary.LittleEndian.AppendUint32(data, PacketMagic)
	data = binary.LittleEndian.AppendUint32(data, seq)
	data = binary.LittleEndian.AppendUint16(data, uint16(len(pkt)))
	data = binary.LittleEndian.AppendUint16(data, uint16(nchan))
	for _, frame := range pkt {
		for c := 0; c < nchan; c++ {
			var v float32
			if c < len(frame) {
				v = frame[c]
			}
			data = binary.LittleEndian.AppendUint16(data, rawFromVolts(v))
		}
	}
	return data
}

func decodePacket(data []byte, nchan int) (seq uint32, frames []gosmu.Frame, err error) {
	if len(data) < headerBytes {
		return 0, nil, fmt.Errorf("packet of %d bytes is shorter than the %d-byte header", len(data), headerBytes)
	}
	if magic := binary.LittleEndian.Uint32(data); magic != PacketMagic {
		return 0, nil, fmt.Errorf("packet magic is %#08x, expect %#08x", magic, PacketMagic)
	}
	seq = binary.LittleEndian.Uint32(data[4:])
	count := int(binary.LittleEndian.Uint16(data[8:]))
	if pktChan := int(binary.LittleEndian.Uint16(data[10:])); pktChan != nchan {
		return 0, nil, fmt.Errorf("packet carries %d channels, expect %d", pktChan, nchan)
	}
	if want := headerBytes + 2*nchan*count; len(data) < want {
		return 0, nil, fmt.Errorf("packet of %d bytes too short for %d frames", len(data), count)
	}
	body := data[headerBytes:]
	frames = make([]gosmu.Frame, count)
	for i := range frames {
		frame := make(gosmu.Frame, nchan)
		for c := range frame {
			frame[c] = voltsFromRaw(binary.LittleEndian.Uint16(body[2*(i*nchan+c):]))
		}
		frames[i] = frame
	}
	return seq, frames, nil
}
