package gosmu

import (
	"encoding/binary"
	"fmt"
	"math"

	zmq "github.com/pebbe/zmq4"
)

// PublishFrames publishes each batch of frames received on its input to a
// ZMQ PUB socket. It terminates when the abort channel is closed. Messages
// hold the channel count as a little-endian uint32 followed by the frames'
// float32 values in tick order.
func PublishFrames(frames <-chan []Frame, abort <-chan struct{}, portnum int) {
	hostname := fmt.Sprintf("tcp://*:%d", portnum)
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		ProblemLogger.Printf("could not create frame PUB socket: %v", err)
		return
	}
	defer pubSocket.Close()
	if err = pubSocket.Bind(hostname); err != nil {
		ProblemLogger.Printf("could not bind frame PUB socket to %s: %v", hostname, err)
		return
	}

	for {
		select {
		case <-abort:
			return
		case batch := <-frames:
			if len(batch) == 0 {
				continue
			}
			if _, err := pubSocket.SendBytes(encodeFrames(batch), 0); err != nil {
				ProblemLogger.Printf("could not publish %d frames: %v", len(batch), err)
			}
		}
	}
}

func encodeFrames(batch []Frame) []byte {
	nchan := len(batch[0])
	msg := make([]byte, 4, 4+4*nchan*len(batch))
	binary.LittleEndian.PutUint32(msg, uint32(nchan))
	for _, frame := range batch {
		for _, v := range frame {
			msg = binary.LittleEndian.AppendUint32(msg, math.Float32bits(v))
		}
	}
	return msg
}
