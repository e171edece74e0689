package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// Frame layout (all integers big-endian):
//
//	offset  size  field
//	0       3     version, ASCII "1.0"
//	3       4     request id
//	7       4     unix timestamp
//	11      4     payload length
//	15      n     payload
//	15+n    4     CRC-32 (IEEE) over bytes [0, 15+n)
const (
	headerLen   = 15
	trailerLen  = 4
	minFrameLen = headerLen + trailerLen

	// maxPayload matches the transport frame cap; anything larger would
	// be rejected on the wire anyway.
	maxPayload = 1 << 20
)

var frameVersion = [3]byte{'1', '.', '0'}

// Codec errors.
var (
	ErrFrameTooShort    = errors.New("protocol: frame too short")
	ErrVersionMismatch  = errors.New("protocol: unsupported frame version")
	ErrLengthMismatch   = errors.New("protocol: declared payload length does not match frame")
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")
	ErrPayloadTooLarge  = errors.New("protocol: payload exceeds frame limit")
)

// Codec frames command payloads for one device connection.
//
// Encryption is keyed per device and handled by the vendor adapter
// before payloads reach this layer; the codec only adds the envelope
// that carries the request id and integrity checksum.
//
// Thread Safety:
//   - Safe for concurrent use; id generation is atomic.
type Codec struct {
	// nextID holds the last issued request id. Seeded randomly so ids
	// do not collide with an earlier process reusing the same device
	// topics.
	nextID atomic.Uint32

	// now is a test seam for the timestamp field.
	now func() time.Time
}

// NewCodec creates a codec with a randomly seeded request-id sequence.
func NewCodec() *Codec {
	c := &Codec{now: time.Now}
	c.nextID.Store(rand.Uint32())
	return c
}

// EncodeRequest wraps a command body into a wire frame.
//
// Parameters:
//   - command: Opaque command payload (already serialized and encrypted)
//
// Returns:
//   - uint32: The request id embedded in the frame, never zero
//   - []byte: The complete frame ready for the transport
//   - error: ErrPayloadTooLarge if the command exceeds the frame limit
func (c *Codec) EncodeRequest(command []byte) (uint32, []byte, error) {
	if len(command) > maxPayload {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(command))
	}

	// Id zero is reserved as "no request"; skip it on wrap.
	id := c.nextID.Add(1)
	for id == 0 {
		id = c.nextID.Add(1)
	}

	frame := make([]byte, headerLen+len(command)+trailerLen)
	copy(frame, frameVersion[:])
	binary.BigEndian.PutUint32(frame[3:], id)
	binary.BigEndian.PutUint32(frame[7:], uint32(c.now().Unix()))
	binary.BigEndian.PutUint32(frame[11:], uint32(len(command)))
	copy(frame[headerLen:], command)

	crc := crc32.ChecksumIEEE(frame[:headerLen+len(command)])
	binary.BigEndian.PutUint32(frame[headerLen+len(command):], crc)

	return id, frame, nil
}

// DecodeResponse unwraps an inbound wire frame.
//
// Parameters:
//   - frame: Raw frame from the transport
//
// Returns:
//   - uint32: The request id the frame answers
//   - []byte: The payload, copied out of the frame
//   - error: ErrFrameTooShort, ErrVersionMismatch, ErrLengthMismatch,
//     or ErrChecksumMismatch
func (c *Codec) DecodeResponse(frame []byte) (uint32, []byte, error) {
	if len(frame) < minFrameLen {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(frame))
	}
	if [3]byte(frame[:3]) != frameVersion {
		return 0, nil, fmt.Errorf("%w: %q", ErrVersionMismatch, frame[:3])
	}

	payloadLen := binary.BigEndian.Uint32(frame[11:])
	if payloadLen > maxPayload || int(payloadLen) != len(frame)-minFrameLen {
		return 0, nil, fmt.Errorf("%w: declared %d, frame %d",
			ErrLengthMismatch, payloadLen, len(frame))
	}

	body := frame[headerLen : headerLen+payloadLen]
	want := binary.BigEndian.Uint32(frame[headerLen+payloadLen:])
	if got := crc32.ChecksumIEEE(frame[:headerLen+payloadLen]); got != want {
		return 0, nil, fmt.Errorf("%w: got %08x, want %08x",
			ErrChecksumMismatch, got, want)
	}

	id := binary.BigEndian.Uint32(frame[3:])
	out := make([]byte, payloadLen)
	copy(out, body)
	return id, out, nil
}
