package fleet

import "github.com/vacmesh/vacmesh-core/internal/inventory"

// Codec frames and unframes protocol payloads for one device.
//
// Payload encryption and wire encoding are vendor-specific and keyed
// per device, so the core never inspects frame contents. The codec's
// only obligation to the core is exposing the request id that
// correlates a command with its response.
type Codec interface {
	// EncodeRequest wraps a command body into a wire frame and returns
	// the request id embedded in it. Ids must be unique among this
	// device's requests concurrently in flight.
	EncodeRequest(command []byte) (id uint32, frame []byte, err error)

	// DecodeResponse unwraps an inbound wire frame, returning the
	// request id it answers and the decoded body. A frame that cannot
	// be decoded returns an error and is dropped by the transport.
	DecodeResponse(frame []byte) (id uint32, body []byte, err error)
}

// CodecProvider builds the codec for a device. Called once per device
// connection.
type CodecProvider interface {
	CodecFor(desc *inventory.Descriptor) (Codec, error)
}

// CodecProviderFunc adapts a function to the CodecProvider interface.
type CodecProviderFunc func(desc *inventory.Descriptor) (Codec, error)

// CodecFor calls f.
func (f CodecProviderFunc) CodecFor(desc *inventory.Descriptor) (Codec, error) {
	return f(desc)
}
