package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vacmesh/vacmesh-core/internal/rpc"
)

// Request publishes a command and blocks until a correlated response
// arrives, the timeout elapses, or the context is cancelled.
//
// Correlation is by (response topic, request id): the caller extracts
// the id from its protocol payload before publishing, and the response
// decoder hands inbound payloads back via Resolve with the topic they
// arrived on. Ids must be unique among requests concurrently in flight
// on the same response topic; different devices may use overlapping id
// windows without interfering, and id reuse after the previous request
// settles is fine.
//
// On timeout or cancellation the pending entry is discarded, so a late
// response for the same id is dropped rather than delivered to a
// future request that happens to reuse it.
//
// Parameters:
//   - ctx: Context for cancellation
//   - pubTopic: Topic to publish the command on
//   - respTopic: Topic the response will arrive on
//   - id: Protocol request id embedded in the payload
//   - payload: Encoded command frame
//   - timeout: Maximum time to wait for the response
//
// Returns:
//   - []byte: The correlated response payload
//   - error: ErrRequestTimeout, ErrDuplicateRequest, ErrConnectionLost,
//     ErrSessionClosed, a publish error, or ctx.Err()
func (s *Session) Request(ctx context.Context, pubTopic, respTopic string, id uint32, payload []byte, timeout time.Duration) ([]byte, error) {
	key := requestKey{topic: respTopic, id: id}

	ch, err := s.pending.Start(key)
	if err != nil {
		if errors.Is(err, rpc.ErrClosed) {
			return nil, ErrSessionClosed
		}
		return nil, fmt.Errorf("%w: id %d on %s", ErrDuplicateRequest, id, respTopic)
	}

	if err := s.Publish(pubTopic, payload); err != nil {
		s.pending.Pop(key)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Value, nil
	case <-timer.C:
		s.pending.Pop(key)
		return nil, fmt.Errorf("%w: no response within %v for id %d", ErrRequestTimeout, timeout, id)
	case <-ctx.Done():
		s.pending.Pop(key)
		return nil, ctx.Err()
	}
}

// Resolve delivers a decoded response payload to the request waiting on
// (topic, id). Response decoders call this from their topic handlers
// once they have extracted the request id from an inbound frame,
// passing the topic the frame arrived on.
//
// Returns false when no request on that topic is waiting on id. That is
// normal: devices push unsolicited messages on the response path, and
// late responses arrive after their request timed out. A late response
// carrying an id another device happens to have in flight is likewise
// ignored, because the topics differ.
func (s *Session) Resolve(topic string, id uint32, payload []byte) bool {
	return s.pending.Resolve(requestKey{topic: topic, id: id}, payload)
}

// PendingCount returns the number of requests currently awaiting a
// response.
func (s *Session) PendingCount() int {
	return s.pending.Len()
}
