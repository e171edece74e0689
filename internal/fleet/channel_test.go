package fleet

import (
	"errors"
	"fmt"
	"testing"

	"github.com/vacmesh/vacmesh-core/internal/infrastructure/mqtt"
)

func TestMapSessionError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"timeout", fmt.Errorf("wrapped: %w", mqtt.ErrRequestTimeout), ErrRequestTimeout},
		{"connection lost", mqtt.ErrConnectionLost, ErrConnectivity},
		{"session closed", mqtt.ErrSessionClosed, ErrConnectivity},
		{"not connected", mqtt.ErrNotConnected, ErrConnectivity},
		{"duplicate id", mqtt.ErrDuplicateRequest, ErrProtocolViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapSessionError(tt.in)
			if !errors.Is(got, tt.want) {
				t.Errorf("mapSessionError(%v) = %v, want %v", tt.in, got, tt.want)
			}
			if !errors.Is(got, tt.in) {
				t.Errorf("mapSessionError(%v) should wrap the cause, got %v", tt.in, got)
			}
		})
	}
}

func TestMapSessionErrorPassthrough(t *testing.T) {
	// Errors outside the session taxonomy (context cancellation in
	// particular) pass through for the connection layer to interpret.
	cause := errors.New("something else")
	if got := mapSessionError(cause); got != cause {
		t.Errorf("mapSessionError(unknown) = %v, want identity", got)
	}
}
