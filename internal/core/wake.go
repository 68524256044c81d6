package core

import (
	"context"

	"github.com/rajnish8869/Pulse/internal/domain"
)

// Waker delivers a best-effort, high-priority wake signal to the callee's
// devices when a call is created. Correctness never depends on delivery,
// only responsiveness when the callee process is suspended.
type Waker interface {
	Wake(ctx context.Context, callee domain.UserID, callID domain.CallID, callerName string) error
}

// NopWaker is used when no wake channel is configured.
type NopWaker struct{}

func (NopWaker) Wake(context.Context, domain.UserID, domain.CallID, string) error { return nil }
