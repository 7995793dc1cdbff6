// Package testutil provides common helpers for service and integration
// tests.
package testutil

import (
	"context"
	"time"

	"bondledger/pkg/domain"
	"bondledger/pkg/requestcontext"
)

// ContextAs returns a context carrying the given actor and role, the way
// the auth middleware would populate it for an authenticated request.
func ContextAs(addr domain.Address, role domain.Role) context.Context {
	return requestcontext.WithActor(context.Background(), addr, role)
}

// ContextAsAt additionally pins the request time, so time-gated behavior
// can be tested deterministically.
func ContextAsAt(addr domain.Address, role domain.Role, at time.Time) context.Context {
	ctx := requestcontext.WithTime(context.Background(), at)
	return requestcontext.WithActor(ctx, addr, role)
}
