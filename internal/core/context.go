package core

import (
	"context"
	"time"
)

// DefaultPingTimeout bounds a liveness probe so an unreachable cluster fails
// a connect call instead of hanging it.
const DefaultPingTimeout = 10 * time.Second

// ContextWithPingTimeout derives a context bounded by DefaultPingTimeout.
func ContextWithPingTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultPingTimeout)
}
