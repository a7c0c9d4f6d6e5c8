// Package requestctx attaches per-request metadata to a context so the
// middleware chain and handlers can log consistently without threading
// values through handler signatures.
package requestctx

import (
	"context"
	"time"
)

// Info is the metadata the request-id middleware attaches to every
// inbound request.
type Info struct {
	// ID is the request correlation id, either taken from the client's
	// X-Request-ID header or freshly generated.
	ID string

	// Started is when the middleware first saw the request.
	Started time.Time
}

type infoKey struct{}

// With returns a context carrying info.
func With(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// From returns the request metadata, if any was attached.
func From(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(infoKey{}).(Info)
	return info, ok
}

// ID returns the request id, or "" outside a request scope.
func ID(ctx context.Context) string {
	info, _ := From(ctx)
	return info.ID
}
