// Package kit holds the shared transport plumbing: endpoint and
// middleware types, request-scoped context keys, and the MCP tool
// registration helper.
package kit

import "context"

// Endpoint is a transport-agnostic operation: decoded request in,
// response out.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behavior.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so the first argument is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
