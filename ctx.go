// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package rpcengine

import "context"

// InboundRequest returns the inbound request associated with the context
// passed to a Handler, or nil if ctx does not carry one. An *Engine
// populates this value for every handler invocation.
//
// This is mainly useful to wrapped handler methods that do not receive the
// request as an explicit parameter; a Handler invoked directly already has
// the same value in its explicit argument.
func InboundRequest(ctx context.Context) *Request {
	if v := ctx.Value(inboundRequestKey{}); v != nil {
		return v.(*Request)
	}
	return nil
}

type inboundRequestKey struct{}

func withInboundRequest(ctx context.Context, req *Request) context.Context {
	return context.WithValue(ctx, inboundRequestKey{}, req)
}

// EngineFromContext returns the Engine associated with the context passed
// to a Handler. It panics if ctx was not derived from a handler invocation.
//
// It is safe to retain the Engine and call its methods beyond the lifetime
// of ctx; however a handler must not call Client.Close synchronously on the
// Engine's own Client, since that would deadlock waiting for the handler
// (itself) to return.
func EngineFromContext(ctx context.Context) *Engine { return ctx.Value(engineKey{}).(*Engine) }

type engineKey struct{}

func withEngine(ctx context.Context, e *Engine) context.Context {
	return context.WithValue(ctx, engineKey{}, e)
}
