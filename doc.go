// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package rpcengine implements a transport-agnostic JSON-RPC 2.0 engine.
//
// An Engine can act as client and server at once over a single caller-
// supplied bidirectional channel.Channel: it answers inbound requests
// dispatched through an Assigner, and issues outbound calls and
// notifications through a Client handle bound to the same Engine.
//
// Internally an Engine is a single actor goroutine that owns all of its
// mutable state -- the method table snapshot, the table of calls awaiting a
// reply, and the table of batch calls awaiting their replies -- and
// consumes one merged channel carrying both inbound wire frames and
// outbound commands from Client methods. This avoids the separate
// mutex-protected Client and Server types of earlier designs in favor of a
// single state machine with one writer.
//
// Construct an Engine (and usually a Client on top of it) with an
// RpcBuilder:
//
//	b := rpcengine.NewBuilder()
//	b.Handle("Add", handler.New(addFunc))
//	cli := b.BindClient(ch, nil, nil)
//	rsp, err := cli.Call(ctx, "Add", params)
//
// An Engine stops, releasing every pending call with ErrEngineStopped, when
// Close is called or when a send to the channel fails. A failed send is
// always treated as an abnormal stop; the engine does not retry.
package rpcengine
