// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package rpcengine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/corvida/rpcengine/channel"
	"github.com/corvida/rpcengine/jctx"
)

// A Client is the caller-facing handle to an Engine's call-issuing side. It
// sends commands to the engine's mailbox and blocks on a one-shot result
// channel, mirroring the teacher's Call/Batch/Notify/Close method shapes.
type Client struct {
	engine *Engine
	newID  func() Id
	authz  func(context.Context, string, []byte) ([]byte, error)
}

// Dial starts an Engine bound to ch, dispatching any inbound requests to
// assigner (nil is accepted for a pure client with no exposed methods), and
// returns a Client for issuing outbound calls and notifications.
func Dial(ch channel.Channel, assigner Assigner, eopts *EngineOptions, dopts *DialOptions) *Client {
	e := New(ch, assigner, eopts)
	return &Client{engine: e, newID: dopts.newID(), authz: dopts.authorizer()}
}

// NewClient wraps an already-running Engine in a Client.
func NewClient(e *Engine, dopts *DialOptions) *Client {
	return &Client{engine: e, newID: dopts.newID(), authz: dopts.authorizer()}
}

// authorize attaches an authentication token to bits as jctx metadata, if
// an Authorizer was configured in DialOptions. It is a no-op otherwise.
func (c *Client) authorize(ctx context.Context, method string, bits json.RawMessage) (json.RawMessage, error) {
	if c.authz == nil {
		return bits, nil
	}
	tok, err := c.authz(ctx, method, bits)
	if err != nil {
		return nil, fmt.Errorf("authorizing %q: %w", method, err)
	}
	mctx, err := jctx.WithMetadata(ctx, json.RawMessage(tok))
	if err != nil {
		return nil, err
	}
	return jctx.Encode(mctx, bits)
}

func newUUIDId() Id { return StringId(uuid.NewString()) }

// Engine returns the Engine this client is attached to.
func (c *Client) Engine() *Engine { return c.engine }

// marshalParams encodes params as JSON, or returns nil if params is nil.
func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}

// Call issues a request for method with the given parameters and blocks
// until a response arrives, ctx is done, or the engine stops. The request id
// is generated by DialOptions.NewID, or is a random UUIDv4 string by default.
//
// If the peer's reply reuses an id shared with another in-flight call (the
// duplicate-id open question in the design notes), the response is routed
// to whichever Call currently holds that id in the engine's waiting table;
// callers are responsible for using ids that are unique among their own
// concurrent calls.
func (c *Client) Call(ctx context.Context, method string, params any) (*Response, error) {
	bits, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	bits, err = c.authorize(ctx, method, bits)
	if err != nil {
		return nil, err
	}
	id := c.newID()
	req := NewRequest(id, method, bits)

	result := make(chan *Response, 1)
	select {
	case c.engine.mailbox <- callCmd{req: req, result: result}:
	case <-c.engine.stopped:
		return nil, &CallError{Cause: ErrEngineStopped}
	}

	select {
	case rsp := <-result:
		if rsp.err != nil {
			return rsp, &RequestError{Returned: rsp.err}
		}
		return rsp, nil
	case <-ctx.Done():
		c.cancel(id, result)
		return nil, &CallError{Cause: ctx.Err()}
	case <-c.engine.stopped:
		return nil, &CallError{Cause: c.engine.Err()}
	}
}

// CallResult is as Call, but also decodes the response result into result
// on success. If the peer's result does not decode into result, the
// returned error is a *RequestError with Decode set, so a failure to decode
// is distinguishable from a *RequestError wrapping the peer's own error.
func (c *Client) CallResult(ctx context.Context, method string, params, result any) error {
	rsp, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if err := rsp.UnmarshalResult(result); err != nil {
		return &RequestError{Decode: err}
	}
	return nil
}

// cancel removes a pending call from the engine's waiting table once its
// context has been abandoned, so a late reply does not leak the channel or
// get routed to a reused id.
func (c *Client) cancel(id Id, result chan *Response) {
	select {
	case c.engine.mailbox <- removeCmd{id: id}:
	case <-c.engine.stopped:
	}
	// Drain a response that may have raced the cancellation, so the engine's
	// send of it (if any) never blocks forever.
	go func() { <-result }()
}

// Notify sends a notification for method with the given parameters. It does
// not wait for any reply, because notifications do not receive one.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	bits, err := marshalParams(params)
	if err != nil {
		return err
	}
	bits, err = c.authorize(ctx, method, bits)
	if err != nil {
		return err
	}
	req := NewNotification(method, bits)
	select {
	case c.engine.mailbox <- notifyCmd{req: req}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.engine.stopped:
		return &CallError{Cause: ErrEngineStopped}
	}
}

// A BatchSpec is one element of a CallBatch request: a method name and its
// parameters. If Notify is true, the entry is sent as a notification and has
// no corresponding entry in the returned response slice. The assigned id of
// a non-notification entry is reported in its corresponding *Response.
type BatchSpec struct {
	Method string
	Params any
	Notify bool
}

// CallBatch issues every spec as a single JSON-RPC batch and blocks for all
// of the non-notification responses together, matched back to this call by
// their sorted id-set (see the design note on batch correlation). The
// returned slice has one entry per non-notification spec, in the same
// relative order, or an error if the batch could not be sent or none of its
// responses arrived before ctx ended. If every spec is a notification, the
// returned slice is empty and no error is reported.
func (c *Client) CallBatch(ctx context.Context, specs []BatchSpec) ([]*Response, error) {
	reqs := make([]*Request, len(specs))
	var ids []Id
	for i, s := range specs {
		bits, err := marshalParams(s.Params)
		if err != nil {
			return nil, err
		}
		bits, err = c.authorize(ctx, s.Method, bits)
		if err != nil {
			return nil, err
		}
		if s.Notify {
			reqs[i] = NewNotification(s.Method, bits)
			continue
		}
		id := c.newID()
		reqs[i] = NewRequest(id, s.Method, bits)
		ids = append(ids, id)
	}
	result := make(chan []*Response, 1)
	select {
	case c.engine.mailbox <- batchCmd{reqs: reqs, result: result}:
	case <-c.engine.stopped:
		return nil, &CallError{Cause: ErrEngineStopped}
	}

	select {
	case rsps := <-result:
		return orderBatch(ids, rsps), nil
	case <-ctx.Done():
		c.cancelBatch(ids, result)
		return nil, &CallError{Cause: ctx.Err()}
	case <-c.engine.stopped:
		return nil, &CallError{Cause: c.engine.Err()}
	}
}

// orderBatch reorders an unordered set of batch responses to match the
// order ids were requested in, per spec.md's observable-order guarantee.
func orderBatch(ids []Id, rsps []*Response) []*Response {
	byID := make(map[Id]*Response, len(rsps))
	for _, r := range rsps {
		byID[r.id] = r
	}
	out := make([]*Response, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out
}

func (c *Client) cancelBatch(ids []Id, result chan []*Response) {
	key := NewIdSet(ids).Key()
	select {
	case c.engine.mailbox <- removeBatchCmd{key: key}:
	case <-c.engine.stopped:
	}
	go func() { <-result }()
}

// Close stops the engine cleanly, releasing every pending Call and
// CallBatch with ErrEngineStopped, and closes the underlying channel.
func (c *Client) Close() error {
	done := make(chan struct{})
	select {
	case c.engine.mailbox <- closeCmd{done: done}:
		<-done
	case <-c.engine.stopped:
	}
	return c.engine.Err()
}
