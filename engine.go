// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package rpcengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/corvida/rpcengine/channel"
	"github.com/corvida/rpcengine/jctx"
	"github.com/corvida/rpcengine/metrics"
)

// A Handler answers one inbound request or notification. For a notification,
// the returned value and error are both discarded. A non-nil error returned
// by a Handler is reported to the peer, either verbatim if it is (or wraps)
// an *ErrorData or *HandlerError, or as InternalError otherwise.
type Handler func(ctx context.Context, req *Request) (any, error)

// An Assigner associates method names with Handlers. A nil result from
// Assign means the method is not recognized.
type Assigner interface {
	Assign(ctx context.Context, method string) Handler
}

// A Namer is an optional extension to Assigner that can enumerate its known
// method names, for the rpc.serverInfo built-in.
type Namer interface {
	Names() []string
}

// An Engine is a single JSON-RPC 2.0 connection endpoint: it owns the method
// table on the server side and the correlation state on the client side, and
// serializes all of that shared state behind one goroutine, per the
// single-actor design. Engine is not constructed directly; use New.
type Engine struct {
	ch       channel.Channel
	assigner Assigner
	log      Logger
	rpcLog   RPCLogger
	newctx     func() context.Context
	verify     func(context.Context, *Request) error
	onNotify   func(*Request)
	onCallback func(context.Context, *Request) (any, error)
	metrics    *metrics.M

	mailbox  chan any
	stopped  chan struct{}
	stopOnce sync.Once
	stopErr  error

	// The fields below are touched only inside run, never from outside the
	// actor goroutine.
	waiting        map[Id]chan *Response
	waitingBatches map[idSetKey]chan []*Response
	started        time.Time

	// cmu guards cancels, which holds the cancel func of an inbound request
	// while its handler runs, keyed for rpc.cancel. Handler invocation is
	// synchronous on the actor goroutine, and rpc.cancel is dispatched there
	// too, so an rpc.cancel never finds another request's handler running
	// and cancels nothing in practice. The mutex is not needed for the same
	// reason.
	cmu     sync.Mutex
	cancels map[string]context.CancelFunc
}

// Inbound and outbound messages funneled through the engine's mailbox.

type inboundFrame struct{ data []byte }

type command interface{ isCommand() }

type callCmd struct {
	req    *Request
	result chan *Response
}

type notifyCmd struct{ req *Request }

type batchCmd struct {
	reqs   []*Request
	result chan []*Response
}

type removeCmd struct{ id Id }

type removeBatchCmd struct{ key idSetKey }

type closeCmd struct{ done chan struct{} }

func (callCmd) isCommand()        {}
func (notifyCmd) isCommand()      {}
func (batchCmd) isCommand()       {}
func (removeCmd) isCommand()      {}
func (removeBatchCmd) isCommand() {}
func (closeCmd) isCommand()       {}

// New constructs an Engine bound to ch, dispatching inbound requests to the
// handlers named by assigner. The engine starts immediately: a reader
// goroutine feeds frames from ch into the actor, and the actor goroutine
// begins serving. A nil assigner is treated as one that knows no methods (the
// engine can still be used purely as a client).
func New(ch channel.Channel, assigner Assigner, opts *EngineOptions) *Engine {
	if assigner == nil {
		assigner = noMethods{}
	}
	e := &Engine{
		ch:             ch,
		assigner:       assigner,
		log:            opts.logger(),
		rpcLog:         opts.rpcLog(),
		newctx:         opts.newContext(),
		verify:         opts.verify(),
		onNotify:       opts.onNotify(),
		onCallback:     opts.onCallback(),
		metrics:        opts.metrics(),
		mailbox:        make(chan any, 64),
		stopped:        make(chan struct{}),
		waiting:        make(map[Id]chan *Response),
		waitingBatches: make(map[idSetKey]chan []*Response),
		started:        time.Now().UTC(),
		cancels:        make(map[string]context.CancelFunc),
	}
	go e.readLoop()
	go e.run()
	return e
}

type noMethods struct{}

func (noMethods) Assign(context.Context, string) Handler { return nil }
func (noMethods) Names() []string                        { return nil }

// Done returns a channel that is closed when the engine has stopped, either
// because Close was called or because the channel or handler processing
// failed irrecoverably.
func (e *Engine) Done() <-chan struct{} { return e.stopped }

// Err returns the reason the engine stopped, or nil if it is still running
// or stopped cleanly via Close.
func (e *Engine) Err() error {
	select {
	case <-e.stopped:
		return e.stopErr
	default:
		return nil
	}
}

// readLoop pulls frames off the channel and feeds them to the actor until
// Recv fails, at which point it requests an abnormal stop.
func (e *Engine) readLoop() {
	for {
		data, err := e.ch.Recv()
		if err != nil {
			e.postStop(err)
			return
		}
		select {
		case e.mailbox <- inboundFrame{data: data}:
		case <-e.stopped:
			return
		}
	}
}

// HandleText delivers one inbound text frame to the engine, as the channel
// reader loop does internally for a channel.Channel transport. A caller
// bridging some other transport (e.g. a single HTTP POST body) may call this
// directly instead of supplying a channel.Channel to New.
func (e *Engine) HandleText(data []byte) error {
	select {
	case e.mailbox <- inboundFrame{data: data}:
		return nil
	case <-e.stopped:
		return e.Err()
	}
}

// HandleBinary delivers one inbound binary frame. Binary payloads are
// out of scope for this engine (spec §1); the reply is always the fixed
// §4.1 "binary frames are unsupported" ParseError.
func (e *Engine) HandleBinary() error {
	select {
	case e.mailbox <- inboundBinaryFrame{}:
		return nil
	case <-e.stopped:
		return e.Err()
	}
}

type inboundBinaryFrame struct{}

// postStop requests that the actor stop with the given cause. It is safe to
// call from any goroutine, including more than once.
func (e *Engine) postStop(cause error) {
	select {
	case e.mailbox <- stopRequest{cause: cause}:
	case <-e.stopped:
	}
}

type stopRequest struct{ cause error }

// run is the actor's main loop. It owns methods/waiting/waitingBatches and
// is the only goroutine that ever reads or writes them.
func (e *Engine) run() {
	defer close(e.stopped)
	for {
		msg := <-e.mailbox
		switch v := msg.(type) {
		case inboundFrame:
			e.handleInbound(v.data)
		case inboundBinaryFrame:
			e.replyError(Id{}, errBinaryUnsupported)
		case callCmd:
			e.handleCall(v)
		case notifyCmd:
			e.handleNotify(v)
		case batchCmd:
			e.handleBatch(v)
		case removeCmd:
			delete(e.waiting, v.id)
		case removeBatchCmd:
			delete(e.waitingBatches, v.key)
		case closeCmd:
			e.finish(nil)
			close(v.done)
			return
		case stopRequest:
			e.finish(v.cause)
			return
		}
	}
}

// finish tears down all pending calls with ErrEngineStopped (or the given
// cause, if not nil) and records the stop reason. It runs at most once: a
// Send failure inside handleCall/handleNotify/handleBatch/dispatchRequests
// can call finish without unwinding run(), and run() goes on to process the
// stopRequest that readLoop eventually posts once Recv fails on the channel
// finish already closed, which would call finish again were it not for
// stopOnce.
func (e *Engine) finish(cause error) {
	e.stopOnce.Do(func() {
		if cause != nil && !errors.Is(cause, io.EOF) {
			e.log.Printf("channel closing abnormally: %v", cause)
		}
		e.stopErr = cause
		for id, ch := range e.waiting {
			ch <- &Response{id: id, hasID: true, err: stoppedError(cause)}
		}
		for _, ch := range e.waitingBatches {
			ch <- nil
		}
		e.ch.Close()
	})
}

func stoppedError(cause error) *ErrorData {
	if cause == nil {
		return &ErrorData{Code: InternalError, Message: ErrEngineStopped.Error()}
	}
	return &ErrorData{Code: InternalError, Message: fmt.Sprintf("%v: %v", ErrEngineStopped, cause)}
}

// handleInbound decodes one frame and dispatches it appropriately. A decode
// failure is answered with the §4.1 error reply; a failure to answer (Send
// erroring) is treated the same as any other send failure.
func (e *Engine) handleInbound(data []byte) {
	msg, derr := Decode(data)
	if derr != nil {
		e.replyError(Id{}, derr)
		return
	}
	switch v := msg.(type) {
	case RequestMessage:
		e.dispatchRequests([]*Request{v.Request}, false)
	case BatchRequestMessage:
		e.dispatchRequests(v.Requests, true)
	case ResponseMessage:
		e.deliverResponse(v.Response)
	case BatchResponseMessage:
		e.deliverBatch(v.Responses)
	case ErrorMessage:
		e.log.Printf("discarding unrouted peer error: %v", v.Error)
	}
}

// replyError writes a single error response with the given id (the zero Id
// renders as JSON null, per §4.1).
func (e *Engine) replyError(id Id, ed *ErrorData) {
	rsp := &Response{id: id, hasID: !id.IsZero(), err: ed}
	bits, err := rsp.toJSON()
	if err != nil {
		e.log.Printf("encoding error reply: %v", err)
		return
	}
	if err := e.ch.Send(bits); err != nil {
		e.finish(err)
	}
}

// dispatchRequests assigns handlers to an inbound batch and invokes them in
// order, synchronously, on the actor goroutine. This mirrors the teacher's
// checkAndAssign/dispatch/deliver split, recast onto a single actor: the
// engine never suspends except to await its next mailbox message, so the
// reply to one batch is always fully written before the next inbound frame
// is even read, and replies preserve the order their requests were
// processed in. A batch is always answered with a JSON array, even when it
// holds a single request.
func (e *Engine) dispatchRequests(reqs []*Request, batch bool) {
	type task struct {
		req     *Request
		ctx     context.Context
		handler Handler
		failure *ErrorData
	}
	tasks := make([]task, len(reqs))
	seen := make(map[string]bool)
	for i, r := range reqs {
		t := task{req: r, ctx: e.requestContext(r)}
		switch {
		case r.method == "":
			t.failure = errEmptyMethod
		case !r.IsNotification() && seen[r.id.wireKey()]:
			t.failure = (&ErrorData{Code: InvalidRequest, Message: "duplicate request id"}).WithData(r.id.String())
		default:
			if !r.IsNotification() {
				seen[r.id.wireKey()] = true
			}
			if e.verify != nil {
				// A Verify function expects its request's params to have
				// travelled as a jctx envelope (see the jauth package),
				// carrying the authentication token as jctx metadata
				// alongside the real payload. Unwrap it in place before
				// verifying or dispatching, so the handler sees the
				// original params and context.
				vctx, payload, derr := jctx.Decode(t.ctx, r.params)
				if derr != nil {
					t.failure = &ErrorData{Code: InvalidRequest, Message: fmt.Sprintf("decoding auth envelope: %v", derr)}
					break
				}
				r.params = payload
				t.ctx = vctx
				if err := e.verify(t.ctx, r); err != nil {
					t.failure = &ErrorData{Code: InvalidRequest, Message: err.Error()}
					break
				}
			}
			t.handler = e.assign(t.ctx, r.method)
			switch {
			case t.handler != nil:
				// assigned normally.
			case r.IsNotification() && e.onNotify != nil:
				t.handler = func(_ context.Context, req *Request) (any, error) {
					e.onNotify(req)
					return nil, nil
				}
			case !r.IsNotification() && e.onCallback != nil:
				t.handler = e.onCallback
			case r.IsNotification():
				e.log.Printf("discarding notification for unknown method %q", r.method)
				t.failure = errNoSuchMethod.WithData(r.method)
			default:
				t.failure = errNoSuchMethod.WithData(r.method)
			}
		}
		tasks[i] = t
	}

	var out []*Response
	for _, t := range tasks {
		if t.failure != nil {
			if !t.req.IsNotification() {
				out = append(out, &Response{id: t.req.id, hasID: true, err: t.failure})
			}
			continue
		}
		rsp := e.invoke(t.ctx, t.req, t.handler)
		if t.req.IsNotification() {
			continue
		}
		out = append(out, rsp)
	}
	if len(out) == 0 {
		return
	}
	var bits []byte
	var err error
	if !batch {
		bits, err = out[0].toJSON()
	} else {
		bits, err = Encode(BatchResponseMessage{Responses: out})
	}
	if err != nil {
		e.log.Printf("encoding response batch: %v", err)
		return
	}
	if err := e.ch.Send(bits); err != nil {
		e.finish(err)
	}
}

// requestContext builds the base context passed to a handler for an inbound
// request, carrying the inbound request and the engine itself.
func (e *Engine) requestContext(r *Request) context.Context {
	ctx := withInboundRequest(e.newctx(), r)
	return withEngine(ctx, e)
}

// invoke calls h for req with base context ctx (as built by dispatchRequests,
// already carrying any jctx-decoded deadline and metadata), translating its
// result (or panic) into a Response. Errors from notifications are logged
// and discarded, since there is no reply to send.
func (e *Engine) invoke(ctx context.Context, req *Request, h Handler) *Response {
	if !req.IsNotification() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		key := e.cancelKey(req)
		e.cmu.Lock()
		e.cancels[key] = cancel
		e.cmu.Unlock()
		defer func() {
			e.cmu.Lock()
			delete(e.cancels, key)
			e.cmu.Unlock()
			cancel()
		}()
	}
	e.rpcLog.LogRequest(ctx, req)
	started := time.Now()
	v, err := e.callHandler(ctx, h, req)
	e.metrics.CountAndSetMax("rpc.dispatch."+req.method, time.Since(started).Milliseconds())
	rsp := &Response{id: req.id, hasID: !req.IsNotification()}
	if err != nil {
		if req.IsNotification() {
			e.log.Printf("discarding error from notification %q: %v", req.method, err)
			return nil
		}
		rsp.err = errorDataFromHandlerErr(err)
	} else if !req.IsNotification() {
		bits, merr := json.Marshal(v)
		if merr != nil {
			rsp.err = &ErrorData{Code: InternalError, Message: merr.Error()}
		} else {
			rsp.result = bits
		}
	}
	e.rpcLog.LogResponse(ctx, rsp)
	return rsp
}

// callHandler recovers a panicking Handler into an InternalError, so a
// single bad handler cannot take down the whole engine.
func (e *Engine) callHandler(ctx context.Context, h Handler, req *Request) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in handler %q: %v", req.method, p)
		}
	}()
	return h(ctx, req)
}

func errorDataFromHandlerErr(err error) *ErrorData {
	var he *HandlerError
	if errors.As(err, &he) {
		if he.kind == handlerCustom {
			return he.custom
		}
		return &ErrorData{Code: he.ErrCode(), Message: he.Error()}
	}
	var ed *ErrorData
	if errors.As(err, &ed) {
		return ed
	}
	return &ErrorData{Code: InternalError, Message: err.Error()}
}

// deliverResponse routes an inbound response to the Call awaiting it.
func (e *Engine) deliverResponse(rsp *Response) {
	ch, ok := e.waiting[rsp.id]
	if !ok {
		e.log.Printf("discarding response for unknown id %v", rsp.id)
		return
	}
	delete(e.waiting, rsp.id)
	ch <- rsp
}

// deliverBatch routes an inbound batch of responses to the CallBatch
// awaiting it, matched by the canonical sorted id-set key (§9 design note).
func (e *Engine) deliverBatch(rsps []*Response) {
	ids := make([]Id, len(rsps))
	for i, r := range rsps {
		ids[i] = r.id
	}
	key := NewIdSet(ids).Key()
	ch, ok := e.waitingBatches[key]
	if !ok {
		e.log.Printf("discarding batch response for unknown id-set")
		return
	}
	delete(e.waitingBatches, key)
	ch <- rsps
}

// handleCall registers a pending call and transmits its request.
func (e *Engine) handleCall(c callCmd) {
	e.waiting[c.req.id] = c.result
	bits, err := c.req.toJSON()
	if err != nil {
		delete(e.waiting, c.req.id)
		c.result <- &Response{id: c.req.id, hasID: true, err: &ErrorData{Code: InternalError, Message: err.Error()}}
		return
	}
	if err := e.ch.Send(bits); err != nil {
		delete(e.waiting, c.req.id)
		e.finish(err)
	}
}

// handleNotify transmits a notification with no correlation bookkeeping.
func (e *Engine) handleNotify(c notifyCmd) {
	bits, err := c.req.toJSON()
	if err != nil {
		e.log.Printf("encoding notification: %v", err)
		return
	}
	if err := e.ch.Send(bits); err != nil {
		e.finish(err)
	}
}

// handleBatch registers a pending batch call and transmits its requests.
func (e *Engine) handleBatch(c batchCmd) {
	ids := make([]Id, 0, len(c.reqs))
	for _, r := range c.reqs {
		if !r.IsNotification() {
			ids = append(ids, r.id)
		}
	}
	key := NewIdSet(ids).Key()
	if len(ids) > 0 {
		e.waitingBatches[key] = c.result
	}
	bits, err := Encode(BatchRequestMessage{Requests: c.reqs})
	if err != nil {
		delete(e.waitingBatches, key)
		c.result <- nil
		return
	}
	if err := e.ch.Send(bits); err != nil {
		delete(e.waitingBatches, key)
		e.finish(err)
	}
	if len(ids) == 0 {
		c.result <- nil // an all-notification batch has nothing to await
	}
}
