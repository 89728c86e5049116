// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package jhttp implements a bridge from HTTP to JSON-RPC.  This permits
// requests to be submitted to an Engine using HTTP as a transport.
package jhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/corvida/rpcengine"
	"github.com/corvida/rpcengine/channel"
)

// A Bridge is a http.Handler that bridges requests to an Engine running
// in-process, dialed over an in-memory channel.Direct() pipe.
//
// By default, the bridge accepts only HTTP POST requests with the complete
// JSON-RPC request message in the body, with Content-Type application/json.
// Either a single request object or a list of request objects is supported.
//
// If either a CheckRequest or ParseRequest hook is set, these requirements are
// disabled, and the hooks are responsible for checking request structure.
//
// If the request completes, whether or not there is an error, the HTTP
// response is 200 (OK) for ordinary requests or 204 (No Response) for
// notifications, and the response body contains the JSON-RPC response.
//
// If the HTTP request method is not "POST", the bridge reports 405 (Method Not
// Allowed). If the Content-Type is not application/json, the bridge reports
// 415 (Unsupported Media Type).
//
// The bridge attaches the inbound HTTP request to the context passed to the
// engine client, so a DialOptions.Authorizer set in BridgeOptions.Client can
// retrieve state from the HTTP headers. The context does not cross the
// in-memory pipe, so the engine's own Verify hook and handlers do not see it.
// Use jhttp.HTTPRequest to retrieve the request from the context.
type Bridge struct {
	client   *rpcengine.Client
	checkReq func(*http.Request) error
	parseReq func(*http.Request) ([]*rpcengine.Request, error)
}

// ServeHTTP implements the required method of http.Handler.
func (b Bridge) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// If neither a check hook nor a parse hook are defined, insist that the
	// method is POST and the content-type is application/json.  Setting either
	// hook disables these checks.
	if b.checkReq == nil && b.parseReq == nil {
		if req.Method != "POST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if mt, _, err := mime.ParseMediaType(req.Header.Get("Content-Type")); err != nil || mt != "application/json" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
	}
	if err := b.checkHTTPRequest(req); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, err.Error())
		return
	}
	if err := b.serveInternal(w, req); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, err.Error())
	}
}

func (b Bridge) serveInternal(w http.ResponseWriter, req *http.Request) error {
	// The HTTP request requires a response, but the engine will not reply if
	// all the requests are notifications. Check whether we have any calls
	// needing a response, and choose whether to wait for a reply based on that.
	jreq, err := b.parseHTTPRequest(req)
	if err != nil {
		return err
	}

	// Because the bridge shares the engine client between potentially many
	// HTTP clients, we must virtualize the ID space for requests to preserve
	// the HTTP client's assignment of IDs.
	//
	// To do this, we keep track of the inbound ID for each request so that we
	// can map the responses back. CallBatch detangles batch order so that
	// responses come back in the same relative order the calls were issued
	// in, even if the engine's wire response did not preserve order.
	var inboundID []rpcengine.Id                    // for requests, not notifications
	spec := make([]rpcengine.BatchSpec, len(jreq)) // requests & notifications
	for i, r := range jreq {
		spec[i] = rpcengine.BatchSpec{
			Method: r.Method(),
			Notify: r.IsNotification(),
		}
		if r.HasParams() {
			var p json.RawMessage
			r.UnmarshalParams(&p)
			spec[i].Params = p
		}
		if !r.IsNotification() {
			inboundID = append(inboundID, r.ID())
		}
	}

	// Attach the HTTP request to the client context, so an Authorizer can see it.
	ctx := context.WithValue(req.Context(), httpReqKey{}, req)
	rsps, err := b.client.CallBatch(ctx, spec)
	if err != nil {
		return err
	}

	// If all the requests were notifications, report success without responses.
	if len(rsps) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	// Otherwise, map the responses back to their original IDs, and marshal the
	// response back into the body.
	for i, rsp := range rsps {
		rsps[i] = rsp.WithID(inboundID[i])
	}

	// If there is only a single reply, send it alone; otherwise encode a batch.
	// Per the spec (https://www.jsonrpc.org/specification#batch), this is OK;
	// we are not required to respond to a batch with an array:
	//
	//   The Server SHOULD respond with an Array containing the corresponding
	//   Response objects
	var reply []byte
	if len(rsps) == 1 {
		reply, err = rpcengine.Encode(rpcengine.ResponseMessage{Response: rsps[0]})
	} else {
		reply, err = rpcengine.Encode(rpcengine.BatchResponseMessage{Responses: rsps})
	}
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(reply)))
	w.Write(reply)
	return nil
}

func (b Bridge) checkHTTPRequest(req *http.Request) error {
	if b.checkReq != nil {
		return b.checkReq(req)
	}
	return nil
}

func (b Bridge) parseHTTPRequest(req *http.Request) ([]*rpcengine.Request, error) {
	if b.parseReq != nil {
		return b.parseReq(req)
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	msg, derr := rpcengine.Decode(body)
	if derr != nil {
		return nil, derr
	}
	switch v := msg.(type) {
	case rpcengine.RequestMessage:
		return []*rpcengine.Request{v.Request}, nil
	case rpcengine.BatchRequestMessage:
		return v.Requests, nil
	default:
		return nil, fmt.Errorf("jhttp: body does not contain a request")
	}
}

// Close closes the bridge's client and the engine it is dialed against.
func (b Bridge) Close() error { return b.client.Close() }

// NewBridge constructs a new Bridge that starts an Engine over an in-memory
// channel.Direct() pipe and dispatches HTTP requests to it. The engine runs
// until the bridge is closed.
//
// Note that a bridge is not able to push calls or notifications from the
// engine back to the remote HTTP client. The bridge client is shared by
// multiple active HTTP requests, and has no way to know which of the callers
// a push should be forwarded to.
func NewBridge(mux rpcengine.Assigner, opts *BridgeOptions) Bridge {
	cch, sch := channel.Direct()
	rpcengine.New(sch, mux, opts.engineOptions())
	cli := rpcengine.NewClient(rpcengine.New(cch, nil, nil), opts.dialOptions())
	return Bridge{
		client:   cli,
		checkReq: opts.checkRequest(),
		parseReq: opts.parseRequest(),
	}
}

// BridgeOptions are optional settings for a Bridge. A nil pointer is ready for
// use and provides default values as described.
type BridgeOptions struct {
	// Options for the bridge's engine (default nil).
	Engine *rpcengine.EngineOptions

	// Options for the bridge's client (default nil).
	Client *rpcengine.DialOptions

	// If non-nil, this function is called to check the HTTP request.  If this
	// function reports an error, the request is rejected.
	//
	// Setting this hook disables the default requirement that the request
	// method be POST and the content-type be application/json.
	CheckRequest func(*http.Request) error

	// If non-nil, this function is called to parse JSON-RPC requests from the
	// HTTP request. If this function reports an error, the request fails. By
	// default, the bridge decodes the HTTP request body directly.
	//
	// Setting this hook disables the default requirement that the request
	// method be POST and the content-type be application/json.
	ParseRequest func(*http.Request) ([]*rpcengine.Request, error)
}

func (o *BridgeOptions) engineOptions() *rpcengine.EngineOptions {
	if o == nil {
		return nil
	}
	return o.Engine
}

func (o *BridgeOptions) dialOptions() *rpcengine.DialOptions {
	if o == nil {
		return nil
	}
	return o.Client
}

func (o *BridgeOptions) checkRequest() func(*http.Request) error {
	if o == nil || o.CheckRequest == nil {
		return nil
	}
	return o.CheckRequest
}

func (o *BridgeOptions) parseRequest() func(*http.Request) ([]*rpcengine.Request, error) {
	if o == nil || o.ParseRequest == nil {
		return nil
	}
	return o.ParseRequest
}

type httpReqKey struct{}

// HTTPRequest returns the HTTP request associated with ctx, or nil. The
// context passed to the engine client by the Bridge will contain this value.
func HTTPRequest(ctx context.Context) *http.Request {
	req, ok := ctx.Value(httpReqKey{}).(*http.Request)
	if ok {
		return req
	}
	return nil
}
