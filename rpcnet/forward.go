package rpcnet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/corvida/rpcengine"
)

// HTTP adapts a *rpcengine.Client to an http.Handler. The body of each HTTP
// request is transmitted as a JSON-RPC request through the client, and its
// response is written back as the body of the HTTP reply. Each HTTP request
// is handled as a synchronous RPC, but arbitrarily-many HTTP requests may be
// in flight concurrently.
//
// If the HTTP request body is empty or malformed, the handler reports status
// 400 (Bad Request). Any other structural errors in sending or receiving the
// RPC are reported as status 500 (Internal Server Error). A complete RPC
// reply reports status 200 (OK) even if the reply contains a JSON-RPC error.
func HTTP(cli *rpcengine.Client) http.Handler {
	fwd := RawCaller(cli)
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, "unable to read request", http.StatusBadRequest)
			return
		}
		if _, derr := rpcengine.Decode(data); derr != nil {
			http.Error(w, "invalid request: "+derr.Message, http.StatusBadRequest)
			return
		}
		rsp, err := fwd.Send(req.Context(), data)
		if err != nil {
			http.Error(w, "call failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if len(rsp) != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.Write(rsp)
		}
	})
}

// RawCaller returns a wrapper around c that accepts requests as undecoded
// (raw) JSON-RPC request messages and returns replies in the same format.
func RawCaller(c *rpcengine.Client) Forwarder { return Forwarder{cli: c} }

// A Forwarder is an adapter around an *rpcengine.Client that implements a
// proxy from another transport mechanism into a JSON-RPC engine, preserving
// the caller's original request ID in the reply.
type Forwarder struct{ cli *rpcengine.Client }

// Send decodes req as a single JSON-RPC request message, sends it through the
// client, and returns the response re-encoded as plain JSON. The call blocks
// until complete. If req is a notification, Send returns nil, nil on
// success. Otherwise any successful call, even one that carries a JSON-RPC
// error from the callee, reports a complete JSON response message.
func (f Forwarder) Send(ctx context.Context, req []byte) ([]byte, error) {
	msg, errData := rpcengine.Decode(req)
	if errData != nil {
		return nil, fmt.Errorf("invalid request: %s", errData.Message)
	}
	r, ok := msg.(rpcengine.RequestMessage)
	if !ok {
		return nil, fmt.Errorf("forwarder: body does not contain a single request")
	}
	var params json.RawMessage
	if r.Request.HasParams() {
		r.Request.UnmarshalParams(&params)
	}
	if r.Request.IsNotification() {
		return nil, f.cli.Notify(ctx, r.Request.Method(), params)
	}
	rsp, err := f.cli.Call(ctx, r.Request.Method(), params)
	if err != nil {
		return nil, err
	}
	return rpcengine.Encode(rpcengine.ResponseMessage{Response: rsp.WithID(r.Request.ID())})
}
