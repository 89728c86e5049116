// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package rpcengine

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Reserved method names handled directly by the engine. A caller-supplied
// Assigner can never shadow these: assign checks them before consulting the
// caller's assigner at all.
const (
	rpcCancel     = "rpc.cancel"
	rpcCount      = "rpc.count"
	rpcMaxValue   = "rpc.maxValue"
	rpcServerInfo = "rpc.serverInfo"
)

// ServerInfo is the concrete type of responses from the rpc.serverInfo
// built-in method.
type ServerInfo struct {
	// The list of method names exported by this engine's assigner.
	Methods []string `json:"methods,omitempty"`

	// Counters and max-value trackers recorded via rpc.count/rpc.maxValue
	// and the engine's own instrumentation.
	Counters  map[string]int64 `json:"counters,omitempty"`
	MaxValues map[string]int64 `json:"maxValues,omitempty"`

	// When the engine started serving.
	StartTime time.Time `json:"startTime,omitempty"`
}

// assign resolves method to a Handler, checking the reserved rpc.* built-ins
// before the caller's assigner. A method starting with "rpc." that is not
// one of the built-ins below is always unrecognized, even if the caller's
// assigner would otherwise answer it.
func (e *Engine) assign(ctx context.Context, method string) Handler {
	if strings.HasPrefix(method, "rpc.") {
		switch method {
		case rpcCancel:
			return e.handleRPCCancel
		case rpcCount:
			return e.handleRPCCount
		case rpcMaxValue:
			return e.handleRPCMaxValue
		case rpcServerInfo:
			return e.handleRPCServerInfo
		default:
			return nil
		}
	}
	return e.assigner.Assign(ctx, method)
}

// cancelKey returns the key under which req's cancel func is registered,
// the literal JSON encoding of its id, matching the raw id text a peer sends
// in an rpc.cancel notification.
func (e *Engine) cancelKey(req *Request) string {
	bits, err := req.id.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(bits)
}

// handleRPCServerInfo answers rpc.serverInfo with a snapshot of the
// engine's exported methods, start time, and metrics.
func (e *Engine) handleRPCServerInfo(ctx context.Context, req *Request) (any, error) {
	info := &ServerInfo{StartTime: e.started}
	if n, ok := e.assigner.(Namer); ok {
		info.Methods = n.Names()
	} else {
		info.Methods = []string{"*"}
	}
	info.Counters = make(map[string]int64)
	info.MaxValues = make(map[string]int64)
	e.metrics.Snapshot(info.Counters, info.MaxValues)
	return info, nil
}

// handleRPCCancel requests cancellation of a set of pending inbound
// requests, named by their literal id encodings. It is only meaningful as a
// notification; issuing it as a call is rejected, since there would be no
// well-defined response to return.
func (e *Engine) handleRPCCancel(ctx context.Context, req *Request) (any, error) {
	if !req.IsNotification() {
		return nil, &ErrorData{Code: MethodNotFound, Message: "rpc.cancel must be sent as a notification"}
	}
	var ids []json.RawMessage
	if err := req.UnmarshalParams(&ids); err != nil {
		return nil, &ErrorData{Code: InvalidParams, Message: err.Error()}
	}
	e.cmu.Lock()
	defer e.cmu.Unlock()
	for _, raw := range ids {
		key := string(raw)
		if cancel, ok := e.cancels[key]; ok {
			cancel()
			delete(e.cancels, key)
		}
	}
	return nil, nil
}

// rpcMetric is the wire shape shared by rpc.count and rpc.maxValue.
type rpcMetric struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// handleRPCCount updates a counter metric. Names under the rpc. namespace
// are reserved and silently ignored, so a peer cannot clobber the engine's
// own built-in accounting.
func (e *Engine) handleRPCCount(ctx context.Context, req *Request) (any, error) {
	if !req.IsNotification() {
		return nil, &ErrorData{Code: MethodNotFound, Message: "rpc.count must be sent as a notification"}
	}
	var m rpcMetric
	if err := req.UnmarshalParams(&m); err != nil {
		return nil, &ErrorData{Code: InvalidParams, Message: err.Error()}
	}
	if m.Name != "" && !strings.HasPrefix(m.Name, "rpc.") {
		e.metrics.Count(m.Name, m.Value)
	}
	return nil, nil
}

// handleRPCMaxValue updates a max-value tracker metric, subject to the same
// rpc. namespace restriction as handleRPCCount.
func (e *Engine) handleRPCMaxValue(ctx context.Context, req *Request) (any, error) {
	if !req.IsNotification() {
		return nil, &ErrorData{Code: MethodNotFound, Message: "rpc.maxValue must be sent as a notification"}
	}
	var m rpcMetric
	if err := req.UnmarshalParams(&m); err != nil {
		return nil, &ErrorData{Code: InvalidParams, Message: err.Error()}
	}
	if m.Name != "" && !strings.HasPrefix(m.Name, "rpc.") {
		e.metrics.SetMaxValue(m.Name, m.Value)
	}
	return nil, nil
}
