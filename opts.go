// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package rpcengine

import (
	"context"
	"fmt"

	charmlog "github.com/charmbracelet/log"

	"github.com/corvida/rpcengine/metrics"
)

// EngineOptions control the behaviour of an Engine created by New.
// A nil *EngineOptions provides sensible defaults.
type EngineOptions struct {
	// If not nil, send debug text logs here. If nil, logs go to a
	// charmlog-backed default logger at debug level.
	Logger Logger

	// If not nil, the methods of this value are called to record each
	// inbound request and each outbound response.
	RPCLog RPCLogger

	// If set, called to create the base context for each dispatched
	// handler invocation. If unset, the engine uses context.Background.
	NewContext func() context.Context

	// If set, every inbound request's params are first unwrapped as a jctx
	// envelope (see the jctx package): the wrapped payload replaces the
	// request's params, and the envelope's metadata is attached to ctx for
	// Verify to inspect before the handler ever runs. A request whose
	// params do not decode as a jctx envelope, or that Verify rejects, is
	// answered with InvalidRequest instead of being dispatched. See the
	// jauth package for an HMAC-based Verify and a matching
	// DialOptions.Authorizer.
	Verify func(ctx context.Context, req *Request) error

	// If set, called whenever the peer sends a notification for a method
	// this engine's Assigner does not recognize. If unset, such
	// notifications are logged and discarded. A pure client engine (nil
	// Assigner) uses this to observe inbound notifications from its peer.
	OnNotify func(*Request)

	// If set, called whenever the peer sends a request (a non-standard
	// extension permitting bidirectional calls over one channel) for a
	// method this engine's Assigner does not recognize. If unset, such
	// requests are answered with MethodNotFound.
	OnCallback func(context.Context, *Request) (any, error)

	// Metrics, if set, is shared by every Call, updated by the
	// rpc.count/rpc.maxValue built-ins, and reported through the
	// rpc.serverInfo built-in. If nil, the engine creates a private instance.
	Metrics *metrics.M
}

func (o *EngineOptions) metrics() *metrics.M {
	if o == nil || o.Metrics == nil {
		return metrics.New()
	}
	return o.Metrics
}

func (o *EngineOptions) logger() Logger {
	if o == nil || o.Logger == nil {
		return defaultLogger
	}
	return o.Logger
}

func (o *EngineOptions) rpcLog() RPCLogger {
	if o == nil || o.RPCLog == nil {
		return nullRPCLogger{}
	}
	return o.RPCLog
}

func (o *EngineOptions) newContext() func() context.Context {
	if o == nil || o.NewContext == nil {
		return context.Background
	}
	return o.NewContext
}

func (o *EngineOptions) verify() func(context.Context, *Request) error {
	if o == nil || o.Verify == nil {
		return nil
	}
	return o.Verify
}

func (o *EngineOptions) onNotify() func(*Request) {
	if o == nil {
		return nil
	}
	return o.OnNotify
}

func (o *EngineOptions) onCallback() func(context.Context, *Request) (any, error) {
	if o == nil {
		return nil
	}
	return o.OnCallback
}

// DialOptions control the behaviour of a Client created by Dial.
// A nil *DialOptions provides sensible defaults.
type DialOptions struct {
	// Logger is not read by Client, which writes no text logs of its own.
	// Debug logs of the engine behind a Client go to EngineOptions.Logger.
	Logger Logger

	// NewID, if set, generates the id of every outbound Call and of every
	// non-notification CallBatch entry. If unset, a random UUIDv4 string id
	// is used.
	NewID func() Id

	// Authorizer, if set, computes an authentication token for each
	// outbound Call, Notify, and CallBatch entry from its method and
	// already-encoded params, and attaches it as jctx request metadata
	// (see the jctx and jauth packages). A User's Token method has this
	// shape and can be used directly.
	Authorizer func(ctx context.Context, method string, params []byte) ([]byte, error)
}

func (d *DialOptions) logger() Logger {
	if d == nil || d.Logger == nil {
		return defaultLogger
	}
	return d.Logger
}

func (d *DialOptions) newID() func() Id {
	if d == nil || d.NewID == nil {
		return newUUIDId
	}
	return d.NewID
}

func (d *DialOptions) authorizer() func(context.Context, string, []byte) ([]byte, error) {
	if d == nil {
		return nil
	}
	return d.Authorizer
}

// A Logger records text logs from an Engine or a Client. A nil logger
// discards log input.
type Logger func(text string)

// Printf writes a formatted message to the logger. If lg == nil, the
// message is discarded.
func (lg Logger) Printf(msg string, args ...any) {
	if lg != nil {
		lg(fmt.Sprintf(msg, args...))
	}
}

// defaultLogger routes engine debug text through a charmlog logger at
// debug level, so a library caller that sets no Logger still gets
// structured output instead of silence.
var defaultLogger Logger = func(text string) {
	charmlog.Default().Debug(text)
}

// NewCharmLogger adapts a *charmlog.Logger to a Logger, for callers that
// want engine debug text folded into their own structured log stream.
func NewCharmLogger(lg *charmlog.Logger) Logger {
	if lg == nil {
		return defaultLogger
	}
	return func(text string) { lg.Debug(text) }
}

// An RPCLogger receives callbacks from an Engine to record inbound
// requests and the responses returned for them. Callbacks are invoked
// synchronously with request processing.
type RPCLogger interface {
	// LogRequest is called for each request received, before dispatch.
	LogRequest(ctx context.Context, req *Request)

	// LogResponse is called for each response produced by a handler,
	// immediately before it is sent to the peer.
	LogResponse(ctx context.Context, rsp *Response)
}

type nullRPCLogger struct{}

func (nullRPCLogger) LogRequest(context.Context, *Request)   {}
func (nullRPCLogger) LogResponse(context.Context, *Response) {}
