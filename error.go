// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package rpcengine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/corvida/rpcengine/code"
)

// A Code is an error response code, as defined by the JSON-RPC specification.
type Code = code.Code

// Re-exported standard codes, for callers that do not want to import the
// code subpackage directly.
const (
	ParseError     = code.ParseError
	InvalidRequest = code.InvalidRequest
	MethodNotFound = code.MethodNotFound
	InvalidParams  = code.InvalidParams
	InternalError  = code.InternalError
)

// ErrorData is the concrete type of errors returned from RPC calls, and the
// JSON encoding of the JSON-RPC error object. On input it is tolerant of a
// bare JSON string in place of the structured triple (see UnmarshalJSON); on
// output it is always rendered in the structured form.
type ErrorData struct {
	Code    Code            `json:"code"`              // the machine-readable error code
	Message string          `json:"message,omitempty"` // the human-readable error message
	Data    json.RawMessage `json:"data,omitempty"`    // optional ancillary error data
}

// Error returns a human-readable description of e, so *ErrorData satisfies
// the standard error interface.
func (e *ErrorData) Error() string { return fmt.Sprintf("[%d] %s", e.Code, e.Message) }

// ErrCode satisfies the code.ErrCoder interface.
func (e *ErrorData) ErrCode() Code { return e.Code }

// UnmarshalJSON accepts either the structured {code,message,data} object or a
// bare JSON string, tolerating the latter even though it is non-conformant,
// per §3 of the data model.
func (e *ErrorData) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		e.Code = code.InternalError
		e.Message = s
		return nil
	}
	type shape ErrorData
	var v shape
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*e = ErrorData(v)
	return nil
}

// WithData marshals v as JSON and constructs a copy of e whose Data field
// includes the result. If v == nil or if marshaling v fails, e is returned
// without modification.
func (e *ErrorData) WithData(v any) *ErrorData {
	if v == nil {
		return e
	} else if data, err := json.Marshal(v); err == nil {
		return &ErrorData{Code: e.Code, Message: e.Message, Data: data}
	}
	return e
}

// Errorf returns an *ErrorData with the given code and a formatted message.
func Errorf(c Code, msg string, args ...any) *ErrorData {
	return &ErrorData{Code: c, Message: fmt.Sprintf(msg, args...)}
}

// A HandlerError is returned by a registered request Handler to control the
// response sent back to the peer. The zero value is not meaningful; use
// ErrInvalidParams, ErrInternal, or CustomError to obtain one.
type HandlerError struct {
	custom *ErrorData
	kind   handlerErrorKind
	cause  error // optional underlying error, for diagnostics only
}

// Unwrap exposes the underlying cause, if any, for errors.Is/As.
func (h *HandlerError) Unwrap() error { return h.cause }

type handlerErrorKind uint8

const (
	handlerInvalidParams handlerErrorKind = iota
	handlerInternalError
	handlerCustom
)

// Error satisfies the error interface.
func (h *HandlerError) Error() string {
	switch h.kind {
	case handlerInvalidParams:
		return InvalidParams.String()
	case handlerCustom:
		return h.custom.Error()
	default:
		return InternalError.String()
	}
}

// ErrCode satisfies the code.ErrCoder interface.
func (h *HandlerError) ErrCode() Code {
	switch h.kind {
	case handlerInvalidParams:
		return InvalidParams
	case handlerCustom:
		return h.custom.Code
	default:
		return InternalError
	}
}

// ErrInvalidParams is the HandlerError a Handler returns when it cannot
// decode its parameters. It maps to the standard -32602 code with no data.
var ErrInvalidParams = &HandlerError{kind: handlerInvalidParams}

// ErrInternal is the HandlerError a Handler returns for an unclassified
// internal failure. It maps to the standard -32603 code with no data.
var ErrInternal = &HandlerError{kind: handlerInternalError}

// CustomError wraps an application-defined ErrorData so it is surfaced to
// the peer verbatim.
func CustomError(e *ErrorData) *HandlerError {
	return &HandlerError{kind: handlerCustom, custom: e}
}

// A RequestError is returned by Client.Call when the round trip completed
// but the result could not be delivered to the caller as requested.
type RequestError struct {
	// Returned is non-nil if the peer replied with a JSON-RPC error object.
	Returned *ErrorData

	// Decode is non-nil if a result was returned but the caller-supplied
	// result decoder rejected it.
	Decode error
}

func (e *RequestError) Error() string {
	switch {
	case e.Returned != nil:
		return e.Returned.Error()
	case e.Decode != nil:
		return fmt.Sprintf("decoding result: %v", e.Decode)
	default:
		return "request error"
	}
}

// ErrCode satisfies the code.ErrCoder interface.
func (e *RequestError) ErrCode() Code {
	if e.Returned != nil {
		return e.Returned.Code
	}
	return code.InternalError
}

// A CallError is returned by Client.Call and Client.CallBatch when the call
// did not complete: the caller's timeout elapsed, or the engine stopped
// before a response arrived.
type CallError struct {
	Cause error
}

func (e *CallError) Error() string  { return fmt.Sprintf("call did not complete: %v", e.Cause) }
func (e *CallError) Unwrap() error  { return e.Cause }
func (e *CallError) ErrCode() Code  { return code.FromError(e.Cause) }

// Sentinel errors surfaced by the engine and client.

// ErrEngineStopped is returned by pending calls when the engine has stopped,
// either normally (Close) or abnormally (a failed send).
var ErrEngineStopped = errors.New("the engine has stopped")

// errEmptyMethod is the error reported for an empty request method name.
var errEmptyMethod = &ErrorData{Code: InvalidRequest, Message: "empty method name"}

// errNoSuchMethod is the error reported for an unknown method name.
var errNoSuchMethod = &ErrorData{Code: MethodNotFound, Message: MethodNotFound.String()}

// errInvalidRequestShape is the error reported for a structurally invalid
// request object or batch (§4.1: "Structural mismatch").
var errInvalidRequestShape = &ErrorData{Code: InvalidRequest, Message: "Invalid Request"}

// errBinaryUnsupported is the fixed reply to an inbound binary frame.
var errBinaryUnsupported = (&ErrorData{Code: ParseError, Message: "Parse error"}).WithData("binary frames are unsupported")
