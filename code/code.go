// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package code defines the error code values used by the rpcengine package.
package code

import (
	"context"
	"errors"
	"fmt"
)

// A Code is an error response code, as used in the JSON-RPC error object.
//
// Values from and including -32768 to -32000 are reserved for predefined
// JSON-RPC errors. Any code in that range not defined explicitly below is
// reserved for future use. The remainder of the space is available for
// application-defined errors.
//
// See also: https://www.jsonrpc.org/specification#error_object
type Code int32

func (c Code) String() string {
	if s, ok := stdError[c]; ok {
		return s
	}
	return fmt.Sprintf("error code %d", c)
}

// Error satisfies the error interface, so a bare Code can be used directly
// wherever an error value is wanted.
func (c Code) Error() string { return c.String() }

// Pre-defined error codes, including the standard ones from the JSON-RPC
// specification and some specific to this implementation.
const (
	ParseError     Code = -32700 // [std] Invalid JSON received by the server
	InvalidRequest Code = -32600 // [std] The JSON sent is not a valid request object
	MethodNotFound Code = -32601 // [std] The method does not exist or is unavailable
	InvalidParams  Code = -32602 // [std] Invalid method parameters
	InternalError  Code = -32603 // [std] Internal JSON-RPC error

	// The JSON-RPC 2.0 specification reserves -32000 to -32099 for
	// implementation-defined server errors; these are specific to rpcengine.

	NoError          Code = -32099 // Denotes a nil error (used by FromError)
	SystemError      Code = -32098 // Errors from the operating environment
	Cancelled        Code = -32097 // Request cancelled (context.Canceled)
	DeadlineExceeded Code = -32096 // Request deadline exceeded (context.DeadlineExceeded)
)

var stdError = map[Code]string{
	ParseError:     "parse error",
	InvalidRequest: "invalid request",
	MethodNotFound: "method not found",
	InvalidParams:  "invalid parameters",
	InternalError:  "internal error",

	NoError:          "no error (success)",
	SystemError:      "system error",
	Cancelled:        "request cancelled",
	DeadlineExceeded: "deadline exceeded",
}

// Register adds a new Code value with the specified message string. It
// panics if the proposed value is already registered.
func Register(value int32, message string) Code {
	c := Code(value)
	if s, ok := stdError[c]; ok {
		panic(fmt.Sprintf("code %d is already registered for %q", c, s))
	}
	stdError[c] = message
	return c
}

// An ErrCoder is a value that can report an error code. *Error from the root
// rpcengine package implements this interface.
type ErrCoder interface {
	ErrCode() Code
}

// FromError returns a Code describing err.
//
//   - If err == nil, it returns NoError.
//   - If err is (or wraps) an ErrCoder, it returns the reported code.
//   - If err is (or wraps) context.Canceled, it returns Cancelled.
//   - If err is (or wraps) context.DeadlineExceeded, it returns DeadlineExceeded.
//   - Otherwise it returns SystemError.
func FromError(err error) Code {
	if err == nil {
		return NoError
	}
	var c ErrCoder
	if errors.As(err, &c) {
		return c.ErrCode()
	} else if errors.Is(err, context.Canceled) {
		return Cancelled
	} else if errors.Is(err, context.DeadlineExceeded) {
		return DeadlineExceeded
	}
	return SystemError
}
