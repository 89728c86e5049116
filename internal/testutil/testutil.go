// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package testutil provides helpers shared by the rpcengine test suites.
package testutil

import (
	"fmt"
	"testing"

	"github.com/corvida/rpcengine"
)

// ParseRequest decodes a single JSON-RPC request object from s, for use in
// constructing inputs to a Handler in tests. It reports an error if s does
// not parse as a single request or notification.
func ParseRequest(s string) (*rpcengine.Request, error) {
	msg, derr := rpcengine.Decode([]byte(s))
	if derr != nil {
		return nil, fmt.Errorf("decode: %v", derr)
	}
	rm, ok := msg.(rpcengine.RequestMessage)
	if !ok {
		return nil, fmt.Errorf("decoded %T, want a request", msg)
	}
	return rm.Request, nil
}

// MustParseRequest calls ParseRequest and fails t if it reports an error.
func MustParseRequest(t *testing.T, s string) *rpcengine.Request {
	t.Helper()
	req, err := ParseRequest(s)
	if err != nil {
		t.Fatalf("ParseRequest(%#q): %v", s, err)
	}
	return req
}
