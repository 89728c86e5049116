// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package rpcengine

import (
	"context"
	"sort"

	"github.com/corvida/rpcengine/channel"
)

// An RpcBuilder accumulates method handlers before an Engine is bound to a
// transport. Per spec.md, handlers are immutable once the builder is bound:
// Bind freezes a snapshot of the registered methods into the resulting
// Engine's Assigner.
type RpcBuilder struct {
	methods map[string]Handler
}

// NewBuilder returns an empty RpcBuilder.
func NewBuilder() *RpcBuilder {
	return &RpcBuilder{methods: make(map[string]Handler)}
}

// Handle registers h to answer method. It returns the receiver so calls can
// be chained. Handle panics if method is already registered, since silent
// shadowing of a handler is almost always a bug at startup time.
//
// To register a plain Go function instead of a Handler, adapt it first with
// handler.New (github.com/corvida/rpcengine/handler), which returns a
// Handler via reflection: b.Handle("Add", handler.New(addFunc)).
func (b *RpcBuilder) Handle(method string, h Handler) *RpcBuilder {
	if _, ok := b.methods[method]; ok {
		panic("rpcengine: method already registered: " + method)
	}
	b.methods[method] = h
	return b
}

// Names reports the currently registered method names, sorted.
func (b *RpcBuilder) Names() []string {
	names := make([]string, 0, len(b.methods))
	for name := range b.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bind finalizes the builder into a snapshot Assigner and starts an Engine
// over ch. The builder must not be modified further after Bind is called.
func (b *RpcBuilder) Bind(ch channel.Channel, opts *EngineOptions) *Engine {
	return New(ch, b.snapshot(), opts)
}

// BindClient is a convenience for the common case of wanting both a server
// Assigner (from this builder) and a Client handle on the same Engine.
func (b *RpcBuilder) BindClient(ch channel.Channel, eopts *EngineOptions, dopts *DialOptions) *Client {
	return NewClient(b.Bind(ch, eopts), dopts)
}

func (b *RpcBuilder) snapshot() Assigner {
	cp := make(map[string]Handler, len(b.methods))
	for k, v := range b.methods {
		cp[k] = v
	}
	return builderAssigner(cp)
}

type builderAssigner map[string]Handler

func (m builderAssigner) Assign(_ context.Context, method string) Handler { return m[method] }

func (m builderAssigner) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
