// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package rpcnet provides support routines for running rpcengine engines
// over real and in-memory network connections.
package rpcnet

import (
	"errors"
	"io"

	"github.com/corvida/rpcengine"
	"github.com/corvida/rpcengine/channel"
)

// A Local is an Engine and a Client wired together over an in-memory pipe,
// for testing and for embedding a server in the same process as its caller.
type Local struct {
	Engine *rpcengine.Engine
	Client *rpcengine.Client
}

// NewLocal constructs a *Local serving assigner, connected to its client by
// an in-memory channel.Direct() pipe. If opts == nil, the engine and client
// use their default options.
//
// When the client is closed, the engine also stops.
func NewLocal(assigner rpcengine.Assigner, opts *LocalOptions) *Local {
	cch, sch := channel.Direct()
	eng := rpcengine.New(sch, assigner, opts.engineOptions())
	cli := rpcengine.NewClient(rpcengine.New(cch, nil, nil), opts.dialOptions())
	return &Local{Engine: eng, Client: cli}
}

// Close closes the client, which closes its channel and in turn stops the
// paired engine. It reports the engine's exit status once both have
// finished; the io.EOF with which the engine stops when the client's end of
// the pipe closes is reported as nil.
func (l *Local) Close() error {
	cerr := l.Client.Close()
	<-l.Engine.Done()
	if err := l.Engine.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return cerr
}

// LocalOptions control the behaviour of the engine and client constructed by
// NewLocal. A nil *LocalOptions provides default values as described.
type LocalOptions struct {
	Engine *rpcengine.EngineOptions
	Client *rpcengine.DialOptions
}

func (o *LocalOptions) engineOptions() *rpcengine.EngineOptions {
	if o == nil {
		return nil
	}
	return o.Engine
}

func (o *LocalOptions) dialOptions() *rpcengine.DialOptions {
	if o == nil {
		return nil
	}
	return o.Client
}
