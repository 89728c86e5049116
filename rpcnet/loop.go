package rpcnet

import (
	"log"
	"net"
	"sync"

	"github.com/corvida/rpcengine"
	"github.com/corvida/rpcengine/channel"
)

// Loop obtains connections from lst and starts an Engine for each with the
// given assigner and options, running in a new goroutine. If accept reports
// an error, the loop terminates and the error is reported once all the
// engines currently active have stopped.
func Loop(lst net.Listener, assigner rpcengine.Assigner, opts *LoopOptions) error {
	newChannel := opts.framing()
	engineOpts := opts.engineOpts()
	var wg sync.WaitGroup
	for {
		conn, err := lst.Accept()
		if err != nil {
			log.Printf("Error accepting new connection: %v", err)
			wg.Wait()
			return err
		}
		ch := newChannel(conn, conn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			eng := rpcengine.New(ch, assigner, engineOpts)
			<-eng.Done()
			if err := eng.Err(); err != nil {
				log.Printf("Engine exit: %v", err)
			}
		}()
	}
}

// LoopOptions control the behaviour of the Loop function. A nil *LoopOptions
// provides default values as described.
type LoopOptions struct {
	// If non-nil, this function is used to convert a stream connection to an
	// RPC channel. If this field is nil, channel.JSON is used.
	Framing channel.Framing

	// If non-nil, these options are used when constructing the engine to
	// handle requests on an inbound connection.
	EngineOptions *rpcengine.EngineOptions
}

func (o *LoopOptions) engineOpts() *rpcengine.EngineOptions {
	if o == nil {
		return nil
	}
	return o.EngineOptions
}

func (o *LoopOptions) framing() channel.Framing {
	if o == nil || o.Framing == nil {
		return channel.JSON
	}
	return o.Framing
}
