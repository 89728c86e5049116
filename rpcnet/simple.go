package rpcnet

import (
	"errors"

	"github.com/corvida/rpcengine"
	"github.com/corvida/rpcengine/channel"
)

// A Service supplies the assigner for a Simple engine instance and is
// notified when that instance finishes.
type Service interface {
	// Assigner returns the method assigner for a new engine instance.
	Assigner() (rpcengine.Assigner, error)

	// Finish is called when an engine instance started by Simple stops,
	// reporting the assigner it was given and the error, if any, that
	// caused it to stop.
	Finish(assigner rpcengine.Assigner, err error)
}

// A Simple manages the execution of an Engine for a single service instance.
type Simple struct {
	engine   *rpcengine.Engine
	ch       channel.Channel
	assigner rpcengine.Assigner
	svc      Service
	opts     *rpcengine.EngineOptions
}

// NewSimple constructs a new, unstarted *Simple instance for the given
// service. When run, the engine will use the specified options.
func NewSimple(svc Service, opts *rpcengine.EngineOptions) *Simple {
	return &Simple{svc: svc, opts: opts}
}

// Run starts an engine on the given channel, and blocks until it stops. The
// engine's exit status is reported to the service, and the error returned.
func (s *Simple) Run(ch channel.Channel) error {
	if s.engine != nil {
		return errors.New("engine is already running")
	}
	assigner, err := s.svc.Assigner()
	if err != nil {
		return err
	}
	s.ch = ch
	s.assigner = assigner
	s.engine = rpcengine.New(ch, assigner, s.opts)
	return s.wait()
}

// wait for the engine to exit and report its status back to the service.
// Reset the wrapper so it can be re-used.
func (s *Simple) wait() error {
	<-s.engine.Done()
	err := s.engine.Err()
	s.svc.Finish(s.assigner, err)
	s.engine = nil // reset
	s.ch = nil
	return err
}

// Stop shuts down the engine instance by closing its channel. It is safe to
// call Stop even if the engine is not running; it will report nil. Stop does
// not wait for Run to return; call it from outside the goroutine running Run.
func (s *Simple) Stop() error {
	if s.ch == nil {
		return nil
	}
	return s.ch.Close()
}
