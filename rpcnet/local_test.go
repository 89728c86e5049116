package rpcnet_test

import (
	"context"
	"testing"

	"github.com/corvida/rpcengine/handler"
	"github.com/corvida/rpcengine/rpcnet"
)

func TestLocal(t *testing.T) {
	loc := rpcnet.NewLocal(make(handler.Map), nil)

	info, err := rpcnet.RawCaller(loc.Client).Send(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"rpc.serverInfo"}`))
	if err != nil {
		t.Fatalf("rpc.serverInfo failed: %v", err)
	}
	if len(info) == 0 {
		t.Error("rpc.serverInfo returned an empty reply")
	}

	if err := loc.Close(); err != nil {
		t.Errorf("Close: got %v, want nil", err)
	}
}

func TestLocalConcurrent(t *testing.T) {
	loc := rpcnet.NewLocal(handler.Map{
		"Test": handler.New(func(context.Context) error { return nil }),
	}, nil)

	const numCallers = 20
	errc := make(chan error, numCallers)
	for i := 0; i < numCallers; i++ {
		go func() {
			_, err := loc.Client.Call(context.Background(), "Test", nil)
			errc <- err
		}()
	}
	for i := 0; i < numCallers; i++ {
		if err := <-errc; err != nil {
			t.Errorf("Caller failed: %v", err)
		}
	}
	if err := loc.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
