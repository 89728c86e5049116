// Program rpcproxy is a reverse proxy JSON-RPC server that bridges and
// multiplexes client requests to a server that communicates over a pipe.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/corvida/rpcengine"
	"github.com/corvida/rpcengine/channel"
	"github.com/corvida/rpcengine/channel/chanutil"
	"github.com/corvida/rpcengine/rpcnet"
)

var flags struct {
	address       string
	clientFraming string
	serverFraming string
	doPipe        bool
	doStderr      bool
	doVerbose     bool
}

var logger *log.Logger

func main() {
	root := &cobra.Command{
		Use:   "rpcproxy [options] <cmd> <args>...",
		Short: "Bridge a listening socket to a JSON-RPC subprocess or stdio peer",
		Long: `Run a reverse proxy to a command that implements a JSON-RPC service by running
the command in a subprocess and connecting a JSON-RPC client to its stdin and
stdout. The proxy listens on the specified address and forwards requests to the
subprocess.

If the proxy receives an interrupt (SIGINT), it stops the subprocess, stops
accepting connections, and exits once the connected clients have disconnected.
If the subprocess exits on its own, its exit is logged and the proxy keeps
listening; calls forwarded after that point fail.`,
		RunE: run,
	}
	fs := root.Flags()
	fs.StringVar(&flags.address, "address", "", "Proxy listener address (env RPCPROXY_ADDRESS)")
	fs.StringVar(&flags.clientFraming, "client-framing", "raw", "Client channel framing (env RPCPROXY_CLIENT_FRAMING)")
	fs.StringVar(&flags.serverFraming, "server-framing", "raw", "Server channel framing (env RPCPROXY_SERVER_FRAMING)")
	fs.BoolVar(&flags.doPipe, "pipe", false, "Communicate with stdin/stdout")
	fs.BoolVar(&flags.doStderr, "stderr", false, "Send subprocess stderr to proxy stderr")
	fs.BoolVar(&flags.doVerbose, "verbose", false, "Enable verbose logging (env RPCPROXY_VERBOSE)")
	root.PreRunE = func(*cobra.Command, []string) error {
		return bindEnv("RPCPROXY", fs)
	}

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

// bindEnv fills any flag in fs that the user left at its default from a
// same-named environment variable under prefix, so deployments can set
// e.g. RPCPROXY_ADDRESS instead of repeating --address on every invocation.
// Flags given explicitly on the command line always win.
func bindEnv(prefix string, fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	var ferr error
	fs.VisitAll(func(f *pflag.Flag) {
		if ferr != nil || f.Changed {
			return
		}
		if err := v.BindPFlag(f.Name, f); err != nil {
			ferr = err
			return
		}
		if !v.IsSet(f.Name) {
			return
		}
		if err := fs.Set(f.Name, v.GetString(f.Name)); err != nil {
			ferr = fmt.Errorf("setting --%s from environment: %w", f.Name, err)
		}
	})
	return ferr
}

func run(cmd *cobra.Command, args []string) error {
	if flags.doPipe != (len(args) == 0) {
		return fmt.Errorf("you must provide a command to execute or set --pipe")
	} else if flags.address == "" {
		return fmt.Errorf("you must provide an --address to listen on")
	}
	if flags.doVerbose {
		logger = log.New(os.Stderr, "[proxy] ", log.LstdFlags|log.Lshortfile)
	}

	cframe := chanutil.Framing(flags.clientFraming)
	if cframe == nil {
		return fmt.Errorf("unknown client channel framing %q", flags.clientFraming)
	}
	sframe := chanutil.Framing(flags.serverFraming)
	if sframe == nil {
		return fmt.Errorf("unknown server channel framing %q", flags.serverFraming)
	}
	return runProxy(context.Background(), cframe, sframe, args)
}

func runProxy(ctx context.Context, cframe, sframe channel.Framing, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		log.Printf("Received signal: %v", <-sig)
		cancel()
		signal.Stop(sig)
	}()

	ch, err := start(ctx, sframe, args)
	if err != nil {
		return err
	}
	var elog rpcengine.Logger
	if logger != nil {
		elog = func(s string) { logger.Print(s) }
	}
	cli := rpcengine.NewClient(rpcengine.New(ch, nil, &rpcengine.EngineOptions{Logger: elog}), nil)
	defer cli.Close()

	kind, addr := "tcp", flags.address
	if !strings.Contains(addr, ":") {
		kind = "unix"
	}
	lst, err := net.Listen(kind, addr)
	if err != nil {
		return fmt.Errorf("listen %s %q: %w", kind, addr, err)
	}
	go func() {
		<-ctx.Done()
		lst.Close()
	}()

	return rpcnet.Loop(lst, forwardingAssigner{cli}, &rpcnet.LoopOptions{
		Framing:       cframe,
		EngineOptions: &rpcengine.EngineOptions{Logger: elog},
	})
}

// forwardingAssigner routes every inbound method call through the shared
// client to the subprocess or stdio peer on the other end of the pipe.
type forwardingAssigner struct {
	cli *rpcengine.Client
}

func (a forwardingAssigner) Assign(ctx context.Context, method string) rpcengine.Handler {
	return func(ctx context.Context, req *rpcengine.Request) (any, error) {
		var params interface{}
		if req.HasParams() {
			req.UnmarshalParams(&params)
		}
		if req.IsNotification() {
			return nil, a.cli.Notify(ctx, method, params)
		}
		rsp, err := a.cli.Call(ctx, method, params)
		if err != nil {
			return nil, err
		}
		var result interface{}
		if err := rsp.UnmarshalResult(&result); err != nil {
			return nil, err
		}
		return result, nil
	}
}

func (a forwardingAssigner) Names() []string { return nil }

func start(ctx context.Context, framing channel.Framing, args []string) (channel.Channel, error) {
	if flags.doPipe {
		return framing(os.Stdin, os.Stdout), nil
	}
	proc := exec.CommandContext(ctx, args[0], args[1:]...)
	in, err := proc.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("connecting to stdin: %w", err)
	}
	out, err := proc.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("connecting to stdout: %w", err)
	}
	if flags.doStderr {
		proc.Stderr = os.Stderr
	}
	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("starting server failed: %w", err)
	}
	go func() {
		log.Printf("Subprocess exited: %v", proc.Wait())
	}()
	return framing(out, in), nil
}
