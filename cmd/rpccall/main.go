// Program rpccall issues RPC calls to a JSON-RPC server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/corvida/rpcengine"
	"github.com/corvida/rpcengine/channel"
	"github.com/corvida/rpcengine/channel/chanutil"
	"github.com/corvida/rpcengine/jctx"
)

var flags struct {
	dialTimeout time.Duration
	callTimeout time.Duration
	doHTTP      bool
	doNotify    bool
	withContext bool
	framing     string
	doBatch     bool
	doTiming    bool
	withLogging bool
	withMeta    string
}

func main() {
	root := &cobra.Command{
		Use:   "rpccall <address> {<method> <params>}...",
		Short: "Issue JSON-RPC calls against a running engine",
		Long: `Connect to the specified address and transmit the specified JSON-RPC method
calls, one after another, or as a single batch if --batch is set. The
resulting response values are printed to stdout.

The --framing flag sets the channel framing discipline. The caller and the
listener must agree for communication to work:

  decimal    -- length-prefixed, length as a decimal integer
  line       -- byte-terminated, records end in LF (Unicode 10)
  lsp        -- header-framed, content-type application/vscode-jsonrpc (like LSP)
  raw        -- unframed, each message is a complete JSON value
  varint     -- length-prefixed, length is a binary varint`,
		Args: cobra.MinimumNArgs(3),
		RunE: runCall,
	}
	fs := root.Flags()
	fs.DurationVar(&flags.dialTimeout, "dial", 5*time.Second, "Timeout on dialing the server (env RPCCALL_DIAL, 0 for no timeout)")
	fs.DurationVar(&flags.callTimeout, "timeout", 0, "Timeout on each call (env RPCCALL_TIMEOUT, 0 for no timeout)")
	fs.BoolVar(&flags.doHTTP, "http", false, "Connect via HTTP (address is the endpoint URL)")
	fs.BoolVar(&flags.doNotify, "notify", false, "Send a notification")
	fs.BoolVar(&flags.withContext, "context", false, "Propagate the call context (deadline and metadata)")
	fs.StringVar(&flags.framing, "framing", "raw", "Channel framing (env RPCCALL_FRAMING)")
	fs.BoolVar(&flags.doBatch, "batch", false, "Issue calls as a batch rather than sequentially")
	fs.BoolVar(&flags.doTiming, "timing", false, "Print call timing stats")
	fs.BoolVar(&flags.withLogging, "verbose", false, "Enable verbose logging (env RPCCALL_VERBOSE)")
	fs.StringVar(&flags.withMeta, "meta", "", "Attach this JSON value as request metadata (implies --context)")
	root.PreRunE = func(*cobra.Command, []string) error {
		return bindEnv("RPCCALL", fs)
	}

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

// bindEnv fills any flag in fs that the user left at its default from a
// same-named environment variable under prefix, so deployments can set
// e.g. RPCCALL_DIAL instead of repeating --dial on every invocation. Flags
// given explicitly on the command line always win.
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

func runCall(cmd *cobra.Command, args []string) error {
	if len(args)%2 != 1 {
		return fmt.Errorf("arguments are <address> {<method> <params>}...")
	}

	ctx := context.Background()
	if flags.withMeta != "" {
		mc, err := jctx.WithMetadata(ctx, json.RawMessage(flags.withMeta))
		if err != nil {
			return fmt.Errorf("invalid request metadata: %w", err)
		}
		ctx = mc
		flags.withContext = true
	}
	if flags.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.callTimeout)
		defer cancel()
	}

	start := time.Now()
	var cc channel.Channel
	if flags.doHTTP {
		cc = newHTTP(ctx, args[0])
	} else if nc := chanutil.Framing(flags.framing); nc == nil {
		return fmt.Errorf("unknown channel framing %q", flags.framing)
	} else {
		ntype := "tcp"
		if !strings.Contains(args[0], ":") {
			ntype = "unix"
		}
		conn, err := net.DialTimeout(ntype, args[0], flags.dialTimeout)
		if err != nil {
			return fmt.Errorf("dial %q: %w", args[0], err)
		}
		defer conn.Close()
		cc = nc(conn, conn)
	}
	tdial := time.Now()

	cli := newClient(cc)
	rsps, err := issueCalls(ctx, cli, args[1:])
	if err != nil {
		return fmt.Errorf("call failed: %w", err)
	}
	tcall := time.Now()
	ok := printResults(rsps)
	tprint := time.Now()
	if flags.doTiming {
		fmt.Fprintf(os.Stderr, "%v elapsed: %v dial, %v call, %v print\n",
			tprint.Sub(start), tdial.Sub(start), tcall.Sub(tdial), tprint.Sub(tcall))
	}
	if !ok {
		os.Exit(1)
	}
	return nil
}

func newClient(conn channel.Channel) *rpcengine.Client {
	eopts := &rpcengine.EngineOptions{
		OnNotify: func(req *rpcengine.Request) {
			var p json.RawMessage
			req.UnmarshalParams(&p)
			fmt.Printf(`{"method":%q,"params":%s}`+"\n", req.Method(), string(p))
		},
	}
	if flags.withLogging {
		eopts.Logger = func(s string) { log.Println(s) }
	}
	eng := rpcengine.New(conn, nil, eopts)
	return rpcengine.NewClient(eng, nil)
}

// encodeParams wraps params with the caller's propagated context when
// --context is set, so its deadline and metadata survive the hop.
func encodeParams(ctx context.Context, params any) (any, error) {
	if !flags.withContext {
		return params, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return jctx.Encode(ctx, json.RawMessage(raw))
}

func printResults(rsps []*rpcengine.Response) bool {
	ok := true
	for i, rsp := range rsps {
		if rerr := rsp.Error(); rerr != nil {
			log.Printf("Error (%d): %v", i+1, rerr)
			ok = false
			continue
		}
		var result json.RawMessage
		if err := rsp.UnmarshalResult(&result); err != nil {
			log.Printf("Decoding (%d): %v", i+1, err)
			ok = false
			continue
		}
		fmt.Println(string(result))
	}
	return ok
}

func issueCalls(ctx context.Context, cli *rpcengine.Client, args []string) ([]*rpcengine.Response, error) {
	specs, err := newSpecs(ctx, args)
	if err != nil {
		return nil, err
	}
	if flags.doBatch {
		return cli.CallBatch(ctx, specs)
	}
	return issueSequential(ctx, cli, specs)
}

func issueSequential(ctx context.Context, cli *rpcengine.Client, specs []rpcengine.BatchSpec) ([]*rpcengine.Response, error) {
	var rsps []*rpcengine.Response
	for _, spec := range specs {
		if spec.Notify {
			if err := cli.Notify(ctx, spec.Method, spec.Params); err != nil {
				return nil, err
			}
		} else if rsp, err := cli.Call(ctx, spec.Method, spec.Params); err != nil {
			return nil, err
		} else {
			rsps = append(rsps, rsp)
		}
	}
	return rsps, nil
}

func newSpecs(ctx context.Context, args []string) ([]rpcengine.BatchSpec, error) {
	specs := make([]rpcengine.BatchSpec, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		params, err := encodeParams(ctx, param(args[i+1]))
		if err != nil {
			return nil, err
		}
		specs = append(specs, rpcengine.BatchSpec{
			Method: args[i],
			Params: params,
			Notify: flags.doNotify,
		})
	}
	return specs, nil
}

func param(s string) any {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

// roundTripper implements channel.Channel by sending messages to an HTTP
// server as POST requests with content type "application/json".
type roundTripper struct {
	ctx    context.Context
	cancel context.CancelFunc
	url    string
	rsp    chan []byte // requires at least 1 buffer slot
}

func newHTTP(ctx context.Context, addr string) roundTripper {
	ctx, cancel := context.WithCancel(ctx)
	return roundTripper{ctx: ctx, cancel: cancel, url: addr, rsp: make(chan []byte, 1)}
}

// Send implements part of channel.Channel. Each request is sent
// synchronously to the HTTP server at the recorded URL, and the response is
// either empty or is enqueued immediately for the receiver.
func (r roundTripper) Send(data []byte) error {
	rsp, err := http.Post(r.url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	} else if rsp.StatusCode == http.StatusNoContent {
		return nil
	} else if rsp.StatusCode != http.StatusOK {
		return fmt.Errorf("http: %s", rsp.Status)
	}
	defer rsp.Body.Close()
	bits, err := io.ReadAll(rsp.Body)
	if err != nil {
		return err
	}
	r.rsp <- bits
	return nil
}

// Recv implements part of channel.Channel. It blocks until the stored
// request context ends or a message becomes available.
func (r roundTripper) Recv() ([]byte, error) {
	select {
	case <-r.ctx.Done():
		return nil, r.ctx.Err()
	case rsp, ok := <-r.rsp:
		if ok {
			return rsp, nil
		}
		return nil, io.EOF
	}
}

// Close implements part of channel.Channel.
func (r roundTripper) Close() error {
	r.cancel()
	close(r.rsp)
	return nil
}
