// The flowprobe command manually exercises flow establishment: it
// brings up the requested number of flows against a destination, prints
// each establishment response as JSON on the standard output, and holds
// the flows until a signal arrives or the configured duration elapses.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aoimidori27/flowgrind/capture"
	"github.com/aoimidori27/flowgrind/congestion"
	"github.com/aoimidori27/flowgrind/flow"
	"github.com/aoimidori27/flowgrind/logging"
	"github.com/aoimidori27/flowgrind/platformx"
	"github.com/aoimidori27/flowgrind/redisx"
	"github.com/aoimidori27/flowgrind/resolver"
	"github.com/aoimidori27/flowgrind/source"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/httpx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/go/warnonerror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	destHost     = flag.String("dest-host", "localhost", "The destination host to establish flows to")
	destPort     = flag.Int("dest-port", 5999, "The destination port to establish flows to")
	flowCount    = flag.Int("flows", 1, "How many flows to establish")
	blockSize    = flag.Int("block-size", 8192, "Maximum block size for the transfer-phase buffers")
	byteCounting = flag.Bool("byte-counting", false, "Prefill the write block with its own offsets")
	readBufSize  = flag.Int("read-buffer-size", 0, "Requested receive buffer size, 0 for the OS default")
	sendBufSize  = flag.Int("send-buffer-size", 0, "Requested send buffer size, 0 for the OS default")
	lateConnect  = flag.Bool("late-connect", false, "Defer the TCP handshake to the transfer phase")
	ccName       = flag.String("cc", "", "Congestion control algorithm to set on every flow, empty to keep the default")
	redisAddr    = flag.String("redis.addr", "", "Redis address for establishment records, empty to disable export")
	listenAddr   = flag.String("listen-address", ":9990", "Address of the metrics and pprof mux")
	holdDuration = flag.Duration("duration", 0, "How long to hold the flows, 0 to wait for a signal")

	// Reassigned by tests.
	ctx, cancel = context.WithCancel(context.Background())
)

// ccApplier asks the kernel to run a specific congestion control
// algorithm on every flow's socket.
type ccApplier struct {
	name string
}

// Apply implements source.OptionApplier.
func (a ccApplier) Apply(fl *flow.Flow) error {
	return congestion.Set(fl.Sock.Fd(), a.name)
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from the environment")
	platformx.WarnIfNotFullySupported()
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.Handler())
	debugSrv := &http.Server{
		Addr:    *listenAddr,
		Handler: logging.MakeAccessLogHandler(mux),
	}
	rtx.Must(httpx.ListenAndServeAsync(debugSrv), "Could not start the debug server")
	defer debugSrv.Close()

	var options source.OptionApplier = source.NoopOptions{}
	if *ccName != "" {
		options = ccApplier{name: *ccName}
	}
	manager := &source.Manager{
		Pool:     flow.NewPool(flow.DefaultMaxFlows),
		Resolver: &resolver.Resolver{},
		Options:  options,
		Capture:  capture.Noop{},
	}
	if *redisAddr != "" {
		store := redisx.NewClient(*redisAddr)
		defer warnonerror.Close(store, "Could not close the Redis client")
		manager.Store = store
	}

	enc := json.NewEncoder(os.Stdout)
	established := []int{}
	for i := 0; i < *flowCount; i++ {
		resp, err := manager.AddFlowSource(ctx, &source.Request{
			Settings: flow.Settings{
				MaximumBlockSize:        *blockSize,
				ByteCounting:            *byteCounting,
				RequestedReadBufferSize: *readBufSize,
				RequestedSendBufferSize: *sendBufSize,
			},
			SourceSettings: flow.SourceSettings{
				DestinationHost: *destHost,
				DestinationPort: *destPort,
				LateConnect:     *lateConnect,
			},
		})
		rtx.Must(err, "Could not establish flow %d", i)
		rtx.Must(enc.Encode(resp), "Could not encode the response")
		established = append(established, resp.FlowID)
	}

	if *holdDuration > 0 {
		select {
		case <-time.After(*holdDuration):
		case <-ctx.Done():
		}
	} else {
		<-ctx.Done()
	}

	for _, id := range established {
		if err := manager.RemoveFlow(id); err != nil {
			logging.Logger.WithError(err).Warnf("could not remove flow %d", id)
		}
	}
}
