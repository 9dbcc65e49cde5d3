package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/marcbinz/hlkv/engine"
	"github.com/marcbinz/hlkv/internal/logctx"
	"github.com/marcbinz/hlkv/kv/fixed"
)

var serveLog = logctx.Get("cmd")

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "run an in-memory engine and expose its metrics over HTTP",
	Long:    "Start an in-memory engine and expose its metrics in Prometheus exposition format. Configuration is read from flags or HLKV_<FLAG> environment variables (e.g. HLKV_METRICS_ADDR=:9091).",
	PreRunE: bindEngineFlags,
	RunE:    runServe,
}

func init() {
	serveCmd.Flags().String("metrics-addr", ":9090", "address to expose Prometheus-format metrics on")
}

func runServe(cmd *cobra.Command, args []string) error {
	logctx.SetGlobalLevel(logctx.ParseLevel(viper.GetString("log-level")))

	geo := geometryFromFlags()
	e, err := engine.Open(engine.Options[fixed.Key, *fixed.Value]{
		HashBucketCount: geo.buckets,
		LogByteCapacity: geo.logCapacity,
		PageSize:        geo.pageSize,
		MutableFraction: geo.mutableFraction,
		DecodeKey:       fixed.DecodeKey,
		DecodeValue:     fixed.DecodeValue,
	})
	if err != nil {
		return err
	}
	defer e.Close()

	addr := viper.GetString("metrics-addr")
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		e.WriteMetrics(w)
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		serveLog.Infof("serving engine metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveLog.Errorf("metrics server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	serveLog.Infof("shutting down")
	return srv.Close()
}
