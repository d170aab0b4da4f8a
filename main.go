// Copyright 2025 The Pipebench Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nelkinda/health-go"
	"github.com/oklog/run"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/model"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/pipebench/pipebench/internal/loadgen"
)

func main() {
	var (
		serverAddr, token, logLevelStr      string
		intervalStr, timeoutStr, listenAddr string
		seed                                int64
		maxOps                              uint64
	)

	app := kingpin.New(filepath.Base(os.Args[0]), "pipebench: a randomized workload generator for the pipe service. "+
		"Issues collect, read-value and apply-modifier operations against random pipes until stopped.")
	app.HelpFlag.Short('h')
	app.Arg("server", "host:port of the pipe service.").
		Default(loadgen.DefaultServerAddr).
		StringVar(&serverAddr)
	app.Arg("token", "Bearer token to authenticate with. Generated when omitted.").
		StringVar(&token)
	app.Flag("log.level", "Logging level, available values: 'debug', 'info', 'warn', 'error'.").
		Default("info").
		StringVar(&logLevelStr)
	app.Flag("seed", "Seed for the workload PRNG. 0 seeds from the clock.").
		Default("0").
		Int64Var(&seed)
	app.Flag("interval", "Wait between consecutive operations, e.g. '500ms'. '0s' disables pacing.").
		Default("0s").
		StringVar(&intervalStr)
	app.Flag("timeout", "Per-request timeout, e.g. '30s'. '0s' lets a request block forever.").
		Default("0s").
		StringVar(&timeoutStr)
	app.Flag("max-operations", "Stop after this many operations. 0 runs forever.").
		Default("0").
		Uint64Var(&maxOps)
	app.Flag("web.listen-address", "Address to serve metrics, health probes and pprof on. Empty disables the listener.").
		Default("").
		StringVar(&listenAddr)

	if _, err := app.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, errors.Wrapf(err, "Error parsing commandline arguments"))
		app.Usage(os.Args[1:])
		os.Exit(2)
	}

	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(logLevelStr)); err != nil {
		log.Fatal("failed to parse -log.level flag ", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	interval := parseDuration("interval", intervalStr)
	timeout := parseDuration("timeout", timeoutStr)

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	if token == "" {
		token = loadgen.NewToken(rng)
		logger.Info("generated bearer token", "token", token)
	}

	worker := loadgen.NewWorker(logger, loadgen.NewClient(serverAddr, token, timeout), rng, loadgen.Config{
		Interval:      interval,
		MaxOperations: maxOps,
	})

	var g run.Group
	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			logger.Info("starting workload", "server", serverAddr, "seed", seed)
			return worker.Run(ctx)
		}, func(error) {
			cancel()
		})
	}
	if listenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(loadgen.Registry(), promhttp.HandlerOpts{}))

		healthHandler := health.New(health.Health{}).Handler
		mux.HandleFunc("/-/health", healthHandler)
		mux.HandleFunc("/-/ready", healthHandler)

		mux.Handle("/debug/pprof/", http.HandlerFunc(pprof.Index))
		mux.Handle("/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
		mux.Handle("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
		mux.Handle("/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
		mux.Handle("/debug/pprof/trace", http.HandlerFunc(pprof.Trace))

		httpSrv := &http.Server{Addr: listenAddr, Handler: mux}
		g.Add(func() error {
			logger.Info("telemetry server is ready to handle requests", "address", listenAddr)
			return httpSrv.ListenAndServe()
		}, func(error) {
			_ = httpSrv.Shutdown(context.Background())
		})
	}
	g.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))

	if err := g.Run(); err != nil {
		var sig run.SignalError
		if errors.As(err, &sig) {
			logger.Info("received signal, exiting", "signal", sig.Signal.String())
			return
		}
		logger.Error("running pipebench failed", "err", err)
		os.Exit(1)
	}
	logger.Info("workload finished")
}

// parseDuration understands prometheus duration syntax such as '90s' or '1m'.
func parseDuration(name, s string) time.Duration {
	v, err := model.ParseDuration(s)
	if err != nil {
		log.Fatalf("failed to parse -%s flag: %v", name, err)
	}
	return time.Duration(v)
}
