package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mtman/internal/eventbus"
	"mtman/internal/metrics"
	"mtman/pkg/logx"
	"mtman/pkg/mtman"
)

func main() {
	// Worker processes are this binary re-executed; they stop here.
	mtman.Main()

	var (
		cfgPath     string
		demo        string
		tasks       int
		inProcess   bool
		concurrency int
		metricsAddr string
	)
	flag.StringVar(&cfgPath, "config", "", "path to config yaml/json (optional)")
	flag.StringVar(&demo, "demo", "square", "demo workload: square | sleep | flaky | mixed")
	flag.IntVar(&tasks, "tasks", 10, "number of tasks to submit")
	flag.BoolVar(&inProcess, "inprocess", false, "run tasks on goroutines instead of processes")
	flag.IntVar(&concurrency, "concurrency", 0, "override concurrency_limit")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")
	flag.Parse()

	if err := run(cfgPath, demo, tasks, inProcess, concurrency, metricsAddr); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(cfgPath, demo string, tasks int, inProcess bool, concurrency int, metricsAddr string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg mtman.Config
	if cfgPath != "" {
		c, err := mtman.LoadConfig(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	if concurrency > 0 {
		cfg.ConcurrencyLimit = mtman.Ptr(concurrency)
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	if err != nil {
		return err
	}
	bus := eventbus.New()

	opts := []mtman.Option{
		mtman.WithObserver(collector),
		mtman.WithObserver(eventbus.Observer(bus)),
	}
	if inProcess {
		opts = append(opts, mtman.WithInProcessWorkers())
	}
	m, err := mtman.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Cleanup(); err != nil {
			fmt.Fprintln(os.Stderr, "cleanup:", err)
		}
	}()

	log := logx.NewConsole(m.Settings().LogLevel).With(logx.String("run", m.RunID()))
	events, unsubscribe := bus.Subscribe(256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range events {
			log.Info(e.Type, logx.Int("task", e.TaskID))
		}
	}()

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server stopped", logx.Err(err))
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if err := submitDemo(m, demo, tasks); err != nil {
		unsubscribe()
		<-done
		return err
	}

	start := time.Now()
	results, runErr := m.Run(ctx)
	unsubscribe()
	<-done

	var te *mtman.TimeoutError
	if errors.As(runErr, &te) {
		results = te.Partial
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}
	log.Info("done",
		logx.Int("submitted", tasks),
		logx.Int("succeeded", len(results)),
		logx.Int("workers", len(m.Workers())),
		logx.Duration("dur", time.Since(start)),
		logx.Uint64("events_dropped", bus.Dropped()),
	)
	return runErr
}
