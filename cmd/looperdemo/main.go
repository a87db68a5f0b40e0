// looperdemo exercises a pool, a main loop and a scope under load, with an
// optional Prometheus endpoint for watching the scheduler work.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/loopkit/looper/core"
	obs "github.com/loopkit/looper/observability/prometheus"
)

func main() {
	app := &cli.App{
		Name:  "looperdemo",
		Usage: "drive the looper scheduler under load",
		Commands: []*cli.Command{
			stressCommand(),
			timeoutCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func stressCommand() *cli.Command {
	return &cli.Command{
		Name:  "stress",
		Usage: "launch many short jobs through a scope and report throughput",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Value:   4,
				Usage:   "pool worker count",
			},
			&cli.IntFlag{
				Name:    "jobs",
				Aliases: []string{"j"},
				Value:   1000,
				Usage:   "number of jobs to launch",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve Prometheus metrics on this address (e.g. :2112)",
			},
			&cli.DurationFlag{
				Name:  "max-job-time",
				Value: 5 * time.Millisecond,
				Usage: "upper bound for the simulated work per job",
			},
		},
		Action: stressAction,
	}
}

func stressAction(c *cli.Context) error {
	workers := c.Int("workers")
	jobCount := c.Int("jobs")
	if workers < 1 || jobCount < 1 {
		return cli.Exit("workers and jobs must be positive", 1)
	}

	zl, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer zl.Sync()
	logger := core.NewZapLogger(zl)

	var metrics core.Metrics = &core.NilMetrics{}
	var poller *obs.SnapshotPoller
	if addr := c.String("metrics-addr"); addr != "" {
		exporter, p, stop, err := serveMetrics(addr)
		if err != nil {
			return err
		}
		metrics = exporter
		poller = p
		defer stop()
		defer p.Stop()
	}

	pool := core.NewPoolWithConfig(&core.PoolConfig{
		Name:    "stress-pool",
		Workers: workers,
		Logger:  logger,
		Metrics: metrics,
	})
	mainLoop := core.NewLoopWithConfig(&core.LoopConfig{
		Name:    "stress-main",
		Logger:  logger,
		Metrics: metrics,
	})
	mainLoop.Start()
	if poller != nil {
		poller.AddPool("stress-pool", pool)
		poller.AddLoop("stress-main", mainLoop)
	}
	scope := core.NewScope(pool, core.WithScopeLogger(logger))

	// SIGINT cancels the scope; in-flight jobs observe their contexts.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("interrupted, cancelling scope")
		scope.Cancel()
	}()

	maxJobTime := c.Duration("max-job-time")
	start := time.Now()
	replies := make(chan struct{}, jobCount)

	launched := 0
	for i := 0; i < jobCount; i++ {
		_, err := core.Launch(scope, func(ctx context.Context) (int, error) {
			d := time.Duration(rand.Int63n(int64(maxJobTime) + 1))
			select {
			case <-time.After(d):
				return int(d), nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}, func(ctx context.Context, value int, err error) {
			replies <- struct{}{}
		}, mainLoop)
		if err != nil {
			break
		}
		launched++
	}

	delivered := 0
	if launched > 0 {
		collect := time.After(30 * time.Second)
	drain:
		for delivered < launched {
			select {
			case <-replies:
				delivered++
			case <-collect:
				break drain
			}
		}
	}
	elapsed := time.Since(start)

	scope.Teardown(time.Second)
	if err := pool.ShutdownGraceful(5 * time.Second); err != nil {
		logger.Warn("pool shutdown", core.F("error", err))
	}
	mainLoop.Stop()

	fmt.Printf("launched %d jobs, %d replies in %v (%.0f jobs/s)\n",
		launched, delivered, elapsed.Round(time.Millisecond),
		float64(delivered)/elapsed.Seconds())
	return nil
}

func timeoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "timeout",
		Usage: "race slow jobs against a deadline and count the winners",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "jobs",
				Aliases: []string{"j"},
				Value:   100,
				Usage:   "number of jobs to launch",
			},
			&cli.DurationFlag{
				Name:  "deadline",
				Value: 20 * time.Millisecond,
				Usage: "per-job deadline",
			},
		},
		Action: timeoutAction,
	}
}

func timeoutAction(c *cli.Context) error {
	jobCount := c.Int("jobs")
	deadline := c.Duration("deadline")

	pool := core.NewPool(4)
	defer pool.Shutdown()
	mainLoop := core.NewLoop("timeout-main")
	mainLoop.Start()
	defer mainLoop.Stop()

	scope := core.NewScope(pool, core.WithErrorHandler(
		func(s *core.Scope, j *core.Job, err error) {}))
	defer scope.Teardown(time.Second)

	type outcome struct{ timedOut bool }
	results := make(chan outcome, jobCount)

	for i := 0; i < jobCount; i++ {
		core.LaunchWithTimeout(scope, func(ctx context.Context) (int, error) {
			// Roughly half the jobs outlive the deadline.
			d := time.Duration(rand.Int63n(int64(2 * deadline)))
			select {
			case <-time.After(d):
				return 1, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}, deadline, func(ctx context.Context, value int, err error) {
			results <- outcome{timedOut: err != nil}
		}, mainLoop)
	}

	var timedOut, completed int
	for i := 0; i < jobCount; i++ {
		if (<-results).timedOut {
			timedOut++
		} else {
			completed++
		}
	}

	fmt.Printf("%d completed, %d timed out (deadline %v)\n", completed, timedOut, deadline)
	return nil
}

func serveMetrics(addr string) (*obs.MetricsExporter, *obs.SnapshotPoller, func(), error) {
	reg := prom.NewRegistry()
	exporter, err := obs.NewMetricsExporter("looper", reg, obs.ExporterOptions{})
	if err != nil {
		return nil, nil, nil, err
	}
	poller, err := obs.NewSnapshotPoller(reg, time.Second)
	if err != nil {
		return nil, nil, nil, err
	}
	poller.Start(context.Background())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = server.ListenAndServe()
	}()

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
	return exporter, poller, stop, nil
}
