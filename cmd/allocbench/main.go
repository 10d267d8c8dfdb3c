// Command allocbench drives hoard through the scenarios spec.md §8 lists as
// testable properties, as a standalone load generator rather than a test —
// the kind of thing spec.md §1 calls "the included benchmark" for scenario 6.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hoardgo/hoard"
	"github.com/hoardgo/hoard/metrics"
)

var (
	logger *zap.Logger

	flagThreads     int
	flagIterations  int
	flagMinSize     int
	flagMaxSize     int
	flagScenario    string
	flagMetricsAddr string
)

func main() {
	var err error
	logger, err = zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "allocbench: building logger:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	root := newRootCommand()
	if err := root.Execute(); err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allocbench",
		Short: "Drives hoard through the allocator's reference workloads",
		RunE:  runBench,
	}

	flags := cmd.Flags()
	flags.IntVar(&flagThreads, "threads", 8, "number of concurrent worker goroutines")
	flags.IntVar(&flagIterations, "iterations", 1_000_000, "allocate/free iterations per worker")
	flags.IntVar(&flagMinSize, "min-size", 8, "minimum request size in bytes")
	flags.IntVar(&flagMaxSize, "max-size", 4096, "maximum request size in bytes")
	flags.StringVar(&flagScenario, "scenario", "mixed", "one of: churn, producer-consumer, oversize, mixed")
	flags.StringVar(&flagMetricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")

	viper.SetEnvPrefix("allocbench")
	viper.AutomaticEnv()
	_ = viper.BindPFlags(flags)

	return cmd
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg := hoard.Config{
		ErrorCallback: func(msg string) { logger.Warn("allocator diagnostic", zap.String("message", msg)) },
	}

	var sink *metrics.PrometheusSink
	if addr := viper.GetString("metrics-addr"); addr != "" {
		reg := prometheus.NewRegistry()
		sink = metrics.NewPrometheusSink(reg, "allocbench")
		cfg.StatsSink = sink
		go serveMetrics(addr, reg)
	}

	if err := hoard.Initialize(cfg); err != nil {
		return fmt.Errorf("initializing allocator: %w", err)
	}
	defer func() {
		if err := hoard.Finalize(); err != nil {
			logger.Warn("finalize reported leaks", zap.Error(err))
		}
	}()

	scenario := viper.GetString("scenario")
	threads := viper.GetInt("threads")
	iterations := viper.GetInt("iterations")
	minSize, maxSize := viper.GetInt("min-size"), viper.GetInt("max-size")

	logger.Info("starting benchmark",
		zap.String("scenario", scenario),
		zap.Int("threads", threads),
		zap.Int("iterations", iterations),
	)

	start := time.Now()
	var err error
	switch scenario {
	case "churn":
		err = runChurn(iterations)
	case "producer-consumer":
		err = runProducerConsumer(iterations, minSize, maxSize)
	case "oversize":
		err = runOversize()
	case "mixed":
		err = runMixed(threads, iterations, minSize, maxSize)
	default:
		return fmt.Errorf("unknown scenario %q", scenario)
	}
	if err != nil {
		return err
	}

	elapsed := time.Since(start)
	stats := hoard.CollectStats()
	logger.Info("benchmark complete",
		zap.Duration("elapsed", elapsed),
		zap.Int64("bytes_in_use", stats.BytesInUse),
		zap.Uintptr("bytes_held", stats.BytesHeld),
		zap.Int32("superblocks_minted", stats.SuperblocksMinted),
		zap.Int32("superblocks_freed", stats.SuperblocksFreed),
		zap.Int64("large_objects_live", stats.LargeObjectsLive),
	)
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

// runChurn is spec.md §8 scenario 1: single-thread small churn.
func runChurn(iterations int) error {
	t := hoard.ThreadInitialize()
	defer hoard.ThreadFinalize(t)
	for i := 0; i < iterations; i++ {
		p := t.Allocate(64)
		if p == nil {
			return fmt.Errorf("churn: allocation failed at iteration %d", i)
		}
		t.Deallocate(p)
	}
	return nil
}

// runProducerConsumer is spec.md §8 scenario 2: thread A allocates, thread B
// frees, joined through a channel.
func runProducerConsumer(count, minSize, maxSize int) error {
	ch := make(chan unsafe.Pointer, 1024)
	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		defer close(ch)
		t := hoard.ThreadInitialize()
		defer hoard.ThreadFinalize(t)
		rnd := rand.New(rand.NewSource(1))
		for i := 0; i < count; i++ {
			size := minSize + rnd.Intn(maxSize-minSize+1)
			p := t.Allocate(int32(size))
			if p == nil {
				return fmt.Errorf("producer: allocation failed at %d", i)
			}
			select {
			case ch <- p:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		t := hoard.ThreadInitialize()
		defer hoard.ThreadFinalize(t)
		for p := range ch {
			t.Deallocate(p)
		}
		return nil
	})

	return g.Wait()
}

// runOversize is spec.md §8 scenario 4: a single large allocation, plus the
// alignment check from scenario 3.
func runOversize() error {
	t := hoard.ThreadInitialize()
	defer hoard.ThreadFinalize(t)

	p := t.Allocate(1_000_000)
	if p == nil {
		return fmt.Errorf("oversize: allocation failed")
	}
	if hoard.UsableSize(p) < 1_000_000 {
		return fmt.Errorf("oversize: usable size too small")
	}
	t.Deallocate(p)

	aligned := t.AllocateAligned(4096, 100)
	if aligned == nil {
		return fmt.Errorf("aligned: allocation failed")
	}
	if uintptr(aligned)%4096 != 0 {
		return fmt.Errorf("aligned: pointer %x is not 4096-aligned", aligned)
	}
	t.Deallocate(aligned)
	return nil
}

// runMixed is spec.md §8 scenario 6: N threads performing interleaved
// allocate/free with a per-iteration batch handed off to a neighbouring
// thread for freeing, verifying the ownership/handoff protocol under load.
func runMixed(threads, iterations, minSize, maxSize int) error {
	const handoffBatch = 16

	tlabs := make([]*hoard.TLAB, threads)
	for i := range tlabs {
		tlabs[i] = hoard.ThreadInitialize()
	}
	defer func() {
		for _, t := range tlabs {
			hoard.ThreadFinalize(t)
		}
	}()

	handoff := make([]chan unsafe.Pointer, threads)
	for i := range handoff {
		handoff[i] = make(chan unsafe.Pointer, handoffBatch*4)
	}

	g, _ := errgroup.WithContext(context.Background())
	for i := 0; i < threads; i++ {
		i := i
		g.Go(func() error {
			t := tlabs[i]
			neighbour := handoff[(i+1)%threads]
			rnd := rand.New(rand.NewSource(int64(i) + 1))
			var batch []unsafe.Pointer

			for iter := 0; iter < iterations; iter++ {
				select {
				case p := <-handoff[i]:
					t.Deallocate(p)
				default:
				}

				size := minSize + rnd.Intn(maxSize-minSize+1)
				p := t.Allocate(int32(size))
				if p == nil {
					return fmt.Errorf("worker %d: allocation failed at %d", i, iter)
				}
				batch = append(batch, p)

				if len(batch) >= handoffBatch {
					for _, q := range batch {
						select {
						case neighbour <- q:
						default:
							t.Deallocate(q)
						}
					}
					batch = batch[:0]
				}
			}

			for _, q := range batch {
				t.Deallocate(q)
			}
			for {
				select {
				case p := <-handoff[i]:
					t.Deallocate(p)
				default:
					return nil
				}
			}
		})
	}
	return g.Wait()
}
