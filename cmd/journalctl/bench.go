// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/novatechflow/journal/pkg/journal"
	"github.com/novatechflow/journal/pkg/metrics"
)

type benchOptions struct {
	callers     int
	perCaller   int
	batchSize   int
	metricsAddr string
}

type benchResult struct {
	appended int
	elapsed  time.Duration
	balance  float64
	expected float64
}

func newBenchCmd(a *app) *cobra.Command {
	var opts benchOptions
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Append concurrent deposit/withdrawal transactions and report batch statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.callers <= 0 || opts.perCaller <= 0 {
				return errors.New("--callers and --per-caller must be positive")
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if opts.batchSize > 0 {
				cfg.BatchSize = opts.batchSize
			}
			res, stats, err := a.runBench(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			rate := float64(res.appended) / max(res.elapsed.Seconds(), 1e-9)
			fmt.Fprintf(out, "appended=%d elapsed=%s rate=%.0f/s balance=%.2f expected=%.2f\n",
				res.appended, res.elapsed, rate, res.balance, res.expected)
			return stats.Dump(out)
		},
	}
	cmd.Flags().IntVar(&opts.callers, "callers", 8, "concurrent appending goroutines")
	cmd.Flags().IntVar(&opts.perCaller, "per-caller", 1000, "transactions appended by each caller")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "entries per batch (0 keeps the configured value)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	return cmd
}

// runBench appends callers*perCaller transactions, alternating deposits of 2
// and withdrawals of 1, then replays the range it wrote and sums it.
func (a *app) runBench(ctx context.Context, cfg journal.Config, opts benchOptions) (benchResult, *journal.Statistics, error) {
	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector("journal", reg)
	if err != nil {
		return benchResult{}, nil, err
	}
	if opts.metricsAddr != "" {
		stop, err := a.serveMetrics(opts.metricsAddr, reg)
		if err != nil {
			return benchResult{}, nil, err
		}
		defer stop()
	}

	j, err := a.open(ctx, cfg, journal.WithObserver(collector))
	if err != nil {
		return benchResult{}, nil, err
	}
	defer j.Close()

	start := time.Now()
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		first    time.Time
	)
	for c := 0; c < opts.callers; c++ {
		wg.Add(1)
		go func(caller int) {
			defer wg.Done()
			account := fmt.Sprintf("acct-%03d", caller)
			futures := make([]*journal.Future, 0, opts.perCaller)
			for i := 0; i < opts.perCaller; i++ {
				var payload any = Deposit{Account: account, Amount: 2}
				if i%2 == 1 {
					payload = Withdrawal{Account: account, Amount: 1}
				}
				futures = append(futures, j.Append(payload))
			}
			for _, f := range futures {
				ts, err := f.Wait(ctx)
				mu.Lock()
				if err != nil && firstErr == nil {
					firstErr = err
				}
				if err == nil && (first.IsZero() || ts.Before(first)) {
					first = ts
				}
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()
	elapsed := time.Since(start)
	if firstErr != nil {
		return benchResult{}, nil, firstErr
	}

	res := benchResult{appended: opts.callers * opts.perCaller, elapsed: elapsed}
	deposits := (opts.perCaller + 1) / 2
	withdrawals := opts.perCaller / 2
	res.expected = float64(opts.callers * (2*deposits - withdrawals))
	for p, err := range j.Replay(ctx, journal.ReplayOptions{First: first}) {
		if err != nil {
			return benchResult{}, nil, err
		}
		switch tx := p.(type) {
		case Deposit:
			res.balance += tx.Amount
		case Withdrawal:
			res.balance -= tx.Amount
		}
	}
	return res, j.Statistics(), nil
}

func (a *app) serveMetrics(addr string, reg *prometheus.Registry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	a.logger.Info("metrics listening", "addr", ln.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
