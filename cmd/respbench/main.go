// Command respbench drives a pool.Pool (through rclient.Client) against a live server and
// reports round-trip latency for a run of pipelined PINGs.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/xenking/respool/rclient"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr        string
		count       int
		concurrency int
		maxConns    int
		minConns    int
		leaky       bool
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "respbench",
		Short: "benchmark a respool connection pool against a live server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.StandardLogger()
			if verbose {
				logger.SetLevel(logrus.DebugLevel)
			}

			client := rclient.NewClient(rclient.Config{
				Addr:                   addr,
				MaximumConnectionCount: maxConns,
				MinimumConnectionCount: minConns,
				Leaky:                  leaky,
				Logger:                 logger,
			})
			defer client.Close()

			return runBench(client, count, concurrency)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:6379", "server address (host:port or a unix socket path)")
	cmd.Flags().IntVar(&count, "count", 1000, "total number of PINGs to issue")
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "number of goroutines issuing PINGs concurrently")
	cmd.Flags().IntVar(&maxConns, "max-conns", 8, "maximum pool connection count")
	cmd.Flags().IntVar(&minConns, "min-conns", 1, "minimum pool connection count kept warm")
	cmd.Flags().BoolVar(&leaky, "leaky", false, "use the leaky overflow policy instead of strict")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	return cmd
}

func runBench(client *rclient.Client, count, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}

	jobs := make(chan struct{}, count)
	for i := 0; i < count; i++ {
		jobs <- struct{}{}
	}
	close(jobs)

	latencies := make(chan time.Duration, count)
	errs := make(chan error, count)
	done := make(chan struct{})

	start := time.Now()
	for i := 0; i < concurrency; i++ {
		go func() {
			for range jobs {
				t0 := time.Now()
				if err := client.Ping(); err != nil {
					errs <- err
					continue
				}
				latencies <- time.Since(t0)
			}
			done <- struct{}{}
		}()
	}

	for i := 0; i < concurrency; i++ {
		<-done
	}
	elapsed := time.Since(start)
	close(latencies)
	close(errs)

	var total time.Duration
	var max time.Duration
	n := 0
	for d := range latencies {
		total += d
		if d > max {
			max = d
		}
		n++
	}

	failures := len(errs)
	fmt.Printf("issued %d PINGs across %d goroutines in %s\n", count, concurrency, elapsed)
	fmt.Printf("succeeded %d, failed %d\n", n, failures)
	if n > 0 {
		fmt.Printf("avg latency %s, max latency %s\n", total/time.Duration(n), max)
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d PINGs failed", failures, count)
	}
	return nil
}
