// Command authkit-loadtest drives many authkit clients against the in-process
// test backend. It measures request latency, then expires every access
// token repeatedly and checks that each client issues exactly one refresh
// per storm however many calls fail at once.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/junoyi/authkit"
	"github.com/junoyi/authkit/internal/testbackend"
	"github.com/junoyi/authkit/session"
)

func main() {
	var (
		clients      = pflag.Int("clients", 32, "number of independent clients (sessions)")
		concurrency  = pflag.Int("concurrency", 64, "concurrent calls per client during a refresh storm")
		ops          = pflag.Int("ops", 20000, "requests in the latency phase")
		storms       = pflag.Int("storms", 5, "number of token-expiry storms")
		refreshDelay = pflag.Duration("refresh-delay", 20*time.Millisecond, "backend delay on every refresh call")
		redisAddr    = pflag.String("redis-addr", "", "redis address for sessions; if empty, REDIS_ADDR env or miniredis is used")
		prefix       = pflag.String("prefix", "authkit:load", "session key prefix")
	)
	pflag.Parse()

	if *clients <= 0 || *concurrency <= 0 || *ops <= 0 || *storms <= 0 {
		fmt.Fprintln(os.Stderr, "clients, concurrency, ops, and storms must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		rdb     redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = rdb.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = rdb.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	backend, err := testbackend.New(testbackend.Options{RefreshDelay: *refreshDelay, Logger: quiet})
	if err != nil {
		fmt.Fprintf(os.Stderr, "backend: %v\n", err)
		os.Exit(1)
	}
	srv := httptest.NewServer(backend.Handler())
	defer srv.Close()

	store := session.NewRedisStore(rdb, *prefix, time.Hour, nil)

	fmt.Printf("signing in %d clients...\n", *clients)
	pool := make([]*authkit.Client, *clients)
	for i := range pool {
		cfg := authkit.DefaultConfig()
		cfg.HTTP.APIURL = srv.URL
		cfg.Session.Key = fmt.Sprintf("client-%d", i)
		c, err := authkit.New().WithConfig(cfg).WithLogger(quiet).WithStore(store).Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "build client: %v\n", err)
			os.Exit(1)
		}
		defer c.Close()
		if err := c.Login(ctx, authkit.Credentials{UserName: "admin", Password: "123456"}); err != nil {
			fmt.Fprintf(os.Stderr, "login: %v\n", err)
			os.Exit(1)
		}
		pool[i] = c
	}

	requestStats := runRequestPhase(ctx, pool, *ops, *concurrency)
	stormStats, refreshes := runStormPhase(ctx, backend, pool, *storms, *concurrency)

	fmt.Println("---- results ----")
	printStats("request", requestStats)
	printStats("storm", stormStats)

	want := int64(*clients * *storms)
	fmt.Printf("refresh calls: %d (want %d), reused refresh tokens: %d\n", refreshes, want, backend.RefreshReuse())
	if refreshes != want || backend.RefreshReuse() != 0 || stormStats.failures != 0 {
		fmt.Fprintln(os.Stderr, "FAIL: refresh was not single-flight")
		os.Exit(1)
	}
}

func runRequestPhase(ctx context.Context, pool []*authkit.Client, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				c := pool[i%len(pool)]
				t0 := time.Now()
				_, err := c.Get(ctx, "/echo", nil)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

// runStormPhase expires all access tokens and fires concurrency calls per
// client at once, storms times. It returns the refresh calls the backend saw.
func runStormPhase(ctx context.Context, backend *testbackend.Backend, pool []*authkit.Client, storms, concurrency int) (phaseStats, int64) {
	var (
		failures  int64
		latencies = make([]time.Duration, 0, storms*len(pool)*concurrency)
		mu        sync.Mutex
	)

	before := backend.RefreshCalls()
	start := time.Now()
	for s := 0; s < storms; s++ {
		backend.ExpireAccessTokens()

		g, gctx := errgroup.WithContext(ctx)
		for _, c := range pool {
			for j := 0; j < concurrency; j++ {
				g.Go(func() error {
					t0 := time.Now()
					_, err := c.Get(gctx, "/echo", nil)
					d := time.Since(t0)
					if err != nil {
						atomic.AddInt64(&failures, 1)
					}
					mu.Lock()
					latencies = append(latencies, d)
					mu.Unlock()
					return nil
				})
			}
		}
		_ = g.Wait()
	}
	return computeStats(time.Since(start), latencies, failures), backend.RefreshCalls() - before
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
