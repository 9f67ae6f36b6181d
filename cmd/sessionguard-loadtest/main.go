package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/sessionguard"
	"github.com/MrEthical07/sessionguard/fingerprint"
	"github.com/MrEthical07/sessionguard/securestore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		users       = flag.Int("users", 2000, "number of users to seed, one session each")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "sg-load", "secure store key prefix")
		waitTimeout = flag.Duration("wait-timeout", 10*time.Second, "operation lock wait ceiling")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := fingerprint.WithEnvironment(context.Background(), fingerprint.Environment{
		UserAgent: "sessionguard-loadtest",
		Screen:    "1x1x1",
		Timezone:  "UTC",
		Language:  "en",
		Platform:  "loadtest",
	})

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	master, err := securestore.GenerateMasterKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
		os.Exit(1)
	}

	cfg := sessionguard.DefaultConfig()
	cfg.Lock.WaitTimeout = *waitTimeout
	cfg.Store.Backend = sessionguard.BackendRedis
	cfg.Store.RedisPrefix = *prefix
	cfg.Store.MasterKey = base64.StdEncoding.EncodeToString(master)
	cfg.Session.CrossContextSync = false
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := sessionguard.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		BuildContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ids := make([]string, *users)
	fmt.Printf("seeding %d sessions...\n", *users)
	startSeed := time.Now()
	for i := range ids {
		info, err := engine.StartSession(ctx, fmt.Sprintf("user-%d", i))
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
		ids[i] = info.ID
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runPhase(*ops, *concurrency, func() error {
		_, err := engine.Validate(ctx, ids[rand.IntN(len(ids))])
		return err
	})
	refreshStats := runPhase(*ops, *concurrency, func() error {
		return engine.Refresh(ctx, ids[rand.IntN(len(ids))], nil)
	})
	loginStats := runPhase(*ops, *concurrency, func() error {
		_, err := engine.StartSession(ctx, fmt.Sprintf("user-%d", rand.IntN(len(ids))))
		return err
	})

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("refresh (locked)", refreshStats)
	printStats("login (locked)", loginStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("lock: acquired=%d contended=%d wait_timeout=%d evicted=%d\n",
		snap.Counters[sessionguard.MetricLockAcquired],
		snap.Counters[sessionguard.MetricLockContended],
		snap.Counters[sessionguard.MetricLockWaitTimeout],
		snap.Counters[sessionguard.MetricSessionEvicted],
	)
}

// runPhase runs op ops times across concurrency workers and records each
// call's latency.
func runPhase(ops, concurrency int, op func() error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		timeouts  atomic.Int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if int(cursor.Add(1)) > ops {
					return
				}
				t0 := time.Now()
				err := op()
				d := time.Since(t0)
				if err != nil {
					failures.Add(1)
					if errors.Is(err, sessionguard.ErrLockTimeout) {
						timeouts.Add(1)
					}
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s := computeStats(time.Since(start), latencies)
	s.failures = failures.Load()
	s.timeouts = timeouts.Load()
	return s
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	timeouts int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	slices.Sort(samples)
	return phaseStats{
		total:   total,
		ops:     len(samples),
		p50:     percentile(samples, 50),
		p95:     percentile(samples, 95),
		p99:     percentile(samples, 99),
		opsPerS: float64(len(samples)) / total.Seconds(),
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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d lock_timeouts=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.timeouts,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
