package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/stepup"
	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	var (
		keys        = flag.Int("keys", 64, "number of distinct bucket keys")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		limit       = flag.Int("limit", 5, "bucket capacity")
		window      = flag.Duration("window", time.Second, "bucket refill window")
		flows       = flag.Int("flows", 20000, "step-up flows to run in the flow phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", envOr("STEPUP_REDIS_PREFIX", "sult"), "key prefix")
	)
	flag.Parse()

	if *keys <= 0 || *concurrency <= 0 || *ops <= 0 || *limit <= 0 || *window < time.Millisecond || *flows < 0 {
		fmt.Fprintln(os.Stderr, "keys, concurrency, ops and limit must be > 0; window must be >= 1ms")
		os.Exit(2)
	}

	ctx := context.Background()

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

	limiter := stepup.NewRedisRateLimiter(client, *prefix+":rl")
	takeStats, violations := runTakePhase(ctx, limiter, *keys, *ops, *concurrency, *limit, *window)

	var flowStats phaseStats
	if *flows > 0 {
		engine, err := buildEngine(client, *prefix)
		if err != nil {
			fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
			os.Exit(1)
		}
		flowStats = runFlowPhase(ctx, engine, *flows, *concurrency)
		engine.Close()
	}

	fmt.Println("---- results ----")
	printStats("take", takeStats)
	if *flows > 0 {
		printStats("flow", flowStats)
	}
	if violations > 0 {
		fmt.Fprintf(os.Stderr, "token bucket ceiling exceeded on %d keys\n", violations)
		os.Exit(1)
	}
	fmt.Println("token bucket ceiling held on every key")
}

// runTakePhase hammers a fixed key set and checks that no key admitted more
// than limit + floor(span*limit/window) requests.
func runTakePhase(ctx context.Context, limiter stepup.RateLimiter, keys, ops, concurrency, limit int, window time.Duration) (phaseStats, int) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		allowed   = make([]int64, keys)
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
				k := i % keys
				t0 := time.Now()
				res, err := limiter.Take(ctx, "lt:"+strconv.Itoa(k), limit, window)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				} else if res.Allowed {
					atomic.AddInt64(&allowed[k], 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)

	ceiling := int64(limit) + int64(total)*int64(limit)/int64(window)
	violations := 0
	for k, n := range allowed {
		if n > ceiling {
			fmt.Fprintf(os.Stderr, "key %d admitted %d > ceiling %d\n", k, n, ceiling)
			violations++
		}
	}
	return computeStats(total, latencies, failures), violations
}

func buildEngine(client redis.UniversalClient, prefix string) (*stepup.Engine, error) {
	cfg := stepup.DefaultConfig()
	cfg.Policy.HomeCountry = envOr("STEPUP_HOME_COUNTRY", "US")
	cfg.Redis.Prefix = prefix
	cfg.Metrics.Enabled = true
	// Every flow uses its own user, so the verify limit never trips.
	return stepup.New().
		WithConfig(cfg).
		WithRedis(client).
		WithVerifier(stepup.FactorTOTP, stepup.FactorVerifierFunc(func(context.Context, string, string) (bool, error) {
			return true, nil
		})).
		Build()
}

func runFlowPhase(ctx context.Context, engine *stepup.Engine, flows, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, flows)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= flows {
					return
				}
				t0 := time.Now()
				err := oneFlow(ctx, engine, "lt-user-"+strconv.Itoa(i))
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
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func oneFlow(ctx context.Context, engine *stepup.Engine, userID string) error {
	ch, err := engine.Begin(ctx, userID, stepup.RiskContext{
		Country: "ZZ",
		Factors: stepup.UserFactors{TOTP: true},
	})
	if err != nil {
		return err
	}
	p, err := engine.Verify(ctx, ch.TicketID, ch.Next, "000000")
	if err != nil {
		return err
	}
	if !p.Fulfilled {
		return fmt.Errorf("flow for %s not fulfilled", userID)
	}
	return nil
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
		return phaseStats{total: total}
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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
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

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
