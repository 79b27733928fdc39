//go:build integration
// +build integration

package test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/stepup"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var grantKey = []byte("integration-grant-key-0123456789")

// redisMode describes which Redis backend a suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns miniredis always, a standalone server when REDIS_ADDR is
// set and a cluster when REDIS_CLUSTER_ADDRS is set (comma-separated).
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	if addrs := os.Getenv("REDIS_CLUSTER_ADDRS"); addrs != "" {
		modes = append(modes, redisMode{
			name: "cluster",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				var clusterAddrs []string
				for _, a := range strings.Split(addrs, ",") {
					if a = strings.TrimSpace(a); a != "" {
						clusterAddrs = append(clusterAddrs, a)
					}
				}
				rdb := redis.NewClusterClient(&redis.ClusterOptions{Addrs: clusterAddrs})
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis cluster: %v", err)
				}
				return rdb, func() { _ = rdb.Close() }
			},
		})
	}

	return modes
}

// staticVerifier accepts exactly one proof.
func staticVerifier(want string) stepup.FactorVerifierFunc {
	return func(_ context.Context, _, proof string) (bool, error) {
		return proof == want, nil
	}
}

func integrationConfig(prefix string) stepup.Config {
	cfg := stepup.DefaultConfig()
	cfg.Policy.HomeCountry = "IN"
	cfg.Redis.Prefix = prefix
	cfg.Metrics.Enabled = true
	cfg.Grant.Enabled = true
	cfg.Grant.SigningMethod = "hs256"
	cfg.Grant.PrivateKey = grantKey
	return cfg
}

func newIntegrationEngine(t *testing.T, client redis.UniversalClient, cfg stepup.Config) *stepup.Engine {
	t.Helper()

	engine, err := stepup.New().
		WithConfig(cfg).
		WithRedis(client).
		WithVerifier(stepup.FactorPasskey, staticVerifier("assertion")).
		WithVerifier(stepup.FactorTOTP, staticVerifier("123456")).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}
