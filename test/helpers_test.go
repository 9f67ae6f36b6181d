//go:build integration

package test

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/sessionguard"
	"github.com/MrEthical07/sessionguard/fingerprint"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// cmdCounter is a go-redis Hook that counts Redis round-trips.
type cmdCounter struct {
	commands  atomic.Int64
	pipelines atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.pipelines.Add(1)
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) Reset() {
	h.commands.Store(0)
	h.pipelines.Store(0)
}

func (h *cmdCounter) Commands() int64 { return h.commands.Load() }

func newRedis(t *testing.T) (*miniredis.Miniredis, func() *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, func() *redis.Client {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return client
	}
}

func desktopEnv() fingerprint.Environment {
	return fingerprint.Environment{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/126.0",
		Screen:    "1920x1080x24",
		Timezone:  "Asia/Tokyo",
		Language:  "ja-JP",
		Platform:  "Windows",
	}
}

// redisConfig shares one store namespace and one signed channel, the way
// several processes of the same application would.
func redisConfig() sessionguard.Config {
	cfg := sessionguard.DefaultConfig()
	cfg.Store.Backend = sessionguard.BackendRedis
	cfg.Store.RedisPrefix = "it"
	cfg.Store.MasterKey = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("i", 32)))
	cfg.Store.SweepInterval = 0
	cfg.Session.SweepInterval = 0
	cfg.Broadcast.Backend = sessionguard.BackendRedis
	cfg.Broadcast.SigningKey = strings.Repeat("b", 32)
	cfg.Metrics.Enabled = true
	return cfg
}

func buildEngine(t *testing.T, cfg sessionguard.Config, client redis.UniversalClient) *sessionguard.Engine {
	t.Helper()
	engine, err := sessionguard.New().
		WithConfig(cfg).
		WithRedis(client).
		WithFingerprintSource(fingerprint.StaticSource{Env: desktopEnv()}).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
