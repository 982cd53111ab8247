// Package testutil starts the backing services integration tests run
// against.
package testutil

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	redisImage            = "redis:7-alpine"
	redisPort             = "6379/tcp"
	redisStartupTimeout   = 60 * time.Second
	redisTerminateTimeout = 5 * time.Second
	redisSetupTimeout     = 10 * time.Second
	redisMemoryLimit      = 128 * 1024 * 1024
	redisTestPoolSize     = 10
)

// RedisContainer is a Redis server running in Docker.
type RedisContainer struct {
	Container testcontainers.Container
	Addr      string
}

// sharedRedis is started on first use and lives for the whole test binary.
var (
	sharedRedis    *RedisContainer
	sharedRedisErr error
	sharedRedisMu  sync.Mutex
)

// SharedRedis returns the package-wide Redis container, starting it on first
// call. A container that stopped running is replaced.
func SharedRedis(ctx context.Context) (*RedisContainer, error) {
	sharedRedisMu.Lock()
	defer sharedRedisMu.Unlock()

	if sharedRedis != nil && !sharedRedis.running(ctx) {
		sharedRedis.terminate()
		sharedRedis, sharedRedisErr = nil, nil
	}

	if sharedRedis == nil && sharedRedisErr == nil {
		sharedRedis, sharedRedisErr = StartRedis(ctx)
	}

	return sharedRedis, sharedRedisErr
}

// StartRedis starts a dedicated Redis container. The caller terminates it.
func StartRedis(ctx context.Context) (*RedisContainer, error) {
	startCtx, cancel := context.WithTimeout(ctx, redisStartupTimeout)
	defer cancel()

	cont, err := testcontainers.GenericContainer(startCtx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        redisImage,
			ExposedPorts: []string{redisPort},
			Cmd:          []string{"redis-server", "--save", "", "--appendonly", "no"},
			HostConfigModifier: func(hc *container.HostConfig) {
				hc.Memory = redisMemoryLimit
				hc.MemorySwap = redisMemoryLimit
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready to accept connections"),
				wait.ForListeningPort(redisPort),
			).WithDeadline(redisStartupTimeout),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	host, err := cont.Host(startCtx)
	if err != nil {
		_ = cont.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get redis host: %w", err)
	}

	port, err := cont.MappedPort(startCtx, redisPort)
	if err != nil {
		_ = cont.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get redis port: %w", err)
	}

	return &RedisContainer{
		Container: cont,
		Addr:      net.JoinHostPort(host, port.Port()),
	}, nil
}

// NewClient opens a client to the container and verifies it answers.
func (r *RedisContainer) NewClient(ctx context.Context) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     r.Addr,
		PoolSize: redisTestPoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", r.Addr, err)
	}
	return client, nil
}

func (r *RedisContainer) running(ctx context.Context) bool {
	state, err := r.Container.State(ctx)
	return err == nil && state.Running
}

func (r *RedisContainer) terminate() {
	ctx, cancel := context.WithTimeout(context.Background(), redisTerminateTimeout)
	defer cancel()
	_ = r.Container.Terminate(ctx)
}

// SetupTestRedis returns a client to the shared container. Keys written
// under the test's prefix are removed when the test ends; see
// SetupTestRedisWithPrefix.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client, _ := SetupTestRedisWithPrefix(t)
	return client
}

// SetupTestRedisWithPrefix returns a client to the shared container and a
// key prefix unique to the test, so tests sharing the server never see each
// other's keys or channels.
func SetupTestRedisWithPrefix(t *testing.T) (*redis.Client, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), redisSetupTimeout)
	defer cancel()

	server, err := SharedRedis(ctx)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	client, err := server.NewClient(ctx)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	prefix := "test:" + strings.ReplaceAll(t.Name(), "/", ":") + ":"

	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), redisSetupTimeout)
		defer cleanupCancel()
		deleteKeys(cleanupCtx, client, prefix+"*")
		_ = client.Close()
	})

	return client, prefix
}

func deleteKeys(ctx context.Context, client *redis.Client, pattern string) {
	iter := client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		_ = client.Del(ctx, iter.Val()).Err()
	}
}

// TerminateSharedRedis stops the shared container. Call it from TestMain
// after m.Run.
func TerminateSharedRedis() {
	sharedRedisMu.Lock()
	defer sharedRedisMu.Unlock()

	if sharedRedis != nil {
		sharedRedis.terminate()
	}
	sharedRedis, sharedRedisErr = nil, nil
}
