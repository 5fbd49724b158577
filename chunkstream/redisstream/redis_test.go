package redisstream

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/streamguard-go/chunkstream"
	"github.com/ggoodman/streamguard-go/chunkstream/streamtest"
)

func TestRedisBroker(t *testing.T) {
	// Skip if Redis is not available
	testClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	if err := testClient.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	testClient.Close()

	factory := func(t *testing.T) chunkstream.Broker {
		client := redis.NewClient(&redis.Options{
			Addr: "localhost:6379",
		})
		return New(Config{
			Client:        client,
			KeyPrefix:     "test:streamguard:",
			BlockInterval: 250 * time.Millisecond,
		})
	}

	streamtest.RunBrokerTests(t, factory)
}
