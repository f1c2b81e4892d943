//go:build integration

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

// startRedis starts a Redis testcontainer and returns its URL.
func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "start redis")
	testcontainers.CleanupContainer(t, container)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err, "redis endpoint")
	return "redis://" + endpoint
}

func TestMessageBusRoundTrip(t *testing.T) {
	url := startRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mb, err := NewMessageBus(ctx, url, zap.NewNop())
	require.NoError(t, err)
	defer mb.Close()

	subCtx, stop := context.WithCancel(ctx)
	defer stop()
	events := mb.Subscribe(subCtx, TopicNudge)
	// XREAD with "$" only sees entries added after the read starts.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, mb.Publish(ctx, &Event{Topic: TopicNudge, Source: "delivery", Paths: []string{"delivery.last_notification"}}))

	select {
	case ev := <-events:
		assert.Equal(t, "delivery", ev.Source)
		assert.NotEmpty(t, ev.ID)
		assert.Equal(t, []string{"delivery.last_notification"}, ev.Paths)
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}

func TestMessageBusBadURL(t *testing.T) {
	_, err := NewMessageBus(context.Background(), "://nope", zap.NewNop())
	require.Error(t, err)
}
