package kv

import (
	"context"
	"testing"
	"time"

	"github.com/jarvis-labs/fabric/internal/bus"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetSetDel(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "jarvis:agent:a:status")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "jarvis:agent:a:status", []byte("idle"), 0))
	v, ok, err := s.Get(ctx, "jarvis:agent:a:status")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "idle", string(v))

	require.NoError(t, s.Del(ctx, "jarvis:agent:a:status"))
	_, ok, err = s.Get(ctx, "jarvis:agent:a:status")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreTTLExpires(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreHash(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	require.NoError(t, s.HSet(ctx, "jarvis:task:1", "status", []byte("queued")))
	require.NoError(t, s.HSet(ctx, "jarvis:task:1", "priority", []byte("high")))

	v, ok, err := s.HGet(ctx, "jarvis:task:1", "status")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "queued", string(v))

	all, err := s.HGetAll(ctx, "jarvis:task:1")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestMemoryStoreZSet(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	require.NoError(t, s.ZAdd(ctx, "jarvis:task:queue:high", 3, "t3"))
	require.NoError(t, s.ZAdd(ctx, "jarvis:task:queue:high", 1, "t1"))
	require.NoError(t, s.ZAdd(ctx, "jarvis:task:queue:high", 2, "t2"))

	members, err := s.ZRange(ctx, "jarvis:task:queue:high", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"t1", "t2", "t3"}, members)

	require.NoError(t, s.ZRem(ctx, "jarvis:task:queue:high", "t2"))
	members, err = s.ZRange(ctx, "jarvis:task:queue:high", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"t1", "t3"}, members)
}

func TestMemoryStorePublishSubscribe(t *testing.T) {
	s := NewMemoryStore(bus.New())
	ctx := context.Background()

	received := make(chan []byte, 1)
	unsub, err := s.Subscribe(ctx, "agent:a:status", func(payload []byte) {
		received <- payload
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, s.Publish(ctx, "agent:a:status", []byte("idle")))

	select {
	case payload := <-received:
		require.Equal(t, "idle", string(payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published payload")
	}
}
