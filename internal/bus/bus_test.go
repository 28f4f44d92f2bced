package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSanitizeToken(t *testing.T) {
	require.Equal(t, "agent123", SanitizeToken("agent.123*>\t\n "))
	require.Equal(t, "abc", SanitizeToken("a.b*c>"))
}

func TestSubjectJoinsSanitizedTokens(t *testing.T) {
	require.Equal(t, "jarvis.agent.abc.dm", Subject("jarvis", "agent", "a.b*c", "dm"))
}

func TestPublishSubscribeDeliversToAll(t *testing.T) {
	b := New()
	defer b.Close()

	var count int64
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		_, err := b.Subscribe("jarvis.agents.broadcast", func(_ context.Context, _ string, _ []byte, _ string) {
			atomic.AddInt64(&count, 1)
			wg.Done()
		})
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(context.Background(), "jarvis.agents.broadcast", []byte("hi")))
	wg.Wait()
	require.EqualValues(t, 2, atomic.LoadInt64(&count))
}

func TestQueueSubscribeDeliversToOneMember(t *testing.T) {
	b := New()
	defer b.Close()

	var count int64
	var wg sync.WaitGroup
	wg.Add(1)
	for i := 0; i < 3; i++ {
		_, err := b.QueueSubscribe("jarvis.task.progress", "workers", func(_ context.Context, _ string, _ []byte, _ string) {
			if atomic.AddInt64(&count, 1) == 1 {
				wg.Done()
			}
		})
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(context.Background(), "jarvis.task.progress", []byte("x")))
	wg.Wait()
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt64(&count))
}

func TestRequestReply(t *testing.T) {
	b := New()
	defer b.Close()

	_, err := b.Subscribe("jarvis.coordination.request", func(ctx context.Context, _ string, data []byte, reply string) {
		_ = b.Reply(ctx, reply, append([]byte("echo:"), data...))
	})
	require.NoError(t, err)

	reply, err := b.Request(context.Background(), "jarvis.coordination.request", []byte("ping"), time.Second)
	require.NoError(t, err)
	require.Equal(t, "echo:ping", string(reply))
}

func TestRequestTimesOutWithNoSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	_, err := b.Request(context.Background(), "jarvis.nobody.listening", []byte("x"), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	var count int64
	sub, err := b.Subscribe("jarvis.agent.a.dm", func(_ context.Context, _ string, _ []byte, _ string) {
		atomic.AddInt64(&count, 1)
	})
	require.NoError(t, err)
	sub.Unsubscribe()

	require.NoError(t, b.Publish(context.Background(), "jarvis.agent.a.dm", []byte("x")))
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt64(&count))
}
