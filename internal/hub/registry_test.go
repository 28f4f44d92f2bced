package hub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jarvis-labs/fabric/internal/wsproto"
	"github.com/stretchr/testify/require"
)

func TestMethodRegistryDispatchesRegisteredMethod(t *testing.T) {
	reg := NewMethodRegistry()
	reg.Register("system.metrics", func(ctx context.Context, clientID string, params json.RawMessage) (any, *wsproto.RPCError) {
		return map[string]any{"ok": true}, nil
	})

	result, rpcErr := reg.Dispatch(context.Background(), "client-1", &wsproto.RequestFrame{ID: "1", Method: "system.metrics"})
	require.Nil(t, rpcErr)
	require.Equal(t, map[string]any{"ok": true}, result)
}

func TestMethodRegistryReturnsMethodNotFound(t *testing.T) {
	reg := NewMethodRegistry()
	_, rpcErr := reg.Dispatch(context.Background(), "client-1", &wsproto.RequestFrame{ID: "1", Method: "missing"})
	require.NotNil(t, rpcErr)
	require.Equal(t, wsproto.CodeMethodNotFound, rpcErr.Code)
}

func TestClientRegistryAddGetRemove(t *testing.T) {
	reg := NewClientRegistry()
	_, ok := reg.Get("client-1")
	require.False(t, ok)

	conn := &wsproto.Conn{ID: "client-1"}
	reg.Add(conn)
	got, ok := reg.Get("client-1")
	require.True(t, ok)
	require.Equal(t, conn, got)

	reg.Remove("client-1")
	_, ok = reg.Get("client-1")
	require.False(t, ok)
}
