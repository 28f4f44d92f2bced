package wsproto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchemaRegistryValidatesEnvelope(t *testing.T) {
	reg, err := NewSchemaRegistry()
	require.NoError(t, err)

	require.NoError(t, reg.ValidateEnvelope([]byte(`{"type":"req","id":"1","method":"ping"}`)))
	require.Error(t, reg.ValidateEnvelope([]byte(`{"type":"req","id":"1"}`)))
}

func TestSchemaRegistryValidatesMethodParams(t *testing.T) {
	reg, err := NewSchemaRegistry()
	require.NoError(t, err)
	require.NoError(t, reg.Register("chat.send", `{
		"type":"object",
		"required":["content"],
		"properties":{"content":{"type":"string","minLength":1}}
	}`))

	ok := &RequestFrame{ID: "1", Method: "chat.send", Params: []byte(`{"content":"hi"}`)}
	require.NoError(t, reg.ValidateParams(ok))

	bad := &RequestFrame{ID: "2", Method: "chat.send", Params: []byte(`{}`)}
	require.Error(t, reg.ValidateParams(bad))
}

func TestSchemaRegistryAcceptsUnregisteredMethod(t *testing.T) {
	reg, err := NewSchemaRegistry()
	require.NoError(t, err)
	frame := &RequestFrame{ID: "1", Method: "unknown.method", Params: []byte(`{"anything":true}`)}
	require.NoError(t, reg.ValidateParams(frame))
}
