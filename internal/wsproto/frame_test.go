package wsproto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequestValid(t *testing.T) {
	frame, err := ParseRequest([]byte(`{"type":"req","id":"1","method":"tasks.create","params":{"title":"x"}}`))
	require.NoError(t, err)
	require.Equal(t, "1", frame.ID)
	require.Equal(t, "tasks.create", frame.Method)
}

func TestParseRequestRejectsWrongType(t *testing.T) {
	_, err := ParseRequest([]byte(`{"type":"res","id":"1","method":"x"}`))
	require.ErrorIs(t, err, errNotRequest)
}

func TestParseRequestRejectsMissingFields(t *testing.T) {
	_, err := ParseRequest([]byte(`{"type":"req","id":"","method":""}`))
	require.ErrorIs(t, err, errMissingFields)
}

func TestParseRequestRejectsMalformedJSON(t *testing.T) {
	_, err := ParseRequest([]byte(`not json`))
	require.Error(t, err)
}

func TestNewErrorResponseShape(t *testing.T) {
	resp := NewErrorResponse("1", CodeMethodNotFound, "no such method")
	require.Equal(t, FrameResponse, resp.Type)
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeMethodNotFound, resp.Error.Code)
}
