package ipc

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	msg, err := NewMessage(MsgStatusRequest, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, msg.Write(&buf))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgStatusRequest, got.Header.Type)
	assert.Equal(t, uint8(ProtocolVersion), got.Header.Version)
	assert.Empty(t, got.Payload)
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	buf := bytes.Repeat([]byte{0xff}, HeaderSize)
	_, err := ReadHeader(bytes.NewReader(buf))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "magic")
}

func TestReadHeaderRejectsOversizedPayload(t *testing.T) {
	h := Header{Magic: ProtocolMagic, Version: ProtocolVersion, Type: MsgPing, Length: MaxPayload + 1}
	var buf bytes.Buffer
	require.NoError(t, h.Write(&buf))
	_, err := ReadHeader(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

type echoHandler struct{}

func (echoHandler) Handle(_ context.Context, req *Message) (*Message, error) {
	switch req.Header.Type {
	case MsgStatusRequest:
		return NewMessage(MsgStatusResponse, StatusPayload{SessionID: "s1", Status: "active"})
	case MsgCheckText:
		var p CheckTextPayload
		if err := req.Decode(&p); err != nil {
			return nil, err
		}
		if p.Text == "" {
			return nil, fmt.Errorf("empty text")
		}
		return NewMessage(MsgCheckTextResp, CheckTextResponsePayload{})
	case MsgApprove:
		return NewMessage(MsgApproveResp, AckPayload{OK: true})
	default:
		return nil, fmt.Errorf("unsupported type %#x", uint16(req.Header.Type))
	}
}

func startServer(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guardiand.sock")
	srv := NewServer(path, echoHandler{})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return path
}

func TestClientServerRoundTrip(t *testing.T) {
	path := startServer(t)

	c, err := Dial(path)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Ping())

	status, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, "s1", status.SessionID)
	assert.Equal(t, "active", status.Status)

	// Multiple requests over one connection.
	require.NoError(t, c.Approve("r1", "parent"))
	_, err = c.CheckText("hello")
	require.NoError(t, err)
}

func TestServerErrorReply(t *testing.T) {
	path := startServer(t)

	c, err := Dial(path)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.CheckText("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty text")

	// The connection survives an error reply.
	require.NoError(t, c.Ping())
}

func TestServerRestartReplacesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guardiand.sock")

	srv := NewServer(path, echoHandler{})
	require.NoError(t, srv.Start())
	require.NoError(t, srv.Stop())

	// A second bind on the same path must succeed.
	srv2 := NewServer(path, echoHandler{})
	require.NoError(t, srv2.Start())
	defer srv2.Stop()

	c, err := Dial(path)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Ping())
}
