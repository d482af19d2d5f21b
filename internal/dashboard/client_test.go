package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientReceivesBroadcasts(t *testing.T) {
	ctrl := &fakeController{status: ConnectionStatusData{Status: "active"}}
	h := startHub(t, ctrl, mustHash(t, "1234"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := NewClient(h.Addr())
	require.NoError(t, c.Start(ctx))
	defer c.Close()

	// Initial status push.
	env := <-c.Messages()
	assert.Equal(t, TypeConnectionStatus, env.Type)

	h.Announce(TypeSystemUnlocked, SystemUnlockedData{RequestID: "r1", Resolution: "approval"})
	select {
	case env = <-c.Messages():
		require.Equal(t, TypeSystemUnlocked, env.Type)
		var data SystemUnlockedData
		require.NoError(t, env.DecodeData(&data))
		assert.Equal(t, "approval", data.Resolution)
	case <-ctx.Done():
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestClientAuthenticate(t *testing.T) {
	ctrl := &fakeController{status: ConnectionStatusData{Status: "active"}}
	h := startHub(t, ctrl, mustHash(t, "1234"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := NewClient(h.Addr())
	require.NoError(t, c.Start(ctx))
	defer c.Close()

	token, err := c.Authenticate(ctx, "overlay", "1234")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestClientAuthenticateBadPIN(t *testing.T) {
	ctrl := &fakeController{status: ConnectionStatusData{Status: "active"}}
	h := startHub(t, ctrl, mustHash(t, "1234"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := NewClient(h.Addr())
	require.NoError(t, c.Start(ctx))
	defer c.Close()

	_, err := c.Authenticate(ctx, "overlay", "0000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PIN")
}
