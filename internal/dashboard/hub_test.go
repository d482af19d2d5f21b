package dashboard

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardiand/internal/judge"
)

type fakeController struct {
	mu       sync.Mutex
	approved []string
	denied   []string
	approver string
	status   ConnectionStatusData
	settings [][2]string
}

func (f *fakeController) Approve(requestID, approver string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approved = append(f.approved, requestID)
	f.approver = approver
	return nil
}

func (f *fakeController) Deny(requestID, approver string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied = append(f.denied, requestID)
	f.approver = approver
	return nil
}

func (f *fakeController) Status() ConnectionStatusData {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) UpdateSettings(ageGroup, strictness string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = append(f.settings, [2]string{ageGroup, strictness})
	return nil
}

func startHub(t *testing.T, ctrl Controller, pinHash string) *Hub {
	t.Helper()
	h := NewHub("127.0.0.1:0", NewAuth(pinHash), ctrl)
	require.NoError(t, h.Start())
	t.Cleanup(func() { h.Stop() })
	return h
}

func dial(t *testing.T, ctx context.Context, h *Hub) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+h.Addr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn) Envelope {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func writeEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn, typ MessageType, payload any) {
	t.Helper()
	env, err := NewEnvelope(typ, payload)
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func mustHash(t *testing.T, pin string) string {
	t.Helper()
	h, err := HashPIN(pin)
	require.NoError(t, err)
	return h
}

func TestHubSendsStatusOnConnect(t *testing.T) {
	ctrl := &fakeController{status: ConnectionStatusData{
		SessionID: "s1",
		Status:    "active",
		Locked:    true,
		Pending:   &PendingApproval{RequestID: "r1", Reasons: []string{"blocked"}},
		Profile:   judge.Profile{AgeGroup: judge.AgeElementary, Strictness: judge.StrictnessModerate},
	}}
	h := startHub(t, ctrl, mustHash(t, "1234"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, h)

	env := readEnvelope(t, ctx, conn)
	require.Equal(t, TypeConnectionStatus, env.Type)
	var status ConnectionStatusData
	require.NoError(t, env.DecodeData(&status))
	assert.True(t, status.Locked)
	require.NotNil(t, status.Pending, "pending approval must be re-announced")
	assert.Equal(t, "r1", status.Pending.RequestID)
}

func TestHubApprovalFlowRequiresAuth(t *testing.T) {
	ctrl := &fakeController{status: ConnectionStatusData{Status: "active"}}
	h := startHub(t, ctrl, mustHash(t, "1234"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, h)
	readEnvelope(t, ctx, conn) // initial status

	// Unauthenticated approval is rejected.
	writeEnvelope(t, ctx, conn, TypeApprovalResponse, ApprovalResponseData{RequestID: "r1", Approved: true})
	env := readEnvelope(t, ctx, conn)
	assert.Equal(t, TypeError, env.Type)
	assert.Empty(t, ctrl.approved)

	// Wrong PIN is rejected.
	writeEnvelope(t, ctx, conn, TypeHello, HelloData{ClientName: "web", PIN: "9999"})
	env = readEnvelope(t, ctx, conn)
	assert.Equal(t, TypeError, env.Type)

	// Correct PIN yields a token that authorizes the approval.
	writeEnvelope(t, ctx, conn, TypeHello, HelloData{ClientName: "web", PIN: "1234"})
	env = readEnvelope(t, ctx, conn)
	require.Equal(t, TypeHelloAck, env.Type)
	var ack HelloAckData
	require.NoError(t, env.DecodeData(&ack))
	require.NotEmpty(t, ack.Token)

	writeEnvelope(t, ctx, conn, TypeApprovalResponse, ApprovalResponseData{
		Token: ack.Token, RequestID: "r1", Approved: true, ApproverID: "parent-phone",
	})
	assert.Eventually(t, func() bool {
		ctrl.mu.Lock()
		defer ctrl.mu.Unlock()
		return len(ctrl.approved) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "parent-phone", ctrl.approver)

	writeEnvelope(t, ctx, conn, TypeApprovalResponse, ApprovalResponseData{
		Token: ack.Token, RequestID: "r2", Approved: false,
	})
	assert.Eventually(t, func() bool {
		ctrl.mu.Lock()
		defer ctrl.mu.Unlock()
		return len(ctrl.denied) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubStatusRequestIsIdempotent(t *testing.T) {
	ctrl := &fakeController{status: ConnectionStatusData{Status: "active"}}
	h := startHub(t, ctrl, mustHash(t, "1234"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, h)
	readEnvelope(t, ctx, conn)

	for i := 0; i < 3; i++ {
		writeEnvelope(t, ctx, conn, TypeRequestStatus, nil)
		env := readEnvelope(t, ctx, conn)
		assert.Equal(t, TypeConnectionStatus, env.Type)
	}
}

func TestHubBroadcastReachesAllClients(t *testing.T) {
	ctrl := &fakeController{status: ConnectionStatusData{Status: "active"}}
	h := startHub(t, ctrl, mustHash(t, "1234"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn1 := dial(t, ctx, h)
	conn2 := dial(t, ctx, h)
	readEnvelope(t, ctx, conn1)
	readEnvelope(t, ctx, conn2)

	h.Announce(TypeSystemLocked, SystemLockedData{
		Request: PendingApproval{RequestID: "r1", Reasons: []string{"blocked"}},
	})

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		env := readEnvelope(t, ctx, conn)
		require.Equal(t, TypeSystemLocked, env.Type)
		var locked SystemLockedData
		require.NoError(t, env.DecodeData(&locked))
		assert.Equal(t, "r1", locked.Request.RequestID)
	}
}

func TestHubHeartbeat(t *testing.T) {
	ctrl := &fakeController{status: ConnectionStatusData{Status: "active"}}
	h := startHub(t, ctrl, mustHash(t, "1234"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, h)
	readEnvelope(t, ctx, conn)

	writeEnvelope(t, ctx, conn, TypeHeartbeat, nil)
	env := readEnvelope(t, ctx, conn)
	assert.Equal(t, TypeHeartbeat, env.Type)
}

func TestAuthTokens(t *testing.T) {
	a := NewAuth(mustHash(t, "4321"))

	_, err := a.Authenticate("web", "wrong")
	assert.ErrorIs(t, err, ErrBadPIN)

	token, err := a.Authenticate("web", "4321")
	require.NoError(t, err)
	name, err := a.Check(token)
	require.NoError(t, err)
	assert.Equal(t, "web", name)

	a.Revoke(token)
	_, err = a.Check(token)
	assert.ErrorIs(t, err, ErrBadToken)

	// No configured PIN disables privileged access entirely.
	open := NewAuth("")
	_, err = open.Authenticate("web", "anything")
	assert.ErrorIs(t, err, ErrNoPINSet)
}
