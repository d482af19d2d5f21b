package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"guardiand/internal/logging"
)

const writeTimeout = 5 * time.Second

// Controller is the daemon surface the hub drives on inbound messages.
type Controller interface {
	Approve(requestID, approver string) error
	Deny(requestID, approver string) error
	Status() ConnectionStatusData
	UpdateSettings(ageGroup, strictness string) error
}

type hubClient struct {
	conn *websocket.Conn
	id   string
}

// Hub accepts dashboard connections and fans daemon events out to all
// of them. Inbound privileged messages require a token from HELLO.
type Hub struct {
	addr    string
	auth    *Auth
	ctrl    Controller
	server  *http.Server
	clients sync.Map
	nextID  atomic.Int64
	log     *logging.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewHub builds a hub serving on addr.
func NewHub(addr string, auth *Auth, ctrl Controller) *Hub {
	return &Hub{
		addr: addr,
		auth: auth,
		ctrl: ctrl,
		log:  logging.Default().WithComponent("dashboard"),
	}
}

// Start begins listening. It returns once the listener is bound so
// callers can fail fast on a busy port.
func (h *Hub) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.addr, err)
	}
	h.mu.Lock()
	h.listener = ln
	h.server = &http.Server{Handler: mux}
	h.mu.Unlock()

	go func() {
		h.log.Info("dashboard listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("dashboard server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, useful when addr used port 0.
func (h *Hub) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return h.addr
	}
	return h.listener.Addr().String()
}

// Stop shuts the server down and drops all clients.
func (h *Hub) Stop() error {
	h.mu.Lock()
	srv := h.server
	h.mu.Unlock()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			h.log.Warn("dashboard shutdown error", "error", err)
		}
	}
	h.clients.Range(func(_, value any) bool {
		value.(*hubClient).conn.CloseNow()
		return true
	})
	return nil
}

// Broadcast sends an envelope to every connected client.
func (h *Hub) Broadcast(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error("encode broadcast failed", "type", env.Type, "error", err)
		return
	}
	h.clients.Range(func(_, value any) bool {
		c := value.(*hubClient)
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
			h.log.Debug("broadcast write failed", "client", c.id, "error", err)
		}
		cancel()
		return true
	})
}

// Announce wraps a payload and broadcasts it.
func (h *Hub) Announce(t MessageType, payload any) {
	env, err := NewEnvelope(t, payload)
	if err != nil {
		h.log.Error("encode announcement failed", "type", t, "error", err)
		return
	}
	h.Broadcast(env)
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn("websocket accept failed", "error", err)
		return
	}

	id := fmt.Sprintf("dash-%d", h.nextID.Add(1))
	client := &hubClient{conn: conn, id: id}
	h.clients.Store(id, client)
	h.log.Info("dashboard client connected", "client", id)

	defer func() {
		h.clients.Delete(id)
		conn.CloseNow()
		h.log.Info("dashboard client disconnected", "client", id)
	}()

	// A fresh client immediately learns the current state, including
	// any pending approval request.
	h.sendStatus(r.Context(), client)

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.sendError(r.Context(), client, "malformed envelope")
			continue
		}
		h.handleInbound(r.Context(), client, env)
	}
}

func (h *Hub) handleInbound(ctx context.Context, c *hubClient, env Envelope) {
	switch env.Type {
	case TypeHello:
		var hello HelloData
		if err := env.DecodeData(&hello); err != nil {
			h.sendError(ctx, c, err.Error())
			return
		}
		token, err := h.auth.Authenticate(hello.ClientName, hello.PIN)
		if err != nil {
			h.log.Warn("dashboard auth failed", "client", c.id, "error", err)
			h.sendError(ctx, c, err.Error())
			return
		}
		h.send(ctx, c, TypeHelloAck, HelloAckData{Token: token})

	case TypeApprovalResponse:
		var resp ApprovalResponseData
		if err := env.DecodeData(&resp); err != nil {
			h.sendError(ctx, c, err.Error())
			return
		}
		approver, err := h.auth.Check(resp.Token)
		if err != nil {
			h.sendError(ctx, c, err.Error())
			return
		}
		if resp.ApproverID != "" {
			approver = resp.ApproverID
		}
		if resp.Approved {
			err = h.ctrl.Approve(resp.RequestID, approver)
		} else {
			err = h.ctrl.Deny(resp.RequestID, approver)
		}
		if err != nil {
			h.sendError(ctx, c, err.Error())
		}

	case TypeSettingsUpdate:
		var upd SettingsUpdateData
		if err := env.DecodeData(&upd); err != nil {
			h.sendError(ctx, c, err.Error())
			return
		}
		if _, err := h.auth.Check(upd.Token); err != nil {
			h.sendError(ctx, c, err.Error())
			return
		}
		if err := h.ctrl.UpdateSettings(upd.AgeGroup, upd.Strictness); err != nil {
			h.sendError(ctx, c, err.Error())
			return
		}
		h.sendStatus(ctx, c)

	case TypeRequestStatus:
		h.sendStatus(ctx, c)

	case TypeHeartbeat:
		h.send(ctx, c, TypeHeartbeat, nil)

	default:
		h.sendError(ctx, c, fmt.Sprintf("unsupported message type %q", env.Type))
	}
}

func (h *Hub) sendStatus(ctx context.Context, c *hubClient) {
	h.send(ctx, c, TypeConnectionStatus, h.ctrl.Status())
}

func (h *Hub) sendError(ctx context.Context, c *hubClient, msg string) {
	h.send(ctx, c, TypeError, ErrorData{Message: msg})
}

func (h *Hub) send(ctx context.Context, c *hubClient, t MessageType, payload any) {
	env, err := NewEnvelope(t, payload)
	if err != nil {
		h.log.Error("encode reply failed", "type", t, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error("encode reply failed", "type", t, "error", err)
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(wctx, websocket.MessageText, data); err != nil {
		h.log.Debug("reply write failed", "client", c.id, "error", err)
	}
}
