package ipc

import (
	"fmt"
	"net"
	"time"
)

// Client is the guardianctl side of the control socket. It is not safe
// for concurrent use; the CLI issues one request at a time.
type Client struct {
	conn    net.Conn
	timeout time.Duration
}

// Dial connects to the daemon's control socket.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect %s (is guardiand running?): %w", path, err)
	}
	return &Client{conn: conn, timeout: 30 * time.Second}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// roundTrip sends one request and reads the reply, translating MsgError
// frames into Go errors.
func (c *Client) roundTrip(t MessageType, payload any) (*Message, error) {
	req, err := NewMessage(t, payload)
	if err != nil {
		return nil, err
	}
	c.conn.SetDeadline(time.Now().Add(c.timeout))
	if err := req.Write(c.conn); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	reply, err := ReadMessage(c.conn)
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	if reply.Header.Type == MsgError {
		var ep ErrorPayload
		if err := reply.Decode(&ep); err != nil {
			return nil, fmt.Errorf("request rejected")
		}
		return nil, fmt.Errorf("%s", ep.Message)
	}
	return reply, nil
}

// Ping checks daemon liveness.
func (c *Client) Ping() error {
	reply, err := c.roundTrip(MsgPing, nil)
	if err != nil {
		return err
	}
	if reply.Header.Type != MsgPong {
		return fmt.Errorf("unexpected reply type %#x", uint16(reply.Header.Type))
	}
	return nil
}

// Status returns the daemon status snapshot.
func (c *Client) Status() (*StatusPayload, error) {
	reply, err := c.roundTrip(MsgStatusRequest, nil)
	if err != nil {
		return nil, err
	}
	var status StatusPayload
	if err := reply.Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Recent returns the last n ledger entries.
func (c *Client) Recent(n int) (*RecentResponsePayload, error) {
	reply, err := c.roundTrip(MsgRecentRequest, RecentRequestPayload{Limit: n})
	if err != nil {
		return nil, err
	}
	var resp RecentResponsePayload
	if err := reply.Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Approve resolves a pending approval request positively.
func (c *Client) Approve(requestID, approver string) error {
	_, err := c.roundTrip(MsgApprove, ResolvePayload{RequestID: requestID, Approver: approver})
	return err
}

// Deny keeps the lock and resets its approval window.
func (c *Client) Deny(requestID, approver string) error {
	_, err := c.roundTrip(MsgDeny, ResolvePayload{RequestID: requestID, Approver: approver})
	return err
}

// Unlock performs the PIN-authenticated manual override.
func (c *Client) Unlock(pin, source string) error {
	_, err := c.roundTrip(MsgUnlock, UnlockPayload{PIN: pin, Source: source})
	return err
}

// ReloadRules re-reads the custom rules file.
func (c *Client) ReloadRules() (int, error) {
	reply, err := c.roundTrip(MsgReloadRules, nil)
	if err != nil {
		return 0, err
	}
	var resp ReloadRulesResponsePayload
	if err := reply.Decode(&resp); err != nil {
		return 0, err
	}
	return resp.RuleCount, nil
}

// CheckText judges a text without recording it.
func (c *Client) CheckText(text string) (*CheckTextResponsePayload, error) {
	reply, err := c.roundTrip(MsgCheckText, CheckTextPayload{Text: text})
	if err != nil {
		return nil, err
	}
	var resp CheckTextResponsePayload
	if err := reply.Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pause suspends monitoring.
func (c *Client) Pause() error {
	_, err := c.roundTrip(MsgPause, nil)
	return err
}

// Resume restarts monitoring after a pause.
func (c *Client) Resume() error {
	_, err := c.roundTrip(MsgResume, nil)
	return err
}
