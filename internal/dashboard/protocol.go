// Package dashboard is the realtime parent-dashboard surface: a
// WebSocket hub on the daemon side and a reconnecting client used by
// the overlay and CLI.
package dashboard

import (
	"encoding/json"
	"fmt"
	"time"

	"guardiand/internal/judge"
	"guardiand/internal/ledger"
)

// MessageType tags a dashboard envelope.
type MessageType string

// Outbound (daemon to dashboard) message types.
const (
	TypeSystemLocked     MessageType = "SYSTEM_LOCKED"
	TypeSystemUnlocked   MessageType = "SYSTEM_UNLOCKED"
	TypeApprovalRequest  MessageType = "APPROVAL_REQUEST"
	TypeActivityUpdate   MessageType = "ACTIVITY_UPDATE"
	TypeConnectionStatus MessageType = "CONNECTION_STATUS"
	TypeHelloAck         MessageType = "HELLO_ACK"
	TypeError            MessageType = "ERROR"
)

// Inbound (dashboard to daemon) message types.
const (
	TypeHello            MessageType = "HELLO"
	TypeApprovalResponse MessageType = "APPROVAL_RESPONSE"
	TypeSettingsUpdate   MessageType = "SETTINGS_UPDATE"
	TypeRequestStatus    MessageType = "REQUEST_SYSTEM_STATUS"
	TypeHeartbeat        MessageType = "HEARTBEAT"
)

// Envelope is the wire frame for every dashboard message.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope wraps a payload.
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	env := Envelope{Type: t, Timestamp: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Data = data
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into out.
func (e Envelope) DecodeData(out any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s envelope has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// PendingApproval describes an open approval request as shown to the
// dashboard.
type PendingApproval struct {
	RequestID  string    `json:"request_id"`
	Reasons    []string  `json:"reasons"`
	Confidence float64   `json:"confidence"`
	Keywords   []string  `json:"keywords,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	TimeoutAt  time.Time `json:"timeout_at"`
}

// SystemLockedData announces a lock (or a coalesced re-trigger).
type SystemLockedData struct {
	Request   PendingApproval `json:"request"`
	Coalesced bool            `json:"coalesced,omitempty"`
}

// SystemUnlockedData announces a resolution.
type SystemUnlockedData struct {
	RequestID  string `json:"request_id"`
	Resolution string `json:"resolution"`
	Approver   string `json:"approver,omitempty"`
}

// ActivityUpdateData carries the rolling session summary.
type ActivityUpdateData struct {
	Summary ledger.Summary `json:"summary"`
}

// ConnectionStatusData is the full system snapshot, sent on connect and
// in answer to REQUEST_SYSTEM_STATUS. Re-sending it is idempotent.
type ConnectionStatusData struct {
	SessionID string           `json:"session_id"`
	Status    string           `json:"status"`
	Locked    bool             `json:"locked"`
	Pending   *PendingApproval `json:"pending,omitempty"`
	Profile   judge.Profile    `json:"profile"`
	Degraded  bool             `json:"degraded,omitempty"`
}

// HelloData authenticates a dashboard connection.
type HelloData struct {
	ClientName string `json:"client_name"`
	PIN        string `json:"pin"`
}

// HelloAckData returns the session token required on privileged
// messages.
type HelloAckData struct {
	Token string `json:"token"`
}

// ApprovalResponseData resolves a pending approval request.
type ApprovalResponseData struct {
	Token      string `json:"token"`
	RequestID  string `json:"request_id"`
	Approved   bool   `json:"approved"`
	ApproverID string `json:"approver_id"`
}

// SettingsUpdateData changes the live profile.
type SettingsUpdateData struct {
	Token      string `json:"token"`
	AgeGroup   string `json:"age_group,omitempty"`
	Strictness string `json:"strictness,omitempty"`
}

// ErrorData reports a rejected inbound message.
type ErrorData struct {
	Message string `json:"message"`
}
