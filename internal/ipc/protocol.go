// Package ipc is the local control plane between the guardiand daemon
// and guardianctl: a request/response protocol over a unix socket with
// a fixed binary header and JSON payloads.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"guardiand/internal/judge"
	"guardiand/internal/ledger"
)

const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x47495043 // "GIPC"

	// MaxPayload bounds a frame; anything larger is a protocol error.
	MaxPayload = 4 << 20
)

// MessageType identifies an IPC frame.
type MessageType uint16

const (
	// Control.
	MsgPing  MessageType = 0x0001
	MsgPong  MessageType = 0x0002
	MsgError MessageType = 0x0003

	// Status and history.
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101
	MsgRecentRequest  MessageType = 0x0102
	MsgRecentResponse MessageType = 0x0103

	// Lock control.
	MsgApprove     MessageType = 0x0200
	MsgApproveResp MessageType = 0x0201
	MsgDeny        MessageType = 0x0202
	MsgDenyResp    MessageType = 0x0203
	MsgUnlock      MessageType = 0x0204
	MsgUnlockResp  MessageType = 0x0205

	// Policy and pipeline control.
	MsgReloadRules     MessageType = 0x0300
	MsgReloadRulesResp MessageType = 0x0301
	MsgCheckText       MessageType = 0x0302
	MsgCheckTextResp   MessageType = 0x0303
	MsgPause           MessageType = 0x0304
	MsgPauseResp       MessageType = 0x0305
	MsgResume          MessageType = 0x0306
	MsgResumeResp      MessageType = 0x0307
)

// HeaderSize is the fixed frame header length.
const HeaderSize = 12

// Header is the fixed-size frame header.
type Header struct {
	Magic   uint32
	Version uint8
	Type    MessageType
	Length  uint32
}

// Write encodes the header.
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader decodes and validates a header.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	h := &Header{
		Magic:   binary.BigEndian.Uint32(buf[0:4]),
		Version: buf[4],
		Type:    MessageType(binary.BigEndian.Uint16(buf[6:8])),
		Length:  binary.BigEndian.Uint32(buf[8:12]),
	}
	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic: %#x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %d", h.Version)
	}
	if h.Length > MaxPayload {
		return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
	}
	return h, nil
}

// Message is one frame.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage builds a frame with an encoded JSON payload. A nil
// payload produces an empty frame.
func NewMessage(t MessageType, payload any) (*Message, error) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}
	return &Message{
		Header: Header{
			Magic:   ProtocolMagic,
			Version: ProtocolVersion,
			Type:    t,
			Length:  uint32(len(data)),
		},
		Payload: data,
	}, nil
}

// Write writes the frame.
func (m *Message) Write(w io.Writer) error {
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		if _, err := w.Write(m.Payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadMessage reads one frame.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	m := &Message{Header: *h}
	if h.Length > 0 {
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
	}
	return m, nil
}

// Decode unmarshals the frame payload.
func (m *Message) Decode(out any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("frame %#x has no payload", uint16(m.Header.Type))
	}
	return json.Unmarshal(m.Payload, out)
}

// ErrorPayload reports a failed request.
type ErrorPayload struct {
	Message string `json:"message"`
}

// StatusPayload is the daemon status snapshot.
type StatusPayload struct {
	SessionID  string         `json:"session_id"`
	Status     string         `json:"status"`
	Locked     bool           `json:"locked"`
	RequestID  string         `json:"request_id,omitempty"`
	Profile    judge.Profile  `json:"profile"`
	Degraded   bool           `json:"degraded"`
	Summary    ledger.Summary `json:"summary"`
	StartedAt  time.Time      `json:"started_at"`
	RulesPath  string         `json:"rules_path,omitempty"`
	RuleCount  int            `json:"rule_count"`
	CacheSize  int            `json:"cache_size"`
	DroppedCap uint64         `json:"dropped_captures"`
}

// RecentRequestPayload asks for the tail of the ledger.
type RecentRequestPayload struct {
	Limit int `json:"limit"`
}

// RecentResponsePayload carries ledger entries.
type RecentResponsePayload struct {
	Entries []ledger.Entry `json:"entries"`
}

// ResolvePayload approves or denies a pending request.
type ResolvePayload struct {
	RequestID string `json:"request_id"`
	Approver  string `json:"approver"`
}

// UnlockPayload is the authenticated manual override.
type UnlockPayload struct {
	PIN    string `json:"pin"`
	Source string `json:"source"`
}

// CheckTextPayload asks for an offline judgment of one text.
type CheckTextPayload struct {
	Text string `json:"text"`
}

// CheckTextResponsePayload returns verdict and action without feeding
// the ledger or lock.
type CheckTextResponsePayload struct {
	Verdict judge.Verdict `json:"verdict"`
	Result  judge.Result  `json:"result"`
}

// ReloadRulesResponsePayload reports the reloaded rule count.
type ReloadRulesResponsePayload struct {
	RuleCount int `json:"rule_count"`
}

// AckPayload is a generic success reply.
type AckPayload struct {
	OK bool `json:"ok"`
}
