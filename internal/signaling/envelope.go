// Package signaling relays WebRTC offers and answers between peers that only
// know each other's identity.
package signaling

import "errors"

type MessageType string

const (
	TypeOpen   MessageType = "open"
	TypeSignal MessageType = "signal"
	TypeError  MessageType = "error"
)

const (
	CodePeerUnavailable = "peer-unavailable"
	CodeIDTaken         = "id-taken"
	CodeInvalidID       = "invalid-id"
	CodeBadRequest      = "bad-request"
)

var (
	ErrIDTaken   = errors.New("identity already registered")
	ErrInvalidID = errors.New("identity rejected by broker")
)

// Envelope is the JSON message exchanged with the broker. Src is filled in
// by the broker; clients only set Dst.
type Envelope struct {
	Type    MessageType `json:"type"`
	Src     string      `json:"src,omitempty"`
	Dst     string      `json:"dst,omitempty"`
	Payload []byte      `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}
