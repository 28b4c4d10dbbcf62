package protocol

import (
	"bytes"

	"github.com/gorilla/websocket"
)

// Fixed control frames. These are compared and sent byte-for-byte.
const (
	Heartbeat = `{"type":"HEARTBEAT"}`
	Open      = `{"type":"OPEN"}`
	IDTaken   = `{"type":"ID-TAKEN","payload":{"msg":"ID is taken"}}`

	// Welcome is served from the root endpoint.
	Welcome = `{"name":"PeerJS Server","description":"A server side element to broker connections between PeerJS clients.","website":"https://peerjs.com/"}`
)

// Close codes and reasons used by the relay when it ends a connection.
const (
	CloseTakeover      = websocket.CloseNormalClosure
	CloseIDTaken       = websocket.ClosePolicyViolation
	CloseIDTakenReason = "ID is taken"
)

// Routing field names on application frames.
const (
	FieldDestination = "dst"
	FieldSource      = "src"
	FieldType        = "type"
	FieldPayload     = "payload"
)

// MessageType is the PeerJS `type` field.
type MessageType string

const (
	MessageTypeHeartbeat  MessageType = "HEARTBEAT"
	MessageTypeOpen       MessageType = "OPEN"
	MessageTypeIDTaken    MessageType = "ID-TAKEN"
	MessageTypeInvalidKey MessageType = "INVALID-KEY"
	MessageTypeError      MessageType = "ERROR"
	MessageTypeOffer      MessageType = "OFFER"
	MessageTypeAnswer     MessageType = "ANSWER"
	MessageTypeCandidate  MessageType = "CANDIDATE"
	MessageTypeLeave      MessageType = "LEAVE"
	MessageTypeExpire     MessageType = "EXPIRE"
)

var heartbeatBytes = []byte(Heartbeat)

// IsHeartbeat reports whether frame is the liveness ping. Only an exact byte
// match counts; the frame is never parsed.
func IsHeartbeat(frame []byte) bool {
	return bytes.Equal(frame, heartbeatBytes)
}
