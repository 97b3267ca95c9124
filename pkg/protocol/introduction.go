// Package protocol defines the JSON wire shapes exchanged on a relay's
// /introduction/{id} connection: flat, untyped-payload documents rather
// than a generic envelope wrapping an arbitrary inner type.
package protocol

import "encoding/json"

// Message types carried by the "type" field. The server does not act on
// this field; the join/leave arrays are what drive key-set updates and
// matching.
const (
	TypeJoin         = "Join"
	TypeLeave        = "Leave"
	TypeIntroduction = "Introduction"
)

// InboundMessage is any client -> server message on an introduction
// connection. Only Join and Leave are consumed; Type is informational.
// Missing arrays are treated as empty.
type InboundMessage struct {
	Type  string   `json:"type"`
	Join  []string `json:"join,omitempty"`
	Leave []string `json:"leave,omitempty"`
}

// Introduction is the server -> client message emitted by the matcher
// whenever two peers share at least one key. Id is the *other* peer;
// Keys is the non-empty set of keys shared with the recipient at the
// moment of emission.
type Introduction struct {
	Type string   `json:"type"`
	ID   string   `json:"id"`
	Keys []string `json:"keys"`
}

// NewIntroduction builds the server->client message naming the other peer
// and the keys shared with the recipient.
func NewIntroduction(otherID string, sharedKeys []string) Introduction {
	return Introduction{
		Type: TypeIntroduction,
		ID:   otherID,
		Keys: sharedKeys,
	}
}

// DecodeInbound parses a single introduction-connection message. A parse
// failure is a relayerr.ErrProtocol condition at the call site: the
// message is not valid JSON or does not fit InboundMessage's shape (for
// example a non-array "join"). Absent fields are not an error.
func DecodeInbound(raw []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return InboundMessage{}, err
	}
	return msg, nil
}

// Encode marshals any outbound message (currently only Introduction) to
// JSON for writing as a text frame.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
