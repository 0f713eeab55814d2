package protocol

import "encoding/json"

// Version is reported in init params so peers can refuse mismatched builds.
const Version = "1.0"

// Message types.
const (
	// server -> client
	TypeInit         = "init"
	TypePlayerJoined = "playerJoined"
	TypePlayerMoved  = "playerMoved"
	TypePlayerLeft   = "playerLeft"
	TypeBlockRemoved = "blockRemoved"
	TypeBlockPlaced  = "blockPlaced"

	// client -> server
	TypeMove              = "move"
	TypeRemoveBlock       = "removeBlock"
	TypePlaceBlockRequest = "placeBlockRequest"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// IsClientType reports whether t may be sent by a client.
func IsClientType(t string) bool {
	switch t {
	case TypeMove, TypeRemoveBlock, TypePlaceBlockRequest:
		return true
	}
	return false
}
