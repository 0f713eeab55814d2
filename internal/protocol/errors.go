package protocol

// Mutation reject reasons. These are outcomes, not failures: the server never
// sends them to the requester, but they show up in metrics and the audit log.
const (
	RejectAlreadyAbsent    = "E_ALREADY_ABSENT"
	RejectOccupied         = "E_OCCUPIED"
	RejectIntersectsPlayer = "E_INTERSECTS_PLAYER"

	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	// Connection closed because its outbound queue overflowed.
	ErrLagging = "E_LAGGING"
)

var knownCodes = map[string]struct{}{
	RejectAlreadyAbsent:    {},
	RejectOccupied:         {},
	RejectIntersectsPlayer: {},
	ErrProtoBadRequest:     {},
	ErrLagging:             {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
