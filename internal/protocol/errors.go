package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Environment lifecycle.
	ErrNotStarted     = "E_NOT_STARTED"
	ErrAlreadyStarted = "E_ALREADY_STARTED"
	ErrRenderDisabled = "E_RENDER_DISABLED"

	// State protocol.
	ErrCorruptedState = "E_CORRUPTED_STATE"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrNotStarted:      {},
	ErrAlreadyStarted:  {},
	ErrRenderDisabled:  {},
	ErrCorruptedState:  {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
