package gateway

// WebSocket close codes used by the gateway. 1008 (policy violation) covers every authentication failure; 1011
// (internal error) covers server faults. Reasons are short fixed strings the client can match on.
const (
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

const (
	ReasonUnauthorized       = "Unauthorized"
	ReasonAuthRequired       = "Authentication required"
	ReasonInvalidAuthPayload = "Invalid authentication payload"
	ReasonInternal           = "Internal error"
)
