package errors

// Error codes for standardized error responses
const (
	// Authentication errors
	ErrCodeUnauthorized           = "unauthorized"
	ErrCodeInvalidToken           = "invalid_token"
	ErrCodeTokenExpired           = "token_expired"
	ErrCodeAuthenticationRequired = "authentication_required"

	// Validation errors
	ErrCodeInvalidRequest   = "invalid_request"
	ErrCodeValidationFailed = "validation_failed"

	// Guests
	ErrCodeGuestCreationFailed = "guest_creation_failed"

	// Room errors
	ErrCodeRoomNotFound  = "room_not_found"
	ErrCodeRoomFull      = "room_full"
	ErrCodeRoomClosed    = "room_closed"
	ErrCodeAlreadyJoined = "already_joined"
	ErrCodeNotInRoom     = "not_in_room"
	ErrCodeNotHost       = "not_host"

	// Session errors
	ErrCodeInvalidPhase     = "invalid_phase"
	ErrCodeEliminated       = "eliminated"
	ErrCodeNothingSelected  = "nothing_selected"
	ErrCodeHintsUnavailable = "hints_unavailable"
	ErrCodeHintRejected     = "hint_rejected"
	ErrCodeContentError     = "content_error"
	ErrCodeSessionClosed    = "session_closed"

	// WebSocket errors
	ErrCodeInvalidPayload     = "invalid_payload"
	ErrCodeUnknownMessageType = "unknown_message_type"

	// Server errors
	ErrCodeInternalError = "internal_error"

	// Scoreboard errors
	ErrCodeScoreboardFetchFailed = "scoreboard_fetch_failed"
)
