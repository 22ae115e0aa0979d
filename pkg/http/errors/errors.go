package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the error envelope shared by HTTP and WebSocket replies.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// StatusFor maps an error code to its HTTP status. Unknown codes are 500.
func StatusFor(code string) int {
	switch code {
	case ErrCodeUnauthorized, ErrCodeInvalidToken, ErrCodeTokenExpired, ErrCodeAuthenticationRequired:
		return http.StatusUnauthorized
	case ErrCodeInvalidRequest, ErrCodeValidationFailed, ErrCodeInvalidPayload, ErrCodeUnknownMessageType:
		return http.StatusBadRequest
	case ErrCodeRoomNotFound:
		return http.StatusNotFound
	case ErrCodeNotHost, ErrCodeNotInRoom, ErrCodeEliminated:
		return http.StatusForbidden
	case ErrCodeRoomFull, ErrCodeRoomClosed, ErrCodeAlreadyJoined, ErrCodeInvalidPhase,
		ErrCodeNothingSelected, ErrCodeHintsUnavailable, ErrCodeHintRejected, ErrCodeSessionClosed:
		return http.StatusConflict
	case ErrCodeContentError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes a standardized error response to the HTTP response writer
func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// RespondCode writes an error response with the status StatusFor picks.
func RespondCode(w http.ResponseWriter, code, message string) {
	RespondError(w, StatusFor(code), code, message)
}

// RespondValidationError writes a validation error response with field information
func RespondValidationError(w http.ResponseWriter, code, message, field string) {
	RespondJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   code,
		Message: message,
		Field:   field,
	})
}

// RespondUnauthorized writes an unauthorized error response
func RespondUnauthorized(w http.ResponseWriter, code, message string) {
	RespondError(w, http.StatusUnauthorized, code, message)
}

// RespondBadRequest writes a bad request error response
func RespondBadRequest(w http.ResponseWriter, code, message string) {
	RespondError(w, http.StatusBadRequest, code, message)
}

// RespondMethodNotAllowed rejects a request made with the wrong verb.
func RespondMethodNotAllowed(w http.ResponseWriter) {
	RespondError(w, http.StatusMethodNotAllowed, ErrCodeInvalidRequest, "Method not allowed")
}

// RespondJSON writes data as a JSON response
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
