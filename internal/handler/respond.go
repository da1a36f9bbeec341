// internal/handler/respond.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	appErrors "github.com/mailroomhq/mailroom-backend/internal/errors"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteRawJSON writes pre-encoded JSON, used for idempotent replays so the
// cached body goes out byte-identical.
func WriteRawJSON(w http.ResponseWriter, status int, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(raw)
}

// WriteError maps service errors onto the public error envelope. Errors that
// carry no API code are internal.
func WriteError(w http.ResponseWriter, err error) {
	var coder appErrors.Coder
	if errors.As(err, &coder) {
		code := coder.Code()
		WriteJSON(w, statusForCode(code), errorEnvelope{Error: errorBody{
			Code:    code,
			Message: err.Error(),
		}})
		return
	}
	WriteJSON(w, http.StatusInternalServerError, errorEnvelope{Error: errorBody{
		Code:    "INTERNAL_SERVER_ERROR",
		Message: "something went wrong",
	}})
}

// WriteErrorCode writes an envelope for errors raised in the HTTP layer
// itself.
func WriteErrorCode(w http.ResponseWriter, code, message string) {
	WriteJSON(w, statusForCode(code), errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
	}})
}

func statusForCode(code string) int {
	switch code {
	case "NOT_FOUND":
		return http.StatusNotFound
	case "UNAUTHORIZED":
		return http.StatusUnauthorized
	case "INVALID_STATE", "CONFLICT", "NOT_UNIQUE":
		return http.StatusConflict
	case "BAD_REQUEST", "MISSING_CONTENT", "INVALID_CONTENT",
		"MISSING_CONTACT_BOOK", "UNVERIFIED_DOMAIN":
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
