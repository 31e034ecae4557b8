// Package respond centralizes JSON response writing for all handlers.
package respond

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSONObject marshals v and writes it with the given status code.
func WriteJSONObject(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a uniform error envelope with a stable machine code.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSONObject(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}
