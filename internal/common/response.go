package common

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type dataEnvelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// ErrBadRequest is reported for bodies that are not a single JSON object
// matching the request type.
var ErrBadRequest = NewAppError("BAD_REQUEST", "invalid payload", http.StatusBadRequest, nil)

// JSON writes v as the response body.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Data wraps v in the {"data": ...} success envelope.
func Data(w http.ResponseWriter, status int, v any) {
	JSON(w, status, dataEnvelope{Data: v})
}

// JSONError renders {"error": {...}}.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, errorEnvelope{Error: ErrorBody{Code: code, Message: message, Details: details}})
}

// DecodeStrict decodes exactly one JSON object into v, rejecting unknown
// fields and trailing content.
func DecodeStrict(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &AppError{Code: ErrBadRequest.Code, Message: ErrBadRequest.Message, HTTPStatus: ErrBadRequest.HTTPStatus, Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return &AppError{Code: ErrBadRequest.Code, Message: ErrBadRequest.Message, HTTPStatus: ErrBadRequest.HTTPStatus, Err: errors.New("trailing data after JSON object")}
	}
	return nil
}
