package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"zecu/internal/types"
)

// maxRequestBodySize is the maximum allowed size of a request body (1 MB).
const maxRequestBodySize = 1 << 20 // 1 MB

// exposeErrorDetails controls whether underlying error text is attached to
// error responses. Off by default; enabled once at startup in non-production
// environments.
var exposeErrorDetails atomic.Bool

// EnableErrorDetails turns on underlying-error exposure in API error
// responses. Production never calls this.
func EnableErrorDetails() {
	exposeErrorDetails.Store(true)
}

// APIErrorResponse is the standard envelope for all error API responses.
// Every error carries success=false, a human-readable message, a stable
// machine code, and correlation fields.
type APIErrorResponse struct {
	Success   bool           `json:"success"`
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
	RequestID string         `json:"request_id"`
}

// JSON writes a JSON response with the given status code and data.
// If marshalling fails, it falls back to a 500 error response.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fallback := newErrorResponse(r, types.ErrCodeInternalUnexpected, "failed to marshal response", nil)
		// Best-effort write; if this also fails, there is nothing more we can do.
		_ = json.NewEncoder(w).Encode(fallback)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Success writes a success envelope: the given fields plus success=true.
func Success(w http.ResponseWriter, r *http.Request, status int, fields map[string]any) {
	payload := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["success"] = true
	JSON(w, r, status, payload)
}

// Error writes an error response to the client. It inspects the error chain:
//   - If the error is (or wraps) a *types.AppError, its Code determines the
//     HTTP status and the structured response fields.
//   - Any other error becomes a 500 with code internal_unexpected_error.
//
// Underlying error text is only attached (under details.cause) when error
// details are enabled, so production responses never leak internals.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		details := appErr.Details
		if exposeErrorDetails.Load() && appErr.Err != nil {
			details = cloneDetails(details)
			details["cause"] = appErr.Err.Error()
		}
		JSON(w, r, appErr.HTTPStatus(), newErrorResponse(r, appErr.Code, appErr.Message, details))
		return
	}

	// Generic error: return 500 without leaking internal details.
	var details map[string]any
	if exposeErrorDetails.Load() && err != nil {
		details = map[string]any{"cause": err.Error()}
	}
	JSON(w, r, http.StatusInternalServerError,
		newErrorResponse(r, types.ErrCodeInternalUnexpected, "an unexpected error occurred", details))
}

// newErrorResponse assembles the error envelope with correlation fields.
func newErrorResponse(r *http.Request, code types.ErrorCode, message string, details map[string]any) APIErrorResponse {
	return APIErrorResponse{
		Success:   false,
		Error:     message,
		Code:      string(code),
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: types.GetRequestID(r.Context()),
	}
}

// cloneDetails copies a details map so the shared AppError is not mutated.
func cloneDetails(details map[string]any) map[string]any {
	out := make(map[string]any, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	return out
}

// DecodeJSON reads the request body into dst, enforcing:
//   - A maximum body size of 1 MB to prevent abuse.
//   - DisallowUnknownFields to enforce strict JSON contracts.
//
// It returns a *types.AppError with code validation_invalid_json (400) on:
//   - JSON syntax errors
//   - Unknown fields in the request body
//   - Body exceeding the size limit
//   - Empty body
//   - Body containing more than one JSON value
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	// Pass w to MaxBytesReader so that further writes to the body after the
	// limit is hit trigger the appropriate error.
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return mapDecodeError(err)
	}

	// Ensure the body contains only a single JSON value.
	if dec.More() {
		return types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"request body must contain a single JSON object",
			nil,
		)
	}

	return nil
}

// mapDecodeError translates a json.Decoder error into a structured AppError.
func mapDecodeError(err error) *types.AppError {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"request body must not exceed 1MB",
			err,
		)
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"malformed JSON in request body",
			err,
		)
	}

	var unmarshalTypeErr *json.UnmarshalTypeError
	if errors.As(err, &unmarshalTypeErr) {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidJSON,
			"invalid value for field",
			err,
			map[string]any{
				"field":    unmarshalTypeErr.Field,
				"expected": unmarshalTypeErr.Type.String(),
			},
		)
	}

	if strings.HasPrefix(err.Error(), "json: unknown field") {
		return types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"unknown field in request body: "+strings.TrimPrefix(err.Error(), "json: unknown field "),
			err,
		)
	}

	if errors.Is(err, io.EOF) {
		return types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"request body must not be empty",
			err,
		)
	}

	return types.NewAppError(
		types.ErrCodeValidationInvalidJSON,
		"invalid JSON in request body",
		err,
	)
}
