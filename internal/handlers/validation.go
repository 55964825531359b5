package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Error codes returned in API error bodies
const (
	CodeMissingDeviceID  = "MISSING_DEVICE_ID"
	CodeInvalidDeviceID  = "INVALID_DEVICE_ID"
	CodeInvalidJSON      = "INVALID_JSON"
	CodeInvalidMaxAge    = "INVALID_MAX_AGE"
	CodeDeviceExists     = "DEVICE_EXISTS"
	CodeDeviceNotFound   = "DEVICE_NOT_FOUND"
	CodeInternalError    = "INTERNAL_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

const maxBodyBytes = 1 << 20

// APIError is the JSON body of every error response
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Code    string `json:"code"`
}

func (e *APIError) Error() string {
	return e.Message
}

func newAPIError(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

// parseAddDevice extracts the device id from a POST /devices body. An absent, null, empty,
// false or zero deviceId is missing; any other non-string or a blank string is invalid.
func parseAddDevice(body io.Reader) (string, *APIError) {
	var payload map[string]interface{}
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	if err := dec.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return "", newAPIError(http.StatusBadRequest, CodeMissingDeviceID, "deviceId is required")
		}
		return "", newAPIError(http.StatusBadRequest, CodeInvalidJSON, "request body must be a JSON object")
	}

	raw, ok := payload["deviceId"]
	if !ok || isMissing(raw) {
		return "", newAPIError(http.StatusBadRequest, CodeMissingDeviceID, "deviceId is required")
	}

	id, ok := raw.(string)
	if !ok || strings.TrimSpace(id) == "" {
		return "", newAPIError(http.StatusBadRequest, CodeInvalidDeviceID, "deviceId must be a non-empty string")
	}
	return strings.TrimSpace(id), nil
}

func isMissing(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case bool:
		return !v
	case string:
		return v == ""
	case float64:
		return v == 0
	default:
		return false
	}
}

// parseMaxAgeHours reads the maxAgeHours query parameter, falling back to def
func parseMaxAgeHours(r *http.Request, def int) (int, *APIError) {
	raw := strings.TrimSpace(r.URL.Query().Get("maxAgeHours"))
	if raw == "" {
		return def, nil
	}
	hours, err := strconv.Atoi(raw)
	if err != nil || hours < 0 {
		return 0, newAPIError(http.StatusBadRequest, CodeInvalidMaxAge, "maxAgeHours must be a non-negative integer")
	}
	return hours, nil
}
