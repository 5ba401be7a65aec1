package runloop

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingAPIKey is returned when the client is created without credentials
	ErrMissingAPIKey = errors.New("runloop API key is required")
)

// APIError is a non-2xx response from the Runloop API
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("runloop API error (%d): %s", e.StatusCode, e.Message)
}

// newAPIError builds an APIError, preferring the message from a JSON error body
func newAPIError(status int, body []byte) *APIError {
	msg := http.StatusText(status)

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Message != "":
			msg = payload.Message
		case payload.Error != "":
			msg = payload.Error
		}
	} else if len(body) > 0 {
		msg = string(body)
	}

	return &APIError{StatusCode: status, Message: msg, Body: body}
}
