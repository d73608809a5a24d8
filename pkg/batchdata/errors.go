package batchdata

import (
	"encoding/json"
	"fmt"
)

// APIError is a structured error response from the provider: the request
// reached BatchData and was answered with a non-success status or an
// unparseable body.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("batchdata: status %d: %s", e.StatusCode, e.Body)
}

// Message extracts the provider's error text from the body when present,
// falling back to the raw body.
func (e *APIError) Message() string {
	var parsed struct {
		Status struct {
			Text string `json:"text"`
		} `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(e.Body), &parsed); err == nil {
		if parsed.Status.Text != "" {
			return parsed.Status.Text
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return e.Body
}

// RequestError means no response was received: timeout, connection
// failure, or a broken read.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string {
	return "batchdata: no response: " + e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
