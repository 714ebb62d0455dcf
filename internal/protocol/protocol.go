// Package protocol defines the newline-delimited JSON wire format spoken
// between the controller and a worker process. Requests flow over the
// worker's stdin, responses and asynchronous events share its stdout.
package protocol

import (
	"encoding/json"

	"facefinder/internal/model"
)

// Outbound envelope types.
const (
	TypeResponse = "response"
	TypeEvent    = "event"
	TypeReady    = "ready"
	TypeError    = "error"
)

// Request is one inbound command line. ID, when present, correlates the
// eventual response; commands without an ID are fire-and-forget.
type Request struct {
	Type string          `json:"type"`
	ID   *int            `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Envelope is one outbound line. Exactly one of Response, Event or Message
// is populated depending on Type. Events never carry an ID and may be
// interleaved with responses at any point.
type Envelope struct {
	Type     string          `json:"type"`
	ID       *int            `json:"id,omitempty"`
	Message  string          `json:"message,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
	Event    *model.Event    `json:"event,omitempty"`
}

// Result is the generic response body, mirroring the status/message shape
// the worker commands answer with.
type Result map[string]interface{}

// Success builds a success result with a human-readable message.
func Success(message string) Result {
	return Result{"status": "success", "message": message}
}

// Failure builds an error result with a message passed through verbatim.
func Failure(message string) Result {
	return Result{"status": "error", "message": message}
}
