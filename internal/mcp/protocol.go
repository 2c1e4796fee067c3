package mcp

import (
	"encoding/json"
	"errors"

	"memorybank/internal/apperr"

	"github.com/mark3labs/mcp-go/mcp"
)

// Methods accepted on POST /messages.
const (
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
)

// Event types written to the stream.
const (
	EventEndpoint        = "endpoint"
	EventResponse        = "response"
	EventTypeError       = "error"
	EventDocumentChanged = "document_changed"
)

// Error codes beyond the JSON-RPC ones mcp-go defines.
const (
	CodeTimeout  = -32000
	CodeSecurity = -32001
	CodeNotFound = -32002
)

// Message is one inbound command.
type Message struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     json.RawMessage `json:"id,omitempty"`
}

// Event is one outbound stream event.
type Event struct {
	Type   string          `json:"type"`
	ID     json.RawMessage `json:"id,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  *EventError     `json:"error,omitempty"`
}

type EventError struct {
	Code    int         `json:"code"`
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
	Details []string    `json:"details,omitempty"`
}

// errMethodNotFound marks protocol errors for an unknown method, which carry
// their own code.
var errMethodNotFound = errors.New("method not found")

func methodNotFound(method string) error {
	return &apperr.Error{
		Kind:    apperr.KindProtocol,
		Op:      "dispatch",
		Message: "method not found: " + method,
		Err:     errMethodNotFound,
	}
}

// errParse marks protocol errors for a body that is not JSON.
var errParse = errors.New("parse error")

func parseError(msg string) error {
	return &apperr.Error{Kind: apperr.KindProtocol, Op: "decode", Message: msg, Err: errParse}
}

// codeFor maps an error onto its wire code.
func codeFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return mcp.INVALID_PARAMS
	case apperr.KindSecurity:
		return CodeSecurity
	case apperr.KindNotFound:
		return CodeNotFound
	case apperr.KindTimeout:
		return CodeTimeout
	case apperr.KindProtocol:
		switch {
		case errors.Is(err, errMethodNotFound):
			return mcp.METHOD_NOT_FOUND
		case errors.Is(err, errParse):
			return mcp.PARSE_ERROR
		}
		return mcp.INVALID_REQUEST
	default:
		return mcp.INTERNAL_ERROR
	}
}

func newEventError(err error) *EventError {
	return &EventError{
		Code:    codeFor(err),
		Kind:    apperr.KindOf(err),
		Message: apperr.ClientMessage(err),
		Details: apperr.ClientDetails(err),
	}
}

func responseEvent(id json.RawMessage, result any) Event {
	return Event{Type: EventResponse, ID: id, Result: result}
}

func errorEvent(id json.RawMessage, err error) Event {
	return Event{Type: EventTypeError, ID: id, Error: newEventError(err)}
}

// decodeParams unmarshals params into v. Absent params decode as {}.
func decodeParams(op string, params json.RawMessage, v any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return apperr.Validation(op, "invalid params")
	}
	return nil
}
