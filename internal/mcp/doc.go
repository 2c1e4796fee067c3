// Package mcp implements the memory bank protocol server.
//
// Clients open a long-lived event stream with GET /sse. The first event on
// the stream is "endpoint", whose data is the URL the client posts commands
// to (/messages?sessionId=<id>). Every POST is answered at once with an
// HTTP acknowledgement; the result or error is delivered later on the
// client's stream as a JSON event correlated by the message id:
//
//	{"type":"response","id":7,"result":{...}}
//	{"type":"error","id":7,"error":{"code":-32002,"kind":"NotFoundError","message":"..."}}
//
// Document changes, whether made by a client or by an external edit, are
// broadcast to every stream as "document_changed" events.
//
// # Methods
//
// The method table is closed:
//   - resources/list: the six memory bank documents in canonical order
//   - resources/read: one document by memory-bank://<key> URI
//   - tools/list: the tool definitions
//   - tools/call: get_status, update_document, export_snapshot, validate_integrity
//
// Any other method yields a method-not-found error event. tools/call
// get_status is answered synchronously in the HTTP response and needs no
// stream, like GET /health.
//
// # Stdio
//
// The same resources and tools are served over stdin/stdout using the
// mcp-go library (github.com/mark3labs/mcp-go) for clients that start the
// server as a subprocess.
//
// # Errors
//
// Handlers return *apperr.Error values. The dispatcher converts every error,
// including panics, into an error event carrying only the client-safe
// message; internal causes go to the server log.
package mcp
