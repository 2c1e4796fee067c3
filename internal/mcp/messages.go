package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"memorybank/internal/apperr"
	"memorybank/internal/memorybank"
	"memorybank/internal/session"
)

// ackResponse is the body of a successful POST /messages.
type ackResponse struct {
	Status string          `json:"status"`
	ID     json.RawMessage `json:"id,omitempty"`
}

func capacityError() error {
	return apperr.Protocol("session.connect", "connection limit reached, retry later")
}

// handleMessage acknowledges a command at once and delivers its result on
// the caller's stream. tools/call get_status is the exception: it is
// answered in the HTTP response and needs no stream.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.metrics.MessageHandled("", "rejected")
			writeJSON(w, http.StatusRequestEntityTooLarge,
				errorEvent(nil, apperr.Validation("decode", "message body too large")))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorEvent(nil, parseError("cannot read message body")))
		return
	}

	msg, err := decodeMessage(body)
	if err != nil {
		s.metrics.MessageHandled("", "malformed")
		s.logger.Warn("Rejected malformed message", "error", err)
		writeJSON(w, http.StatusBadRequest, errorEvent(msg.ID, err))
		return
	}

	if isSyncStatus(msg) {
		ev := s.execute(r.Context(), msg)
		writeJSON(w, http.StatusOK, ev)
		return
	}

	conn, ok := s.sessions.Get(r.URL.Query().Get("sessionId"))
	if !ok {
		s.metrics.MessageHandled(msg.Method, "no_session")
		writeJSON(w, http.StatusNotFound,
			errorEvent(msg.ID, apperr.NotFound("dispatch", "unknown or closed session")))
		return
	}
	conn.Touch()

	go s.dispatch(context.WithoutCancel(r.Context()), conn, msg)

	writeJSON(w, http.StatusOK, ackResponse{Status: "accepted", ID: msg.ID})
}

// decodeMessage parses body. The returned Message carries whatever id could
// be recovered, so even a rejected message can be correlated.
func decodeMessage(body []byte) (Message, error) {
	var msg Message
	if len(bytes.TrimSpace(body)) == 0 {
		return msg, parseError("empty message body")
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, parseError("message is not valid JSON")
	}
	if msg.Method == "" {
		return msg, apperr.Protocol("decode", "message has no method")
	}
	return msg, nil
}

func isSyncStatus(msg Message) bool {
	if msg.Method != MethodToolsCall {
		return false
	}
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		return false
	}
	return p.Name == ToolGetStatus
}

// dispatch runs msg and pushes the outcome to conn. A call that outlives the
// tool timeout is abandoned with a timeout event. Abandonment and a store
// commit are exclusive: the abandon callback and the commit claim race for
// the same AfterFunc, so a write either lands and is reported or is rolled
// back.
func (s *Server) dispatch(ctx context.Context, conn *session.Connection, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, s.toolTimeout)
	defer cancel()

	abandoned := make(chan struct{})
	stop := context.AfterFunc(ctx, func() { close(abandoned) })
	defer stop()
	ctx = memorybank.WithCommitClaim(ctx, stop)

	done := make(chan Event, 1)
	go func() { done <- s.execute(ctx, msg) }()

	var ev Event
	select {
	case ev = <-done:
	case <-abandoned:
		s.metrics.MessageHandled(msg.Method, "timeout")
		s.logger.Warn("Call abandoned", "method", msg.Method, "id", string(msg.ID), "timeout", s.toolTimeout)
		ev = errorEvent(msg.ID, apperr.Timeout("dispatch", fmt.Sprintf("no result within %s", s.toolTimeout)))
	}

	s.deliver(conn, ev)
}

// execute routes msg through the method table. Panics become internal
// errors; nothing a client sends can take the process down.
func (s *Server) execute(ctx context.Context, msg Message) (ev Event) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Handler panic", "method", msg.Method, "panic", r, "stack", string(debug.Stack()))
			ev = errorEvent(msg.ID, apperr.Internal("dispatch", "internal error", fmt.Errorf("panic: %v", r)))
		}
		outcome := "ok"
		if ev.Error != nil {
			outcome = string(ev.Error.Kind)
		}
		s.metrics.MessageHandled(msg.Method, outcome)
		s.logger.LogPerformance("dispatch "+msg.Method, start)
	}()

	result, err := s.route(ctx, msg)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal || apperr.KindOf(err) == apperr.KindIO {
			s.logger.Error("Call failed", "method", msg.Method, "error", err)
		} else {
			s.logger.Debug("Call rejected", "method", msg.Method, "error", err)
		}
		return errorEvent(msg.ID, err)
	}
	return responseEvent(msg.ID, result)
}

func (s *Server) route(ctx context.Context, msg Message) (any, error) {
	switch msg.Method {
	case MethodResourcesList:
		return resourceList{Resources: s.listResources()}, nil
	case MethodResourcesRead:
		var p struct {
			URI string `json:"uri"`
		}
		if err := decodeParams("resources.read", msg.Params, &p); err != nil {
			return nil, err
		}
		contents, err := s.readResource(p.URI)
		if err != nil {
			return nil, err
		}
		return resourceContents{Contents: contents}, nil
	case MethodToolsList:
		return toolList{Tools: toolDefinitions()}, nil
	case MethodToolsCall:
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := decodeParams("tools.call", msg.Params, &p); err != nil {
			return nil, err
		}
		return s.callTool(ctx, p.Name, p.Arguments)
	default:
		return nil, methodNotFound(msg.Method)
	}
}

func (s *Server) deliver(conn *session.Connection, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("Failed to encode event", "error", err)
		payload, _ = json.Marshal(errorEvent(ev.ID, apperr.Internal("encode", "internal error", err)))
	}
	if err := conn.Send(payload); err != nil {
		s.logger.Warn("Dropping connection after failed delivery", "id", conn.ID, "error", err)
		s.sessions.Disconnect(conn.ID)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
