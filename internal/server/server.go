// Package server speaks MCP over stdio: newline-delimited JSON-RPC 2.0
// requests on stdin, responses on stdout. The engine does the work; this
// package only frames, dispatches, and renders tool results.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/gudastudio/groksearch/internal/engine"
	"github.com/gudastudio/groksearch/internal/observe"
)

const protocolVersion = "2024-11-05"

type Server struct {
	eng     *engine.Engine
	obs     *observe.Observer
	name    string
	version string

	writeMu sync.Mutex
	out     io.Writer
}

func New(eng *engine.Engine, obs *observe.Observer, name, version string) *Server {
	return &Server{eng: eng, obs: obs, name: name, version: version}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Run reads requests from in until EOF or ctx cancellation. Requests are
// served one at a time; MCP clients pipeline on the conversation level, not
// the transport level.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = out
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			s.reply(response{JSONRPC: "2.0", ID: json.RawMessage("null"),
				Error: &rpcError{Code: codeParseError, Message: "parse error: " + err.Error()}})
			continue
		}
		// Notifications carry no ID and expect no response.
		if req.ID == nil {
			s.obs.Log().Debug().Str("method", req.Method).Msg("notification ignored")
			continue
		}
		s.reply(s.handle(ctx, req))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdin read failed: %w", err)
	}
	return nil
}

func (s *Server) handle(ctx context.Context, req request) response {
	resp := response{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": s.name, "version": s.version},
		}
	case "ping":
		resp.Result = map[string]any{}
	case "tools/list":
		resp.Result = map[string]any{"tools": toolList()}
	case "tools/call":
		result, err := s.callTool(ctx, req.Params)
		if err != nil {
			resp.Error = err
		} else {
			resp.Result = result
		}
	default:
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: "unknown method " + req.Method}
	}
	return resp
}

func (s *Server) reply(resp response) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	data, err := json.Marshal(resp)
	if err != nil {
		s.obs.Log().Error().Err(err).Msg("response marshal failed")
		return
	}
	data = append(data, '\n')
	if _, err := s.out.Write(data); err != nil {
		s.obs.Log().Error().Err(err).Msg("response write failed")
	}
}

// toolResult renders a value as an MCP text content block. Structured
// outcomes are serialized as JSON; plain strings pass through.
func toolResult(v any, isError bool) map[string]any {
	var text string
	switch t := v.(type) {
	case string:
		text = t
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			text = fmt.Sprintf("serialization failed: %v", err)
			isError = true
		} else {
			text = string(data)
		}
	}
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
		"isError": isError,
	}
}
