package subprocess

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

const protocolVersion = "2024-11-05"

// Session is a connection to one running tool server: the subprocess plus
// the three operations the engine needs from it.
type Session struct {
	spec      *StartupSpec
	transport *transport
	logger    *slog.Logger
	info      ServerInfo
}

// NewSession constructs a session for the given startup spec. The subprocess
// is not started until Initialize is called.
func NewSession(name string, spec *StartupSpec, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("tool_server", name)
	return &Session{
		spec:      spec,
		transport: newTransport(spec, logger),
		logger:    logger,
	}
}

// Initialize starts the subprocess, performs the JSON-RPC handshake and
// returns the server's self-reported identity.
func (s *Session) Initialize(ctx context.Context) (ServerInfo, error) {
	if err := s.transport.connect(ctx); err != nil {
		return ServerInfo{}, fmt.Errorf("connect: %w", err)
	}

	result, err := s.transport.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "toolrouterd", "version": "1.0.0"},
	})
	if err != nil {
		s.transport.close()
		return ServerInfo{}, fmt.Errorf("initialize: %w", err)
	}

	var initResult initializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		s.transport.close()
		return ServerInfo{}, fmt.Errorf("parse initialize result: %w", err)
	}
	s.info = initResult.ServerInfo

	if err := s.transport.notify("notifications/initialized", nil); err != nil {
		s.logger.Warn("failed to send initialized notification", "error", err)
	}

	return s.info, nil
}

// ListTools returns the tools currently advertised by the server.
func (s *Session) ListTools(ctx context.Context) ([]*Tool, error) {
	result, err := s.transport.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	var resp listToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}
	return resp.Tools, nil
}

// CallTool invokes a single tool with the given arguments and returns the raw
// result, before any annotation/meta stripping the caller wants to apply.
func (s *Session) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResult, error) {
	params := callToolParams{Name: name, Arguments: arguments}
	result, err := s.transport.call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}
	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse tools/call result: %w", err)
	}
	return &callResult, nil
}

// Connected reports whether the subprocess connection is still live.
func (s *Session) Connected() bool {
	return s.transport.connected.Load()
}

// ToolsChanged returns a channel that receives a value whenever the server
// sends a "notifications/tools/list_changed" notification, signaling that
// the supervisor should re-list and re-index the server's tools. The channel
// is unbuffered: each value waits until it is received or ctx ends, and
// further notifications wait in the transport's buffer meanwhile.
func (s *Session) ToolsChanged(ctx context.Context) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case notif, ok := <-s.transport.notifications:
				if !ok {
					return
				}
				if notif.Method != "notifications/tools/list_changed" {
					continue
				}
				select {
				case out <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// ServerInfo returns the identity reported during Initialize.
func (s *Session) ServerInfo() ServerInfo {
	return s.info
}

// Close terminates the subprocess.
func (s *Session) Close() error {
	return s.transport.close()
}
