// Package ipc implements the Unix-domain-socket protocol spec.md §6
// describes, grounded on original_source/kernel/runtime.py's
// IPCServer/IPCClient. Each connection carries exactly one
// length-prefixed JSON request and one length-prefixed JSON response: a
// 4-byte big-endian length header followed by that many bytes of JSON,
// capped at MaxFrameLen to bound a malicious or buggy client's payload
// the way the reference's recv(65536) cap does, but without silently
// truncating a larger message.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"

	"go.uber.org/zap"
)

// Request is one IPC call, matching {"method": ..., "params": {...}}.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// ExecuteParams / ValidateParams are the two method payloads spec.md §6
// names.
type ExecuteParams struct {
	Code      string `json:"code"`
	Principal string `json:"principal"`
}

type ValidateParams struct {
	Code string `json:"code"`
}

// Response covers both the execute result shape
// ({state, return_value, error, duration_ms}) and the validate result
// shape ({valid, errors}).
type Response struct {
	State       string `json:"state,omitempty"`
	ReturnValue any    `json:"return_value,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
	Valid       *bool  `json:"valid,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

// Handler executes/validates workflow code on behalf of the server.
type Handler interface {
	Execute(code, principal string) Response
	Validate(code string) Response
}

// Server listens on a Unix domain socket and serves one Request/Response
// exchange per accepted connection.
type Server struct {
	socketPath  string
	maxFrameLen int
	handler     Handler
	logger      *zap.Logger

	listener net.Listener
}

func NewServer(socketPath string, maxFrameLen int, handler Handler, logger *zap.Logger) *Server {
	return &Server{socketPath: socketPath, maxFrameLen: maxFrameLen, handler: handler, logger: logger}
}

// Start removes any stale socket file, binds, and serves in the
// background until Stop closes the listener.
func (s *Server) Start() error {
	_ = os.Remove(s.socketPath)

	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("binding ipc socket: %w", err)
	}
	s.listener = l

	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // listener closed by Stop
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	body, err := readFrame(conn, s.maxFrameLen)
	if err != nil {
		s.logger.Warn("ipc read failed", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		_ = writeFrame(conn, Response{Error: "malformed request"})
		return
	}

	var resp Response
	switch req.Method {
	case "execute":
		var params ExecuteParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp = Response{Error: "malformed execute params"}
		} else {
			resp = s.handler.Execute(params.Code, params.Principal)
		}
	case "validate":
		var params ValidateParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp = Response{Error: "malformed validate params"}
		} else {
			resp = s.handler.Validate(params.Code)
		}
	default:
		resp = Response{Error: "unknown method: " + req.Method}
	}

	if err := writeFrame(conn, resp); err != nil {
		s.logger.Warn("ipc write failed", zap.Error(err))
	}
}

// Stop closes the listener and removes the socket file.
func (s *Server) Stop() error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return os.Remove(s.socketPath)
}

func readFrame(r io.Reader, maxLen int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("reading frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if int(n) > maxLen {
		return nil, fmt.Errorf("frame length %d exceeds max %d", n, maxLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}
	return buf, nil
}

func writeFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}
