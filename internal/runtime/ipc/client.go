package ipc

import (
	"encoding/json"
	"fmt"
	"net"
)

// Client calls a kernel IPC server over a Unix domain socket, the Go
// analogue of original_source/kernel/runtime.py's IPCClient.
type Client struct {
	socketPath  string
	maxFrameLen int
}

func NewClient(socketPath string, maxFrameLen int) *Client {
	return &Client{socketPath: socketPath, maxFrameLen: maxFrameLen}
}

func (c *Client) call(method string, params any) (*Response, error) {
	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("dialing ipc socket: %w", err)
	}
	defer conn.Close()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	req := Request{Method: method, Params: paramsJSON}
	if err := writeFrame(conn, req); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	body, err := readFrame(conn, c.maxFrameLen)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}

func (c *Client) Execute(code, principal string) (*Response, error) {
	return c.call("execute", ExecuteParams{Code: code, Principal: principal})
}

func (c *Client) Validate(code string) (*Response, error) {
	return c.call("validate", ValidateParams{Code: code})
}
