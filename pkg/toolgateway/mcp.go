package toolgateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MCP JSON-RPC messages
type mcpRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

type mcpResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *mcpError       `json:"error,omitempty"`
	ID      interface{}     `json:"id"`
}

type mcpError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ServerAdapter speaks JSON-RPC over stdio to one Model Context Protocol
// server process. The process is started lazily on first use.
type ServerAdapter struct {
	serverID string
	command  string
	args     []string

	mu      sync.Mutex
	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	id      int
	pending map[int]chan *mcpResponse

	// writeMu serializes request frames on stdin. Concurrent sessions share
	// one adapter per server, and a frame larger than PIPE_BUF is not an
	// atomic pipe write.
	writeMu sync.Mutex
}

// NewServerAdapter creates an adapter for an MCP server process.
func NewServerAdapter(serverID, command string, args []string) *ServerAdapter {
	return &ServerAdapter{
		serverID: serverID,
		command:  command,
		args:     args,
		pending:  make(map[int]chan *mcpResponse),
	}
}

// Start starts the MCP server process and performs the initialize handshake.
func (a *ServerAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.process != nil {
		return nil
	}

	cmd := exec.Command(a.command, a.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	a.process = cmd
	a.stdin = stdin
	a.stdout = bufio.NewScanner(stdout)

	go a.listen()

	return a.initialize(ctx)
}

func (a *ServerAdapter) listen() {
	for a.stdout.Scan() {
		var resp mcpResponse
		if err := json.Unmarshal(a.stdout.Bytes(), &resp); err != nil {
			log.Error().Err(err).Str("server", a.serverID).Msg("Failed to unmarshal MCP response")
			continue
		}

		if id, ok := resp.ID.(float64); ok {
			a.mu.Lock()
			ch, exists := a.pending[int(id)]
			if exists {
				delete(a.pending, int(id))
				ch <- &resp
			}
			a.mu.Unlock()
		}
	}
}

func (a *ServerAdapter) initialize(ctx context.Context) error {
	params := map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "Vocalis",
			"version": "0.1.0",
		},
	}
	_, err := a.call(ctx, "initialize", params)
	return err
}

func (a *ServerAdapter) call(ctx context.Context, method string, params interface{}) (*mcpResponse, error) {
	a.mu.Lock()
	a.id++
	id := a.id
	ch := make(chan *mcpResponse, 1)
	a.pending[id] = ch
	stdin := a.stdin
	a.mu.Unlock()

	req := mcpRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	a.writeMu.Lock()
	_, err = io.WriteString(stdin, string(data)+"\n")
	a.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("MCP error (%d): %s", resp.Error.Code, resp.Error.Message)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("MCP request timeout")
	}
}

// CallTool invokes one tool on the MCP server.
func (a *ServerAdapter) CallTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	if err := a.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP server: %w", err)
	}

	resp, err := a.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, err
	}

	return result, nil
}

// ListTools fetches the tool names the server exposes. Used by definition
// linting to cross-check declared tools against live servers.
func (a *ServerAdapter) ListTools(ctx context.Context) ([]string, error) {
	if err := a.Start(ctx); err != nil {
		return nil, err
	}

	resp, err := a.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var listResult struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &listResult); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(listResult.Tools))
	for _, t := range listResult.Tools {
		names = append(names, t.Name)
	}
	return names, nil
}

// Stop kills the MCP server process.
func (a *ServerAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.process != nil && a.process.Process != nil {
		return a.process.Process.Kill()
	}
	return nil
}
