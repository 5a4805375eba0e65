// Package mcpinvoke calls external MCP (Model Context Protocol) tool
// servers over stdio, simplified from the teacher's toolset abstraction
// down to the single-call surface the Task Router needs: invoke one named
// tool on one named server and get back its result.
//
// Grounded on kadirpekel-hector's pkg/tool/mcptoolset (lazy per-server
// connect, mcp-go client wiring, tool-response parsing), generalized here
// to dagrunner's "server:tool" addressing (spec.md §4.4, Glossary "MCP
// tool").
package mcpinvoke

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// ServerConfig describes how to launch one MCP server over stdio.
type ServerConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

// Registry lazily connects to configured MCP servers and invokes tools on
// them by name. A single Registry is safe for concurrent use; each server
// is connected at most once.
type Registry struct {
	servers map[string]ServerConfig

	mu      sync.Mutex
	clients map[string]*client.Client
}

// NewRegistry builds a Registry over the given named server configs.
func NewRegistry(servers map[string]ServerConfig) *Registry {
	return &Registry{
		servers: servers,
		clients: make(map[string]*client.Client),
	}
}

// Invoke calls tool on server with args, connecting lazily on first use.
func (r *Registry) Invoke(ctx context.Context, server, tool string, args map[string]any) (map[string]any, error) {
	c, err := r.connection(ctx, server)
	if err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	resp, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp call %s:%s failed: %w", server, tool, err)
	}

	return parseToolResult(resp)
}

func (r *Registry) connection(ctx context.Context, server string) (*client.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[server]; ok {
		return c, nil
	}

	cfg, ok := r.servers[server]
	if !ok {
		return nil, fmt.Errorf("mcpinvoke: unknown server %q", server)
	}

	c, err := client.NewStdioMCPClient(cfg.Command, envSlice(cfg.Env), cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("mcpinvoke: failed to create client for %q: %w", server, err)
	}

	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("mcpinvoke: failed to start %q: %w", server, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "dagrunner", Version: "0.1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"

	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("mcpinvoke: failed to initialize %q: %w", server, err)
	}

	r.clients[server] = c
	return c, nil
}

// Close disconnects every connected server.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, c := range r.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcpinvoke: close %q: %w", name, err)
		}
	}
	r.clients = make(map[string]*client.Client)
	return firstErr
}

func envSlice(env map[string]string) []string {
	if env == nil {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func parseToolResult(resp *mcp.CallToolResult) (map[string]any, error) {
	result := make(map[string]any)

	if resp.IsError {
		for _, content := range resp.Content {
			if textContent, ok := content.(mcp.TextContent); ok {
				result["error"] = textContent.Text
				break
			}
		}
		if result["error"] == nil {
			result["error"] = "unknown MCP tool error"
		}
		return result, fmt.Errorf("mcp tool returned an error: %v", result["error"])
	}

	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	switch len(texts) {
	case 0:
	case 1:
		result["result"] = texts[0]
	default:
		result["results"] = texts
	}

	return result, nil
}
