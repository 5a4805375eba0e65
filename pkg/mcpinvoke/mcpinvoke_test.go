package mcpinvoke

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolResult_SingleText(t *testing.T) {
	resp := &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "hello"}},
	}

	out, err := parseToolResult(resp)
	require.NoError(t, err)
	assert.Equal(t, "hello", out["result"])
}

func TestParseToolResult_MultipleText(t *testing.T) {
	resp := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "a"},
			mcp.TextContent{Type: "text", Text: "b"},
		},
	}

	out, err := parseToolResult(resp)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out["results"])
}

func TestParseToolResult_Error(t *testing.T) {
	resp := &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "boom"}},
	}

	out, err := parseToolResult(resp)
	require.Error(t, err)
	assert.Equal(t, "boom", out["error"])
}

func TestEnvSlice(t *testing.T) {
	assert.Nil(t, envSlice(nil))
	assert.ElementsMatch(t, []string{"A=1"}, envSlice(map[string]string{"A": "1"}))
}
