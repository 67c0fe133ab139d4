package toolclient

import (
	"context"
	"fmt"

	"github.com/deskhive/deskhive/mcp"
	"github.com/deskhive/deskhive/types"
)

// nullClient serves an empty tool set. It never opens a connection:
// every call is refused locally and the catalog is empty.
type nullClient struct{}

func (nullClient) CallTool(_ context.Context, name string, _ map[string]any) (*mcp.ToolResult, error) {
	return nil, types.NewError(types.ErrToolNotInScope,
		fmt.Sprintf("tool %q is not in this client's scope", name))
}

func (nullClient) ListTools(context.Context) ([]mcp.ToolDefinition, error) {
	return []mcp.ToolDefinition{}, nil
}

func (nullClient) Close() error { return nil }
