package mcptool

import (
	"context"
	"testing"

	"github.com/metalagman/adkx/internal/session"
	"github.com/metalagman/adkx/internal/tool"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type weatherIn struct {
	City string `json:"city" jsonschema:"city name"`
}

type weatherOut struct {
	Forecast string `json:"forecast"`
}

func startServer(t *testing.T) mcp.Transport {
	t.Helper()
	server := mcp.NewServer(&mcp.Implementation{Name: "weather", Version: "v0.0.1"}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: "get_weather", Description: "weather by city"},
		func(_ context.Context, _ *mcp.CallToolRequest, in weatherIn) (*mcp.CallToolResult, weatherOut, error) {
			return nil, weatherOut{Forecast: "sunny in " + in.City}, nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "hidden", Description: "filtered out"},
		func(_ context.Context, _ *mcp.CallToolRequest, _ weatherIn) (*mcp.CallToolResult, weatherOut, error) {
			return nil, weatherOut{}, nil
		})

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := server.Connect(context.Background(), serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })
	return clientTransport
}

func TestToolsetListsAndCalls(t *testing.T) {
	ts, err := New(Config{Transport: startServer(t), Filter: []string{"get_weather"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ts.Close() })

	ctx := context.Background()
	tools, err := ts.Tools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "get_weather", tools[0].Name())
	require.NotNil(t, tools[0].Declaration().ParametersJsonSchema)

	tc := tool.NewContext(ctx, "inv", "agent", nil, nil, &session.Actions{})
	out, err := tools[0].Run(tc, map[string]any{"city": "Paris"})
	require.NoError(t, err)
	assert.Equal(t, "sunny in Paris", out["forecast"])
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
