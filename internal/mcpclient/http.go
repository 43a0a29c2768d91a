package mcpclient

import (
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"

	"github.com/giantswarm/mcp-doctor/internal/logging"
)

// newHTTPAdapter builds a streamable HTTP session. Each call is a fresh
// request; correlation and session headers are handled by mcp-go.
func newHTTPAdapter(endpoint string, headers map[string]string, logger *logging.Logger, version string) (*mcpAdapter, error) {
	var opts []transport.StreamableHTTPCOption
	if len(headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(headers))
	}

	mc, err := client.NewStreamableHttpClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create streamable HTTP client: %w", err)
	}

	return &mcpAdapter{
		endpoint: endpoint,
		mc:       mc,
		logger:   logger,
		version:  version,
	}, nil
}
