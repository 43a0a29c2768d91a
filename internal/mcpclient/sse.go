package mcpclient

import (
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"

	"github.com/giantswarm/mcp-doctor/internal/logging"
)

// newSSEAdapter builds an SSE session: one long-lived event stream for
// responses, separate POSTs for requests. Keep-alives and correlation are
// handled by mcp-go.
func newSSEAdapter(endpoint string, headers map[string]string, logger *logging.Logger, version string) (*mcpAdapter, error) {
	var opts []transport.ClientOption
	if len(headers) > 0 {
		opts = append(opts, transport.WithHeaders(headers))
	}

	mc, err := client.NewSSEMCPClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSE client: %w", err)
	}

	return &mcpAdapter{
		endpoint: endpoint,
		mc:       mc,
		logger:   logger,
		version:  version,
	}, nil
}
