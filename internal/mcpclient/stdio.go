package mcpclient

import (
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"

	"github.com/giantswarm/mcp-doctor/internal/launcher"
	"github.com/giantswarm/mcp-doctor/internal/logging"
)

// newStdioAdapter builds a session over the pipes of a launcher-owned child
// process. The launcher keeps ownership of the process; closing the adapter
// only shuts down the protocol client, process teardown stays with the
// launcher.
func newStdioAdapter(proc *launcher.Launcher, endpoint string, logger *logging.Logger, version string) *mcpAdapter {
	t := transport.NewIO(proc.Stdout(), proc.Stdin(), proc.Stderr())
	mc := client.NewClient(t)

	return &mcpAdapter{
		endpoint: endpoint,
		mc:       mc,
		logger:   logger,
		version:  version,
	}
}
