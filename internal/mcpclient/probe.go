package mcpclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/giantswarm/mcp-doctor/internal/launcher"
	"github.com/giantswarm/mcp-doctor/internal/logging"
)

// Transport names a wire transport, or auto-detection.
type Transport string

const (
	TransportAuto  Transport = "auto"
	TransportHTTP  Transport = "streamable-http"
	TransportSSE   Transport = "sse"
	TransportStdio Transport = "stdio"
)

// ValidTransport reports whether t is a recognized transport name.
func ValidTransport(t Transport) bool {
	switch t {
	case TransportAuto, TransportHTTP, TransportSSE, TransportStdio:
		return true
	}
	return false
}

// DetectTransport resolves the transport for a target descriptor. Commands
// get stdio; URLs ending in /sse get SSE; other URLs are probed. An explicit
// transport always wins.
func DetectTransport(ctx context.Context, target string, override Transport, logger *logging.Logger) Transport {
	if override != "" && override != TransportAuto {
		return override
	}

	if launcher.IsCommandTarget(target) {
		return TransportStdio
	}

	if u, err := url.Parse(strings.TrimSpace(target)); err == nil {
		if strings.HasSuffix(strings.TrimRight(u.Path, "/"), "/sse") {
			return TransportSSE
		}
	}

	return probeHTTPEndpoint(ctx, strings.TrimSpace(target), logger)
}

// probeHTTPEndpoint asks the endpoint what it is: a 406 or a
// text/event-stream content type means SSE, anything else is treated as
// streamable HTTP. Probe failures default to streamable HTTP.
func probeHTTPEndpoint(ctx context.Context, endpoint string, logger *logging.Logger) Transport {
	logger.Debug("Probing endpoint type for %s", endpoint)
	client := &http.Client{Timeout: 5 * time.Second}

	if t, ok := probeOnce(ctx, client, http.MethodHead, endpoint); ok {
		return t
	}

	getCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if t, ok := probeOnce(getCtx, client, http.MethodGet, endpoint); ok {
		return t
	}
	if getCtx.Err() == context.DeadlineExceeded {
		// A GET that never returns is usually an open event stream.
		logger.Debug("Probe GET timed out, assuming SSE endpoint")
		return TransportSSE
	}

	logger.Debug("Probe inconclusive, defaulting to streamable HTTP")
	return TransportHTTP
}

func probeOnce(ctx context.Context, client *http.Client, method, endpoint string) (Transport, bool) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return TransportHTTP, false
	}
	resp, err := client.Do(req)
	if err != nil {
		return TransportHTTP, false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotAcceptable {
		return TransportSSE, true
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(contentType, "text/event-stream") {
		return TransportSSE, true
	}
	if strings.Contains(contentType, "application/json") {
		return TransportHTTP, true
	}
	return TransportHTTP, false
}
