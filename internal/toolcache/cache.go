// Package toolcache persists successful tool calls on disk so known-good
// request/response pairs survive across runs. Records are plain JSON files
// grouped per server and per tool; a per-tool index keeps call statistics
// and is guarded by a file lock against concurrent writers.
package toolcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/giantswarm/mcp-doctor/internal/logging"
)

// Cache stores successful call records for one server identity.
type Cache struct {
	identity string
	runID    string
	root     string
	logger   *logging.Logger
}

// CallRecord is the on-disk shape of one cached call.
type CallRecord struct {
	Operation      string          `json:"operation"`
	ServerIdentity string          `json:"server_identity"`
	RunID          string          `json:"run_id"`
	Timestamp      string          `json:"timestamp"`
	Scenario       string          `json:"scenario"`
	InputParams    map[string]any  `json:"input_params"`
	OutputResponse json.RawMessage `json:"output_response"`
	Metrics        CallMetrics     `json:"metrics"`
}

// CallMetrics are the measurements stored with a cached call.
type CallMetrics struct {
	TokenCount          int     `json:"token_count"`
	ResponseTimeSeconds float64 `json:"response_time_seconds"`
	ResponseSizeBytes   int     `json:"response_size_bytes"`
}

type metadata struct {
	ServerIdentity string `json:"server_identity"`
	CreatedAt      string `json:"created_at"`
	Description    string `json:"description"`
}

type toolIndex struct {
	Operation        string         `json:"operation"`
	TotalCachedCalls int            `json:"total_cached_calls"`
	FirstCached      string         `json:"first_cached"`
	LastCached       string         `json:"last_cached"`
	Scenarios        map[string]int `json:"scenarios"`
}

// Stats summarizes the cache contents for one server.
type Stats struct {
	ServerIdentity string         `json:"server_identity"`
	Tools          int            `json:"tools"`
	TotalCalls     int            `json:"total_calls"`
	Scenarios      map[string]int `json:"scenarios"`
}

// DefaultDir returns the default cache root directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "mcp-doctor", "tool-call-cache")
	}
	return filepath.Join(home, ".mcp-doctor", "tool-call-cache")
}

// New opens (or creates) the cache for a server identity. Passing an empty
// dir uses the default location under the user's home directory.
func New(identity, dir, runID string, logger *logging.Logger) (*Cache, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	root := filepath.Join(dir, hashIdentity(identity))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	metadataPath := filepath.Join(root, "_metadata.json")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		meta := metadata{
			ServerIdentity: identity,
			CreatedAt:      time.Now().UTC().Format(time.RFC3339),
			Description:    "Cache of successful MCP tool calls for token efficiency testing",
		}
		if err := writeJSON(metadataPath, meta); err != nil {
			return nil, fmt.Errorf("failed to write cache metadata: %w", err)
		}
	}

	logger.Debug("Tool call cache at %s", root)
	return &Cache{identity: identity, runID: runID, root: root, logger: logger}, nil
}

// hashIdentity derives the cache directory name for a server identity.
func hashIdentity(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])[:16]
}

// Record caches one successful call. Failures to write are reported but the
// caller is expected to treat them as non-fatal.
func (c *Cache) Record(operation, scenario string, args map[string]any, response json.RawMessage, tokens int, elapsed time.Duration) error {
	toolDir := filepath.Join(c.root, sanitizeToolName(operation))
	if err := os.MkdirAll(toolDir, 0o755); err != nil {
		return fmt.Errorf("failed to create tool cache directory: %w", err)
	}

	now := time.Now().UTC()
	record := CallRecord{
		Operation:      operation,
		ServerIdentity: c.identity,
		RunID:          c.runID,
		Timestamp:      now.Format(time.RFC3339Nano),
		Scenario:       scenario,
		InputParams:    args,
		OutputResponse: response,
		Metrics: CallMetrics{
			TokenCount:          tokens,
			ResponseTimeSeconds: elapsed.Seconds(),
			ResponseSizeBytes:   len(response),
		},
	}

	name := fmt.Sprintf("%s_%s_%s.json", scenario, now.Format("20060102_150405"), uuid.NewString()[:8])
	if err := writeJSON(filepath.Join(toolDir, name), record); err != nil {
		return fmt.Errorf("failed to write call record: %w", err)
	}

	if err := c.updateIndex(toolDir, operation, scenario, now); err != nil {
		c.logger.WarningVerbose("Failed to update cache index for %s: %v", operation, err)
	}
	return nil
}

// updateIndex increments the per-tool statistics under a file lock so
// concurrent workers and processes cannot lose updates.
func (c *Cache) updateIndex(toolDir, operation, scenario string, now time.Time) error {
	lock := flock.New(filepath.Join(toolDir, "_index.lock"))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock index: %w", err)
	}
	defer lock.Unlock()

	indexPath := filepath.Join(toolDir, "_index.json")
	index := toolIndex{
		Operation:   operation,
		FirstCached: now.Format(time.RFC3339),
		Scenarios:   map[string]int{},
	}
	if data, err := os.ReadFile(indexPath); err == nil {
		if err := json.Unmarshal(data, &index); err != nil {
			// Corrupt index, rebuild from scratch.
			index = toolIndex{Operation: operation, FirstCached: now.Format(time.RFC3339), Scenarios: map[string]int{}}
		}
	}
	if index.Scenarios == nil {
		index.Scenarios = map[string]int{}
	}

	index.TotalCachedCalls++
	index.LastCached = now.Format(time.RFC3339)
	index.Scenarios[scenario]++

	return writeJSON(indexPath, index)
}

// Stats aggregates the per-tool indexes.
func (c *Cache) Stats() (Stats, error) {
	stats := Stats{ServerIdentity: c.identity, Scenarios: map[string]int{}}

	entries, err := os.ReadDir(c.root)
	if err != nil {
		return stats, fmt.Errorf("failed to read cache directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.root, entry.Name(), "_index.json"))
		if err != nil {
			continue
		}
		var index toolIndex
		if err := json.Unmarshal(data, &index); err != nil {
			continue
		}
		stats.Tools++
		stats.TotalCalls += index.TotalCachedCalls
		for scenario, count := range index.Scenarios {
			stats.Scenarios[scenario] += count
		}
	}
	return stats, nil
}

// Root returns the cache directory for this server.
func (c *Cache) Root() string { return c.root }

func sanitizeToolName(name string) string {
	replaced := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == '/', r == '\\', r == ' ':
			return '_'
		}
		return -1
	}, name)
	if replaced == "" {
		return "unknown_tool"
	}
	return replaced
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
