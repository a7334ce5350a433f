// Package vectorindex is the vector-store collaborator: it stores server and
// tool records keyed by a stable fingerprint and answers nearest-neighbor
// search queries over their embeddings.
package vectorindex

import (
	"context"
	"crypto/sha1"
	"fmt"

	"github.com/google/uuid"
)

// fingerprintNamespace is a fixed namespace used to mint stable UUID point
// IDs from server/tool names via uuid.NewSHA1, independent of the hex
// fingerprints used for endpoint addressing.
var fingerprintNamespace = uuid.MustParse("6f9c2e1a-6b2e-4b8a-9a6f-2d6f7a1c9b3e")

// ServerFingerprint returns a deterministic hex digest of a server name.
func ServerFingerprint(name string) string {
	sum := sha1.Sum([]byte(name))
	return fmt.Sprintf("%x", sum)
}

// ToolFingerprint returns a deterministic hex digest of "server::tool".
func ToolFingerprint(server, tool string) string {
	sum := sha1.Sum([]byte(server + "::" + tool))
	return fmt.Sprintf("%x", sum)
}

// PointID mints a stable UUID point ID for a vector-index record, derived
// from name under a fixed namespace so restarts reuse the same ID.
func PointID(name string) uuid.UUID {
	return uuid.NewSHA1(fingerprintNamespace, []byte(name))
}

// ServerRecord is the committed, indexed representation of a tool server.
type ServerRecord struct {
	Name         string
	Title        string
	Summary      string
	Capabilities []string
	Limitations  []string
	NBTools      int
	Vector       []float32
}

// ToolRecord is the committed, indexed representation of one tool.
type ToolRecord struct {
	ServerName  string
	ToolName    string
	Description string
	Schema      []byte
	Vector      []float32
}

// SearchResult pairs a record with its similarity score.
type SearchResult struct {
	Kind       string // "server" or "tool"
	ServerName string
	ToolName   string
	Score      float32
}

// Index is the vector-store collaborator contract (spec §6).
type Index interface {
	AddServer(ctx context.Context, rec ServerRecord) error
	AddTool(ctx context.Context, rec ToolRecord) error
	GetServer(ctx context.Context, name string) (*ServerRecord, error)
	Search(ctx context.Context, vec []float32, topK int) ([]SearchResult, error)
	ListServers(ctx context.Context) ([]string, error)
	ListTools(ctx context.Context, serverName string) ([]ToolRecord, error)
	DeleteServer(ctx context.Context, name string) error
}
