// Package session persists run records as JSON files so past runs can
// be inspected per workspace. Records are scoped by a hash of the
// workspace path: ~/.rover/sessions/<hash>/<id>.json.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aymenbz/rover/internal/protocol"
)

// Record captures the outcome of one completed run.
type Record struct {
	ID          string              `json:"id"`
	Task        string              `json:"task"`
	Answer      string              `json:"answer"`
	Model       string              `json:"model"`
	Cwd         string              `json:"cwd"`
	Steps       int                 `json:"steps"`
	Usage       protocol.TokenUsage `json:"usage"`
	CreatedAt   time.Time           `json:"created_at"`
	CompletedAt time.Time           `json:"completed_at"`
}

// Store reads and writes run records under a base directory.
type Store struct {
	basePath string
}

// NewStore creates a store rooted at basePath, typically
// ~/.rover/sessions.
func NewStore(basePath string) *Store {
	return &Store{basePath: basePath}
}

// DefaultBasePath returns the per-user record directory.
func DefaultBasePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".rover", "sessions"), nil
}

// WorkspaceHash scopes records to a workspace without leaking its full
// path into directory names.
func WorkspaceHash(cwd string) string {
	sum := sha256.Sum256([]byte(cwd))
	return hex.EncodeToString(sum[:])[:12]
}

func (s *Store) recordDir(cwd string) string {
	return filepath.Join(s.basePath, WorkspaceHash(cwd))
}

func (s *Store) recordPath(cwd, id string) string {
	return filepath.Join(s.recordDir(cwd), id+".json")
}

// Save writes a record, creating the workspace directory when needed.
func (s *Store) Save(record *Record) error {
	dir := s.recordDir(record.Cwd)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	path := s.recordPath(record.Cwd, record.ID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Load reads one record by workspace and id.
func (s *Store) Load(cwd, id string) (*Record, error) {
	data, err := os.ReadFile(s.recordPath(cwd, id))
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}
	return &record, nil
}

// List returns the workspace's records, newest first.
func (s *Store) List(cwd string) ([]*Record, error) {
	entries, err := os.ReadDir(s.recordDir(cwd))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read record dir: %w", err)
	}

	var records []*Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		record, err := s.Load(cwd, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}
