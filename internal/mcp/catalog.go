package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// CatalogEntry is the on-disk record for one installed plugin server.
// One JSON file per server lets users inspect and hand-edit entries.
type CatalogEntry struct {
	Config      ServerConfig `json:"config"`
	Enabled     bool         `json:"enabled"`
	Status      ServerState  `json:"status"`
	Tools       []*Tool      `json:"tools,omitempty"`
	RequestedBy string       `json:"requested_by,omitempty"`
	InstalledAt time.Time    `json:"installed_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Catalog persists server records and OAuth tokens under one directory.
type Catalog struct {
	dir string
}

// NewCatalog creates the catalog directory if needed.
func NewCatalog(dir string) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}
	return &Catalog{dir: dir}, nil
}

func (c *Catalog) entryPath(name string) string {
	return filepath.Join(c.dir, name+".json")
}

func (c *Catalog) tokenPath(name string) string {
	return filepath.Join(c.dir, name+".token.json")
}

// Save writes an entry, stamping UpdatedAt.
func (c *Catalog) Save(entry *CatalogEntry) error {
	entry.UpdatedAt = time.Now()
	if entry.InstalledAt.IsZero() {
		entry.InstalledAt = entry.UpdatedAt
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if err := os.WriteFile(c.entryPath(entry.Config.Name), data, 0o644); err != nil {
		return fmt.Errorf("write entry %s: %w", entry.Config.Name, err)
	}
	return nil
}

// Load reads one entry by server name.
func (c *Catalog) Load(name string) (*CatalogEntry, error) {
	data, err := os.ReadFile(c.entryPath(name))
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", name, err)
	}
	var entry CatalogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parse entry %s: %w", name, err)
	}
	return &entry, nil
}

// LoadAll reads every entry in the catalog, skipping unreadable files.
func (c *Catalog) LoadAll() ([]*CatalogEntry, error) {
	files, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read catalog dir: %w", err)
	}

	var entries []*CatalogEntry
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".token.json") {
			continue
		}
		entry, err := c.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Delete removes an entry and its token file if present.
func (c *Catalog) Delete(name string) error {
	if err := os.Remove(c.entryPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete entry %s: %w", name, err)
	}
	if err := os.Remove(c.tokenPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete token %s: %w", name, err)
	}
	return nil
}

// SaveToken stores an OAuth token for a remote server. Tokens live in
// separate files so catalog entries stay safe to share.
func (c *Catalog) SaveToken(name string, token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := os.WriteFile(c.tokenPath(name), data, 0o600); err != nil {
		return fmt.Errorf("write token %s: %w", name, err)
	}
	return nil
}

// LoadToken reads a server's OAuth token, or nil when none is stored.
func (c *Catalog) LoadToken(name string) (*oauth2.Token, error) {
	data, err := os.ReadFile(c.tokenPath(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token %s: %w", name, err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse token %s: %w", name, err)
	}
	return &token, nil
}
