package mcp

import (
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestCatalogRoundTrip(t *testing.T) {
	catalog, err := NewCatalog(t.TempDir())
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	entry := &CatalogEntry{
		Config: ServerConfig{
			Name:      "fs",
			Source:    "@modelcontextprotocol/server-filesystem",
			Transport: TransportStdio,
			Command:   "npx",
		},
		Enabled: true,
		Status:  StateStopped,
		Tools:   []*Tool{{Name: "read_file"}},
	}
	if err := catalog.Save(entry); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if entry.InstalledAt.IsZero() || entry.UpdatedAt.IsZero() {
		t.Error("timestamps not stamped on save")
	}

	loaded, err := catalog.Load("fs")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Config.Source != entry.Config.Source {
		t.Errorf("source = %q", loaded.Config.Source)
	}
	if len(loaded.Tools) != 1 || loaded.Tools[0].Name != "read_file" {
		t.Errorf("tools = %v", loaded.Tools)
	}
}

func TestCatalogLoadAllSkipsTokenFiles(t *testing.T) {
	catalog, err := NewCatalog(t.TempDir())
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	catalog.Save(&CatalogEntry{Config: ServerConfig{Name: "a"}, Enabled: true})
	catalog.Save(&CatalogEntry{Config: ServerConfig{Name: "b"}})
	catalog.SaveToken("a", &oauth2.Token{AccessToken: "secret"})

	entries, err := catalog.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("len = %d, want 2 (token file must not load as entry)", len(entries))
	}
}

func TestCatalogTokens(t *testing.T) {
	catalog, err := NewCatalog(t.TempDir())
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	// No token stored yet.
	token, err := catalog.LoadToken("remote")
	if err != nil || token != nil {
		t.Fatalf("LoadToken empty = (%v, %v)", token, err)
	}

	want := &oauth2.Token{
		AccessToken:  "at",
		RefreshToken: "rt",
		Expiry:       time.Now().Add(time.Hour).Truncate(time.Second),
	}
	if err := catalog.SaveToken("remote", want); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	token, err = catalog.LoadToken("remote")
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if token.AccessToken != "at" || token.RefreshToken != "rt" {
		t.Errorf("token = %+v", token)
	}
}

func TestCatalogDeleteRemovesEntryAndToken(t *testing.T) {
	catalog, err := NewCatalog(t.TempDir())
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	catalog.Save(&CatalogEntry{Config: ServerConfig{Name: "fs"}})
	catalog.SaveToken("fs", &oauth2.Token{AccessToken: "x"})

	if err := catalog.Delete("fs"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := catalog.Load("fs"); err == nil {
		t.Error("entry still loadable after delete")
	}
	if token, _ := catalog.LoadToken("fs"); token != nil {
		t.Error("token still loadable after delete")
	}

	// Deleting a missing entry is not an error.
	if err := catalog.Delete("fs"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}
