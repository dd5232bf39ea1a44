package mcp

import (
	"testing"
)

func TestSplitName(t *testing.T) {
	server, tool, ok := SplitName("github__create_issue")
	if !ok || server != "github" || tool != "create_issue" {
		t.Errorf("got (%q, %q, %v)", server, tool, ok)
	}

	if _, _, ok := SplitName("plain_name"); ok {
		t.Error("bare name should not split")
	}
	if _, _, ok := SplitName("__leading"); ok {
		t.Error("empty server part should not split")
	}
}

func TestNamespacedRoundTrip(t *testing.T) {
	name := Namespaced("fs", "read_file")
	server, tool, ok := SplitName(name)
	if !ok || server != "fs" || tool != "read_file" {
		t.Errorf("round trip failed: (%q, %q, %v)", server, tool, ok)
	}
}

func TestServerConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"valid stdio", ServerConfig{Name: "fs", Transport: TransportStdio, Command: "npx"}, false},
		{"valid http", ServerConfig{Name: "remote", Transport: TransportHTTP, URL: "https://example.com/mcp"}, false},
		{"missing name", ServerConfig{Transport: TransportStdio, Command: "npx"}, true},
		{"name with separator", ServerConfig{Name: "a__b", Transport: TransportStdio, Command: "npx"}, true},
		{"stdio without command", ServerConfig{Name: "fs", Transport: TransportStdio}, true},
		{"http without url", ServerConfig{Name: "remote", Transport: TransportHTTP}, true},
		{"http bad scheme", ServerConfig{Name: "remote", Transport: TransportHTTP, URL: "ftp://x"}, true},
		{"shell metachars in args", ServerConfig{Name: "fs", Transport: TransportStdio, Command: "npx", Args: []string{"a; rm -rf /"}}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestConfigFromSource(t *testing.T) {
	cfg := configFromSource("https://mcp.example.com/server", "", nil)
	if cfg.Transport != TransportHTTP || cfg.URL != "https://mcp.example.com/server" {
		t.Errorf("http source mis-parsed: %+v", cfg)
	}
	if cfg.Name != "server" {
		t.Errorf("derived name = %q", cfg.Name)
	}

	cfg = configFromSource("@modelcontextprotocol/server-filesystem", "", map[string]string{"ROOT": "/tmp"})
	if cfg.Transport != TransportStdio || cfg.Command != "npx" {
		t.Errorf("package source mis-parsed: %+v", cfg)
	}
	if len(cfg.Args) != 2 || cfg.Args[1] != "@modelcontextprotocol/server-filesystem" {
		t.Errorf("args = %v", cfg.Args)
	}
	if cfg.Name != "filesystem" {
		t.Errorf("derived name = %q", cfg.Name)
	}
	if cfg.Env["ROOT"] != "/tmp" {
		t.Errorf("env not carried: %v", cfg.Env)
	}

	cfg = configFromSource("some-pkg", "custom", nil)
	if cfg.Name != "custom" {
		t.Errorf("explicit name ignored: %q", cfg.Name)
	}
}

func TestCallResultText(t *testing.T) {
	result := &CallResult{Content: []ContentBlock{
		{Type: "text", Text: "line one"},
		{Type: "image", Data: "abc"},
		{Type: "text", Text: "line two"},
	}}
	if got := result.Text(); got != "line one\nline two" {
		t.Errorf("Text() = %q", got)
	}
}
