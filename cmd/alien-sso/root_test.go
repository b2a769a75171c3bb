package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand()
	want := []string{"login", "verify", "whoami", "refresh", "logout", "solana-link", "serve", "mock-provider"}
	for _, name := range want {
		c, _, err := root.Find([]string{name})
		if err != nil || c.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestVersionFlag(t *testing.T) {
	out, err := run(t, "--version")
	if err != nil || !strings.HasPrefix(out, "alien-sso ") {
		t.Fatalf("--version = %q, %v", out, err)
	}
}

func TestWhoamiWithoutSession(t *testing.T) {
	t.Setenv("ALIEN_SSO_STORE_BACKEND", "memory")
	dir := t.TempDir()
	_, err := run(t, "--config", filepath.Join(dir, "missing.yaml"), "--env-file", "", "whoami")
	if err == nil || !strings.Contains(err.Error(), "not authenticated") {
		t.Fatalf("whoami error = %v", err)
	}
}

func TestUnknownOutputFlagRejected(t *testing.T) {
	if _, err := run(t, "whoami", "--bogus"); err == nil {
		t.Fatal("unknown flag accepted")
	}
}
