package engine

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
)

func writeTestEd25519Key(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating test key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshaling private key: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.key")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}
	return path
}

func TestSSHAuthFromKeyFile_ParsesValidKey(t *testing.T) {
	path := writeTestEd25519Key(t)

	auth, err := sshAuthFromKeyFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth.User != "git" {
		t.Errorf("expected git user, got %q", auth.User)
	}
	if auth.HostKeyCallback == nil {
		t.Error("expected a host key callback to be set")
	}
}

func TestSSHAuthFromKeyFile_MissingFile(t *testing.T) {
	_, err := sshAuthFromKeyFile(filepath.Join(t.TempDir(), "missing.key"))
	if err == nil {
		t.Fatal("expected an error for a missing key file")
	}
}

func TestSSHAuthFromKeyFile_InvalidPEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.key")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatalf("writing bad key file: %v", err)
	}

	_, err := sshAuthFromKeyFile(path)
	if err == nil {
		t.Fatal("expected an error for an invalid PEM key")
	}
}
