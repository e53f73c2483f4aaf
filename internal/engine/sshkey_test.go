package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInstallSSHKey_WritesKeyAndConfigStanza(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	keyPath, err := installSSHKey("app1", "-----BEGIN KEY-----\nfake\n-----END KEY-----\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantPath := filepath.Join(home, ".ssh", "app1.key")
	if keyPath != wantPath {
		t.Errorf("expected key path %s, got %s", wantPath, keyPath)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("key file not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected key file mode 0600, got %o", info.Mode().Perm())
	}

	config, err := os.ReadFile(filepath.Join(home, ".ssh", "config"))
	if err != nil {
		t.Fatalf("ssh config not written: %v", err)
	}
	if !strings.Contains(string(config), "IdentityFile "+keyPath) {
		t.Errorf("expected ssh config to reference key path, got %q", config)
	}
}

func TestInstallSSHKey_IdempotentConfigStanza(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if _, err := installSSHKey("app1", "key-one"); err != nil {
		t.Fatalf("first install: %v", err)
	}
	if _, err := installSSHKey("app1", "key-one-updated"); err != nil {
		t.Fatalf("second install: %v", err)
	}

	config, err := os.ReadFile(filepath.Join(home, ".ssh", "config"))
	if err != nil {
		t.Fatalf("reading ssh config: %v", err)
	}
	stanza := "IdentityFile " + filepath.Join(home, ".ssh", "app1.key")
	if n := strings.Count(string(config), stanza); n != 1 {
		t.Errorf("expected exactly one IdentityFile stanza after repeated installs, got %d", n)
	}
}

func TestRemoveSSHKey_DeletesKeyAndStanza(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	keyPath, err := installSSHKey("app1", "key-data")
	if err != nil {
		t.Fatalf("install: %v", err)
	}

	if err := removeSSHKey("app1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, err := os.Stat(keyPath); !os.IsNotExist(err) {
		t.Errorf("expected key file to be removed, stat err = %v", err)
	}

	config, err := os.ReadFile(filepath.Join(home, ".ssh", "config"))
	if err != nil {
		t.Fatalf("reading ssh config: %v", err)
	}
	if strings.Contains(string(config), keyPath) {
		t.Errorf("expected stanza referencing %s to be removed, got %q", keyPath, config)
	}
}

func TestRemoveSSHKey_NoPriorKeyIsNotAnError(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if err := removeSSHKey("never-installed"); err != nil {
		t.Fatalf("expected no error removing a key that was never installed, got %v", err)
	}
}
