package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// sshDir returns the process's ~/.ssh directory, creating it if absent.
func sshDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home dir: %w", err)
	}
	dir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	return dir, nil
}

// installSSHKey writes decl's ssh_key under ~/.ssh/<id>.key mode 0600 and
// appends an IdentityFile stanza to ~/.ssh/config if one isn't already
// present, per spec.md §4.3's SSH-key management.
func installSSHKey(id, key string) (string, error) {
	dir, err := sshDir()
	if err != nil {
		return "", err
	}

	keyPath := filepath.Join(dir, id+".key")
	if err := os.WriteFile(keyPath, []byte(key), 0o600); err != nil {
		return "", fmt.Errorf("writing ssh key for %s: %w", id, err)
	}

	configPath := filepath.Join(dir, "config")
	stanza := "IdentityFile " + keyPath
	existing, _ := os.ReadFile(configPath)
	if !strings.Contains(string(existing), stanza) {
		f, err := os.OpenFile(configPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return "", fmt.Errorf("opening ssh config: %w", err)
		}
		defer func() { _ = f.Close() }()
		if _, err := f.WriteString(stanza + "\n"); err != nil {
			return "", fmt.Errorf("appending to ssh config: %w", err)
		}
	}

	return keyPath, nil
}

// removeSSHKey deletes the key file and its IdentityFile stanza on engine
// deletion. Safe to call for engines that never had a key.
func removeSSHKey(id string) error {
	dir, err := sshDir()
	if err != nil {
		return err
	}

	keyPath := filepath.Join(dir, id+".key")
	if err := os.Remove(keyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing ssh key for %s: %w", id, err)
	}

	configPath := filepath.Join(dir, "config")
	existing, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading ssh config: %w", err)
	}

	stanza := "IdentityFile " + keyPath
	lines := strings.Split(string(existing), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line != stanza {
			kept = append(kept, line)
		}
	}
	return os.WriteFile(configPath, []byte(strings.Join(kept, "\n")), 0o600)
}
