package engine

import (
	"fmt"
	"os"

	gogitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/crypto/ssh"
)

// sshAuthFromKeyFile builds a go-git AuthMethod from a private key file
// already installed by installSSHKey. Host key checking is disabled: this
// codebase has no per-source known_hosts declaration, matching
// original_source's git engine which never verifies host keys either.
func sshAuthFromKeyFile(keyPath string) (*gogitssh.PublicKeys, error) {
	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading ssh key %s: %w", keyPath, err)
	}

	auth, err := gogitssh.NewPublicKeys("git", pem, "")
	if err != nil {
		return nil, fmt.Errorf("parsing ssh key: %w", err)
	}
	auth.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	return auth, nil
}
