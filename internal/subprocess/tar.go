package subprocess

import (
	"context"
	"io"
	"os/exec"
	"strings"
)

// ExtractTarGz extracts a gzip tarball read from body into dir, which must
// already exist and be empty. Matches the slave fetch protocol's exact flag
// set (spec.md §4.4): --no-same-owner, --no-same-permissions, --touch (set
// mtime to extraction time, not the archive's), --no-overwrite-dir (don't
// reset permissions on directories that already exist).
func ExtractTarGz(ctx context.Context, body io.Reader, dir string) error {
	args := []string{
		"--extract",
		"--gzip",
		"--no-same-owner",
		"--no-same-permissions",
		"--touch",
		"--no-overwrite-dir",
	}
	return RunStreaming(ctx, "tar", args, dir, body)
}

// CreateTarGz streams a gzip tarball of entries (paths relative to dir, in
// the caller's chosen order — the /tarball/{id} handler moves a literal
// ".gitstats" entry to the end before calling this) to w.
func CreateTarGz(ctx context.Context, dir string, entries []string, w io.Writer) error {
	args := []string{"--create", "--gzip", "--files-from=-", "-C", dir}
	cmd := exec.CommandContext(ctx, "tar", args...)
	cmd.Stdin = strings.NewReader(strings.Join(entries, "\n") + "\n")
	cmd.Stdout = w
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errWrap("tar create", stderr.String(), err)
	}
	return nil
}

func errWrap(op, stderr string, err error) error {
	if stderr == "" {
		return err
	}
	return &tarError{op: op, stderr: SanitizeOutput(stderr), err: err}
}

type tarError struct {
	op     string
	stderr string
	err    error
}

func (e *tarError) Error() string { return e.op + ": " + e.stderr + ": " + e.err.Error() }
func (e *tarError) Unwrap() error { return e.err }
