package subprocess

import "context"

// Rsync runs the copy step spec.md §4.3 describes: mirror src into dst,
// deleting anything at dst that isn't in src (so template-emitted files are
// removed when their template disappears), honoring excludes.
func Rsync(ctx context.Context, src, dst string, excludes []string) error {
	return RsyncEnv(ctx, src, dst, excludes, nil)
}

// RsyncEnv is Rsync with additional environment variables, used to pass
// RSYNC_RSH when a source declares an ssh_key.
func RsyncEnv(ctx context.Context, src, dst string, excludes []string, extraEnv []string) error {
	args := []string{
		"--recursive",
		"--links",
		"--devices",
		"--specials",
		"--delete",
		"--verbose",
		"--checksum",
	}
	for _, e := range excludes {
		args = append(args, "--exclude="+e)
	}
	// A trailing slash on src copies its contents rather than the directory
	// itself, matching the original's "_copy" helper.
	args = append(args, ensureTrailingSlash(src), dst)
	_, err := Run(ctx, "rsync", args, "", extraEnv)
	return err
}

func ensureTrailingSlash(p string) string {
	if len(p) == 0 || p[len(p)-1] == '/' {
		return p
	}
	return p + "/"
}
