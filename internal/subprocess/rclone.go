package subprocess

import "context"

// RcloneSync runs "rclone sync" against the remote:subDir defined in the
// config file at configPath, matching original_source's RcloneSource
// exactly: --verbose, --config <path>, one --exclude per pattern, then
// "remote:<subDir> <dst>".
func RcloneSync(ctx context.Context, configPath, subDir, dst string, excludes []string) error {
	args := []string{"sync", "--verbose", "--config", configPath}
	for _, e := range excludes {
		args = append(args, "--exclude="+e)
	}
	args = append(args, "remote:"+subDir, dst)
	_, err := Run(ctx, "rclone", args, "", nil)
	return err
}
