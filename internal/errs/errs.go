// Package errs defines the typed error kinds the HTTP surface and the
// reconciler use to decide status codes and retry/log behavior, instead of
// matching on error strings.
package errs

import "fmt"

// AuthRejected marks a missing or invalid credential.
type AuthRejected struct {
	Reason string
}

func (e *AuthRejected) Error() string { return "auth rejected: " + e.Reason }

// NotFound marks an unknown source id, including one that exists only as a
// filtered engine the caller has no master-level credential to see.
type NotFound struct {
	ID string
}

func (e *NotFound) Error() string { return fmt.Sprintf("source %q not found", e.ID) }

// BadRequest marks a malformed config, a disallowed id, or a missing
// webhook field.
type BadRequest struct {
	Reason string
}

func (e *BadRequest) Error() string { return "bad request: " + e.Reason }

// ProviderError marks a subprocess or network failure against an external
// provider (git remote, rsync origin, rclone remote). Per-source, never
// fatal to the process.
type ProviderError struct {
	SourceID string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("source %q: provider error: %v", e.SourceID, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// FetchError marks a slave-side tarball pull that failed after all retries.
type FetchError struct {
	SourceID string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("source %q: fetch failed: %v", e.SourceID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TemplateError marks a single-file template expansion failure. Logged and
// counted; other files in the same source proceed.
type TemplateError struct {
	Path string
	Err  error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %q: %v", e.Path, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// ReconcileError marks that at least one engine failed to load during a
// reconcile pass. The readiness flag flips to ERROR; healthy engines keep
// serving.
type ReconcileError struct {
	FailedIDs []string
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconcile: %d source(s) failed to load: %v", len(e.FailedIDs), e.FailedIDs)
}
