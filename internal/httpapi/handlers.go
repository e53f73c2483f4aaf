package httpapi

import (
	"encoding/json"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/camptocamp/shared-config-manager/internal/auth"
	"github.com/camptocamp/shared-config-manager/internal/declaration"
	"github.com/camptocamp/shared-config-manager/internal/errs"
	"github.com/camptocamp/shared-config-manager/internal/subprocess"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *errs.AuthRejected:
		http.Error(w, e.Error(), http.StatusForbidden)
	case *errs.NotFound:
		http.Error(w, e.Error(), http.StatusNotFound)
	case *errs.BadRequest:
		http.Error(w, e.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleRefreshOne is GET /refresh/{id}: refresh a single source.
func (s *Server) handleRefreshOne(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	id := r.PathValue("id")
	if err := s.reg.RefreshID(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": 200})
}

// branchSanitizeRe strips everything but [0-9A-Za-z_-] from a branch name
// before it's echoed in an "ignored" reason, per spec.md §4.1.
var branchSanitizeRe = regexp.MustCompile(`[^0-9A-Za-z_-]`)

type webhookPayload struct {
	Ref string `json:"ref"`
}

// handleWebhookRefresh is POST /refresh/{id}, the webhook form spec.md
// §4.1 and §8's "Webhook filtering" property describe.
func (s *Server) handleWebhookRefresh(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	id := r.PathValue("id")

	if r.Header.Get("X-GitHub-Event") != "push" {
		writeJSON(w, http.StatusOK, map[string]any{"status": 200, "ignored": true, "reason": "Not a push"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusInternalServerError)
		return
	}

	var payload webhookPayload
	if jsonErr := json.Unmarshal(body, &payload); jsonErr != nil || payload.Ref == "" {
		http.Error(w, "missing ref", http.StatusInternalServerError)
		return
	}

	eng, _, ok := s.reg.Lookup(id)
	if !ok {
		writeError(w, &errs.NotFound{ID: id})
		return
	}
	if eng.GetType() != declaration.KindGit {
		http.Error(w, "non-git source on webhook", http.StatusInternalServerError)
		return
	}

	branch := eng.Declaration().Branch
	if branch == "" {
		branch = "master"
	}
	wantRef := "refs/heads/" + branch
	if payload.Ref != wantRef {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  200,
			"ignored": true,
			"reason":  "Not " + branchSanitizeRe.ReplaceAllString(branch, "") + " branch",
		})
		return
	}

	if err := s.reg.RefreshID(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": 200})
}

// handleRefreshAllGet is GET /refresh: refresh every source, no filter.
func (s *Server) handleRefreshAllGet(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	if !id.MasterLevel {
		writeError(w, &errs.AuthRejected{Reason: "master-level credential required"})
		return
	}
	results := s.reg.RefreshAll(r.Context(), nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": 200, "errors": errorStrings(results)})
}

// handleRefreshAllPost is POST /refresh: applies the per-branch webhook
// filter to each git source independently; non-git sources are skipped.
func (s *Server) handleRefreshAllPost(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	if !id.MasterLevel {
		writeError(w, &errs.AuthRejected{Reason: "master-level credential required"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusInternalServerError)
		return
	}
	var payload webhookPayload
	if jsonErr := json.Unmarshal(body, &payload); jsonErr != nil || payload.Ref == "" {
		http.Error(w, "missing ref", http.StatusInternalServerError)
		return
	}

	results := s.reg.RefreshAll(r.Context(), func(_ string, d declaration.SourceDeclaration) bool {
		if d.Kind != declaration.KindGit {
			return false
		}
		branch := d.Branch
		if branch == "" {
			branch = "master"
		}
		return payload.Ref == "refs/heads/"+branch
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": 200, "errors": errorStrings(results)})
}

func errorStrings(results map[string]error) map[string]string {
	out := map[string]string{}
	for id, err := range results {
		if err != nil {
			out[id] = err.Error()
		}
	}
	return out
}

// handleStatus is GET /status: aggregate across nodes.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	slaves := map[string]any{}

	local := s.reg.Status()
	slaves[local.Hostname] = map[string]any{"sources": local.Sources}

	if s.broadcaster != nil {
		for _, reply := range s.broadcaster.Broadcast(r.Context(), s.cfg.RoutePrefix+"/1/status") {
			if reply.Body == nil {
				continue
			}
			var remote struct {
				Hostname string         `json:"hostname"`
				Sources  map[string]any `json:"sources"`
			}
			if json.Unmarshal(reply.Body, &remote) == nil && remote.Hostname != "" {
				slaves[remote.Hostname] = map[string]any{"sources": remote.Sources}
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"slaves": slaves})
}

// handleStatusOne is GET /status/{id}: broadcast a per-source status
// request, dedup replies by value, drop filtered entries.
func (s *Server) handleStatusOne(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	id := r.PathValue("id")

	seen := map[string]json.RawMessage{}
	if st, ok := s.reg.SourceStatus(id); ok && !st.Filtered {
		b, _ := json.Marshal(st)
		seen[string(b)] = b
	}

	if s.broadcaster != nil {
		for _, reply := range s.broadcaster.Broadcast(r.Context(), s.cfg.RoutePrefix+"/1/status/"+id) {
			if reply.Body == nil {
				continue
			}
			var st struct {
				Filtered bool `json:"filtered"`
			}
			if json.Unmarshal(reply.Body, &st) == nil && st.Filtered {
				continue
			}
			seen[string(reply.Body)] = reply.Body
		}
	}

	if len(seen) == 0 {
		writeError(w, &errs.NotFound{ID: id})
		return
	}

	entries := make([]json.RawMessage, 0, len(seen))
	for _, v := range seen {
		entries = append(entries, v)
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleTarball is GET /tarball/{id}: stream a tar.gz of target_path.
func (s *Server) handleTarball(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	id := r.PathValue("id")

	eng, _, ok := s.reg.Lookup(id)
	if !ok || !eng.IsLoaded() {
		writeError(w, &errs.NotFound{ID: id})
		return
	}

	entries, err := listTarballEntries(eng.GetPath())
	if err != nil {
		writeError(w, &errs.NotFound{ID: id})
		return
	}

	w.Header().Set("Content-Type", "application/x-gtar")
	w.WriteHeader(http.StatusOK)
	if err := subprocess.CreateTarGz(r.Context(), eng.GetPath(), entries, w); err != nil {
		s.log.Error(err, "streaming tarball", "source_id", id)
	}
}

// listTarballEntries walks target_path and returns its entries, moving a
// file literally named ".gitstats" to the end so it lands last on the
// destination, per spec.md §4.1.
func listTarballEntries(root string) ([]string, error) {
	names, err := walkRelative(root)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(names))
	var gitstats string
	for _, n := range names {
		if n == ".gitstats" {
			gitstats = n
			continue
		}
		out = append(out, n)
	}
	if gitstats != "" {
		out = append(out, gitstats)
	}
	return out, nil
}

func walkRelative(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &errs.NotFound{ID: root}
	}

	var names []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if !d.IsDir() {
			names = append(names, rel)
		}
		return nil
	})
	return names, err
}
