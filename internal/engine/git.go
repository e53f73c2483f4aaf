package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// gitEngine holds the state a git source's closures need. It is never
// exposed directly: NewGitEngine wires its methods into a *Base and returns
// the Base as the Engine value, per spec.md §9's composition-not-inheritance
// note.
type gitEngine struct {
	*Base

	repoURL   string
	branch    string
	subDir    string
	sparse    bool
	sshKey    string
	clonePath string
}

// NewGitEngine builds the git source engine spec.md §4.3 describes: a
// shared clone dir keyed by url-safe base64 of "<repo URL>#<branch>", unless
// sparse=true and sub_dir is set, in which case a per-id sparse clone is
// used instead.
func NewGitEngine(p Params) (Engine, error) {
	decl := p.Decl
	branch := decl.Branch
	if branch == "" {
		branch = "master"
	}

	sparse := decl.Sparse && decl.SubDir != ""

	var clonePath string
	if sparse {
		clonePath = filepath.Join(p.Config.CloneRoot, "sparse-"+p.ID)
	} else {
		key := base64.URLEncoding.EncodeToString([]byte(decl.Repo + "#" + branch))
		clonePath = filepath.Join(p.Config.CloneRoot, key)
	}

	g := &gitEngine{
		Base:      newBase(p),
		repoURL:   decl.Repo,
		branch:    branch,
		subDir:    decl.SubDir,
		sparse:    sparse,
		sshKey:    decl.SSHKey,
		clonePath: clonePath,
	}
	g.doRefresh = g.refresh
	g.doDelete = g.cleanup
	return g.Base, nil
}

func (g *gitEngine) auth() (transport.AuthMethod, error) {
	if g.sshKey == "" {
		return nil, nil
	}
	keyPath, err := installSSHKey(g.id, g.sshKey)
	if err != nil {
		return nil, err
	}
	return sshAuthFromKeyFile(keyPath)
}

// refresh clones branch at depth 1 (or, when a clone already exists,
// fetches without a depth limit and checks out branch), publishes sub_dir
// (or the clone root) into target_path via the copy step with .git
// excluded, and writes .gitstats. A fetch error falls back to rm -rf of the
// clone dir and a single retry, per spec.md §4.3.
func (g *gitEngine) refresh(ctx context.Context) error {
	auth, err := g.auth()
	if err != nil {
		return err
	}

	hash, err := g.cloneOrFetch(ctx, auth)
	if err != nil {
		// fetch-error fallback: rm -rf the clone and retry once.
		if rmErr := os.RemoveAll(g.clonePath); rmErr != nil {
			return fmt.Errorf("git refresh failed (%v) and clone cleanup failed: %w", err, rmErr)
		}
		hash, err = g.cloneOrFetch(ctx, auth)
		if err != nil {
			return fmt.Errorf("git refresh retry failed: %w", err)
		}
	}

	srcDir := g.clonePath
	if g.subDir != "" {
		srcDir = filepath.Join(g.clonePath, g.subDir)
	}

	if err := g.copyStep(ctx, srcDir, []string{".git"}); err != nil {
		return fmt.Errorf("publishing %s: %w", srcDir, err)
	}

	tags, err := tagsPointingAt(g.clonePath, hash)
	if err != nil {
		g.log.Error(err, "listing tags at HEAD")
	}
	g.SetHash(hash, tags)

	return writeGitStats(g.targetPath, hash, tags)
}

func (g *gitEngine) cloneOrFetch(ctx context.Context, auth transport.AuthMethod) (string, error) {
	if isGitRepo(g.clonePath) {
		return g.fetchAndCheckout(ctx, auth)
	}
	return g.cloneAndCheckout(ctx, auth)
}

func (g *gitEngine) cloneAndCheckout(ctx context.Context, auth transport.AuthMethod) (string, error) {
	opts := &gogit.CloneOptions{
		URL:           g.repoURL,
		Auth:          auth,
		Depth:         1,
		ReferenceName: plumbing.NewBranchReferenceName(g.branch),
		SingleBranch:  true,
		Tags:          gogit.AllTags,
	}
	if g.sparse {
		opts.ReferenceName = plumbing.NewBranchReferenceName(g.branch)
	}

	repo, err := gogit.PlainCloneContext(ctx, g.clonePath, false, opts)
	if err != nil {
		return "", fmt.Errorf("git clone %s (branch %s): %w", g.repoURL, g.branch, err)
	}

	if g.sparse {
		if err := applySparseCheckout(repo, g.subDir); err != nil {
			return "", err
		}
	}

	return headHash(repo)
}

func (g *gitEngine) fetchAndCheckout(ctx context.Context, auth transport.AuthMethod) (string, error) {
	repo, err := gogit.PlainOpen(g.clonePath)
	if err != nil {
		return "", fmt.Errorf("opening clone at %s: %w", g.clonePath, err)
	}

	err = repo.FetchContext(ctx, &gogit.FetchOptions{
		Auth:  auth,
		Force: true,
		Tags:  gogit.AllTags,
	})
	if err != nil && err != gogit.NoErrAlreadyUpToDate {
		return "", fmt.Errorf("git fetch %s: %w", g.repoURL, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("worktree: %w", err)
	}
	if err := wt.Checkout(&gogit.CheckoutOptions{
		Branch: plumbing.NewRemoteReferenceName("origin", g.branch),
		Force:  true,
	}); err != nil {
		return "", fmt.Errorf("checkout %s: %w", g.branch, err)
	}

	return headHash(repo)
}

// cleanup removes this id's sparse clone dir. A shared clone dir (keyed by
// repo+branch) is not removed and stays on disk after delete. The ssh key
// is removed by Base.Delete, not here.
func (g *gitEngine) cleanup(_ context.Context) error {
	if g.sparse {
		return os.RemoveAll(g.clonePath)
	}
	return nil
}

func isGitRepo(path string) bool {
	_, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil
}

func headHash(repo *gogit.Repository) (string, error) {
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// tagsPointingAt mirrors `git tag --points-at HEAD`.
func tagsPointingAt(clonePath, hash string) ([]string, error) {
	repo, err := gogit.PlainOpen(clonePath)
	if err != nil {
		return nil, err
	}
	iter, err := repo.Tags()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var tags []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		commitHash := ref.Hash().String()
		if obj, tagErr := repo.TagObject(ref.Hash()); tagErr == nil {
			commitHash = obj.Target.String()
		}
		if commitHash == hash {
			tags = append(tags, name)
		}
		return nil
	})
	return tags, err
}

func writeGitStats(targetPath, hash string, tags []string) error {
	if err := os.MkdirAll(targetPath, 0o755); err != nil {
		return err
	}
	body := "hash: " + hash + "\ntags:\n"
	for _, t := range tags {
		body += "  - " + t + "\n"
	}
	return os.WriteFile(filepath.Join(targetPath, ".gitstats"), []byte(body), 0o644)
}

func applySparseCheckout(repo *gogit.Repository, subDir string) error {
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	cfg, err := repo.Config()
	if err != nil {
		return err
	}
	cfg.Raw.Section("core").SetOption("sparseCheckout", "true")
	if err := repo.SetConfig(cfg); err != nil {
		return err
	}
	info := filepath.Join(wt.Filesystem.Root(), ".git", "info")
	if err := os.MkdirAll(info, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(info, "sparse-checkout"), []byte(strings.TrimPrefix(subDir, "/")+"/*\n"), 0o644)
}

