package sync

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// SourceKind discriminates where a registry origin's action package
// comes from (spec §4.3 phase 1 "resolve source").
type SourceKind string

const (
	SourceBuiltin SourceKind = "builtin"
	SourceLocal   SourceKind = "local"
	SourceGit     SourceKind = "git"
)

// Source describes one registry origin's package location.
type Source struct {
	Kind SourceKind
	// Path is a filesystem path for SourceLocal, a git remote URL for
	// SourceGit, or empty for SourceBuiltin (resolved from the
	// platform's embedded action set).
	Path string
	// Ref is a branch, tag, or commit SHA for SourceGit.
	Ref string
	// SSHKeyPath, when set, authenticates the git clone with a
	// deploy key instead of the ambient SSH agent.
	SSHKeyPath string
}

// ParseSource classifies a registry origin URI into a Source. URIs of
// the form "git+ssh://host/path@ref" select SourceGit; a bare
// filesystem path selects SourceLocal; "builtin" selects SourceBuiltin.
func ParseSource(uri string) (Source, error) {
	switch {
	case uri == "" || uri == "builtin":
		return Source{Kind: SourceBuiltin}, nil
	case strings.HasPrefix(uri, "git+ssh://") || strings.HasPrefix(uri, "git+https://"):
		remote := strings.TrimPrefix(uri, "git+")
		ref := ""
		if idx := strings.LastIndex(remote, "@"); idx > strings.Index(remote, "://")+3 {
			ref = remote[idx+1:]
			remote = remote[:idx]
		}
		return Source{Kind: SourceGit, Path: remote, Ref: ref}, nil
	default:
		return Source{Kind: SourceLocal, Path: uri}, nil
	}
}

// Resolve materializes src into a local directory containing the
// origin's action package, returning that directory's path. For
// SourceBuiltin it is the platform's own embedded action package,
// written out under workDir; for SourceLocal it is src.Path itself;
// for SourceGit it is a freshly cloned (or fetched+checked-out)
// worktree under workDir.
func Resolve(ctx context.Context, src Source, workDir string) (string, error) {
	switch src.Kind {
	case SourceBuiltin:
		return resolveBuiltin(workDir)
	case SourceLocal:
		if _, err := os.Stat(src.Path); err != nil {
			return "", fmt.Errorf("registry/sync: local source %q: %w", src.Path, err)
		}
		return src.Path, nil
	case SourceGit:
		return cloneGit(ctx, src, workDir)
	default:
		return "", fmt.Errorf("registry/sync: unknown source kind %q", src.Kind)
	}
}

// VersionHint returns the deterministic version string src's resolved
// packageDir implies, or "" if none applies and the caller must fall
// back to a timestamp (spec §4.3 "either the short commit SHA (git),
// the package's declared version (builtin), or a timestamp"). For
// SourceGit it is the short (7-character) HEAD commit SHA of the
// clone at packageDir; for SourceBuiltin it is BuiltinVersion.
func VersionHint(src Source, packageDir string) (string, error) {
	switch src.Kind {
	case SourceBuiltin:
		return BuiltinVersion, nil
	case SourceGit:
		return headCommitShort(packageDir)
	default:
		return "", nil
	}
}

func headCommitShort(packageDir string) (string, error) {
	repo, err := git.PlainOpen(packageDir)
	if err != nil {
		return "", fmt.Errorf("registry/sync: open cloned repo %q: %w", packageDir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("registry/sync: resolve HEAD in %q: %w", packageDir, err)
	}
	sha := head.Hash().String()
	if len(sha) > 7 {
		sha = sha[:7]
	}
	return sha, nil
}

func cloneGit(ctx context.Context, src Source, workDir string) (string, error) {
	cloneOpts := &git.CloneOptions{
		URL:   src.Path,
		Depth: 1,
	}
	if src.Ref != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(src.Ref)
		cloneOpts.SingleBranch = true
	}
	if src.SSHKeyPath != "" {
		auth, err := ssh.NewPublicKeysFromFile("git", src.SSHKeyPath, "")
		if err != nil {
			return "", fmt.Errorf("registry/sync: load deploy key %q: %w", src.SSHKeyPath, err)
		}
		cloneOpts.Auth = auth
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("registry/sync: create work dir %q: %w", workDir, err)
	}

	repo, err := git.PlainCloneContext(ctx, workDir, false, cloneOpts)
	if err != nil {
		return "", fmt.Errorf("registry/sync: clone %q: %w", src.Path, err)
	}

	if src.Ref != "" {
		wt, err := repo.Worktree()
		if err != nil {
			return "", fmt.Errorf("registry/sync: open worktree for %q: %w", src.Path, err)
		}
		hash, err := repo.ResolveRevision(plumbing.Revision(src.Ref))
		if err == nil {
			if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash}); err != nil {
				return "", fmt.Errorf("registry/sync: checkout %q@%q: %w", src.Path, src.Ref, err)
			}
		}
	}

	return workDir, nil
}
