// Package resolver implements the path & source resolver (spec component
// F): turning a caller-supplied source path (absolute, repo-relative, or
// cwd-relative) into a canonical absolute path, and validating whether a
// given line is a sensible place to set a breakpoint.
package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provenance records which candidate a resolution came from, per spec §9's
// "pure ordered-candidate function returning a canonical absolute path plus
// a provenance enum."
type Provenance string

const (
	ProvenanceAbsolute       Provenance = "absolute"
	ProvenanceRepoRooted     Provenance = "repo-rooted"
	ProvenanceCwdRooted      Provenance = "cwd-rooted"
	ProvenanceFirstCandidate Provenance = "first-candidate-fallback"
)

// Resolved is the outcome of resolving a caller-supplied source path.
type Resolved struct {
	Path       string
	Provenance Provenance
}

// Resolver resolves source paths against a fixed repo root, rejecting any
// result that would escape it via traversal.
type Resolver struct {
	RepoRoot string
}

// New returns a Resolver rooted at repoRoot. repoRoot is canonicalized
// immediately so later containment checks compare like-for-like.
func New(repoRoot string) (*Resolver, error) {
	abs, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve repo root %q: %w", repoRoot, err)
	}
	return &Resolver{RepoRoot: abs}, nil
}

// Resolve implements the candidate ordering from spec §4.D.2:
//   - absolute paths are canonicalized and used as-is;
//   - relative paths whose first segment names a top-level directory of the
//     repo root prefer repo_root/path, then canonicalize(path);
//   - other relative paths prefer repo_root/path, then cwd/path, then
//     canonicalize(path);
//   - candidates are deduplicated preserving order; the first that exists
//     on disk wins; if none exist, the first candidate is used anyway.
//
// A repo-relative sourcePath whose ".." segments would resolve outside
// RepoRoot is rejected (spec §1 non-goal: "refusing traversal outside a
// configured root"); an absolute sourcePath names a location the caller
// already chose explicitly and is never subject to this check.
func (r *Resolver) Resolve(cwd, sourcePath string) (Resolved, error) {
	if filepath.IsAbs(sourcePath) {
		// Absolute paths are used as-is (spec §4.D.2); the repo-root
		// containment check below applies only to repo-relative
		// candidates, since an absolute path names a location the
		// caller already chose explicitly, not a traversal.
		abs := filepath.Clean(sourcePath)
		return Resolved{Path: abs, Provenance: ProvenanceAbsolute}, nil
	}

	if err := r.checkContained(filepath.Join(r.RepoRoot, sourcePath)); err != nil {
		return Resolved{}, err
	}

	absCwd, err := filepath.Abs(cwd)
	if err != nil {
		return Resolved{}, fmt.Errorf("resolve cwd %q: %w", cwd, err)
	}

	repoRootCandidate := filepath.Join(r.RepoRoot, sourcePath)
	cwdCandidate := filepath.Join(absCwd, sourcePath)
	plainCandidate := filepath.Clean(filepath.Join(absCwd, sourcePath))

	var ordered []struct {
		path string
		prov Provenance
	}
	if namesTopLevelRepoDir(r.RepoRoot, sourcePath) {
		ordered = []struct {
			path string
			prov Provenance
		}{
			{repoRootCandidate, ProvenanceRepoRooted},
			{plainCandidate, ProvenanceCwdRooted},
		}
	} else {
		ordered = []struct {
			path string
			prov Provenance
		}{
			{repoRootCandidate, ProvenanceRepoRooted},
			{cwdCandidate, ProvenanceCwdRooted},
			{plainCandidate, ProvenanceCwdRooted},
		}
	}

	dedup := make([]struct {
		path string
		prov Provenance
	}, 0, len(ordered))
	seen := map[string]bool{}
	for _, c := range ordered {
		clean := filepath.Clean(c.path)
		if seen[clean] {
			continue
		}
		seen[clean] = true
		dedup = append(dedup, struct {
			path string
			prov Provenance
		}{clean, c.prov})
	}

	var chosen *Resolved
	for _, c := range dedup {
		if _, err := os.Stat(c.path); err == nil {
			r := Resolved{Path: c.path, Provenance: c.prov}
			chosen = &r
			break
		}
	}
	if chosen == nil {
		first := dedup[0]
		chosen = &Resolved{Path: first.path, Provenance: ProvenanceFirstCandidate}
	}

	return *chosen, nil
}

// namesTopLevelRepoDir reports whether sourcePath's first path segment
// matches the name of a top-level directory (or file) of the repo root.
func namesTopLevelRepoDir(repoRoot, sourcePath string) bool {
	first := strings.SplitN(filepath.ToSlash(sourcePath), "/", 2)[0]
	if first == "" || first == "." || first == ".." {
		return false
	}
	entries, err := os.ReadDir(repoRoot)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Name() == first {
			return true
		}
	}
	return false
}

// checkContained rejects any resolved path that would land outside
// RepoRoot via `..` traversal.
func (r *Resolver) checkContained(path string) error {
	rel, err := filepath.Rel(r.RepoRoot, path)
	if err != nil {
		return fmt.Errorf("resolve path containment: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes repo root %q via traversal", path, r.RepoRoot)
	}
	return nil
}
