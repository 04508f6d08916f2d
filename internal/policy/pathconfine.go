package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscapes is returned by ConfinePath when a resolved path does not
// fall under any configured allowed root.
var ErrPathEscapes = fmt.Errorf("policy: path escapes allowed roots")

// ConfinePath resolves path through symlinks and verifies the canonical
// result falls under one of allowedRoots (spec.md §4.C "Path confinement",
// P9). Grounded on internal/tools/files/resolver.go's workspace-relative
// Resolve, extended with symlink resolution so broken symlinks, symlink
// chains, and non-existent targets cannot be used to escape confinement.
//
// Resolution walks from the target up to the first existing ancestor,
// resolving symlinks with filepath.EvalSymlinks on that ancestor, then
// rejoins the non-existent suffix (if any) onto the canonicalized ancestor.
// This matches the spec's requirement that resolution succeed even for
// paths that do not yet exist (e.g. a file about to be created).
func ConfinePath(path string, allowedRoots []string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("policy: path is required")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("policy: resolve absolute path: %w", err)
	}
	abs = filepath.Clean(abs)

	canonical, err := canonicalizeNearestExisting(abs)
	if err != nil {
		return "", err
	}

	for _, root := range allowedRoots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rootCanonical, err := canonicalizeNearestExisting(filepath.Clean(rootAbs))
		if err != nil {
			continue
		}
		if isUnderRoot(canonical, rootCanonical) {
			return canonical, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrPathEscapes, canonical)
}

// canonicalizeNearestExisting resolves symlinks on the longest existing
// prefix of path and rejoins the remaining (not-yet-existing) suffix
// unresolved, so a path to a file that doesn't exist yet can still be
// confined correctly.
func canonicalizeNearestExisting(path string) (string, error) {
	current := path
	var suffix []string

	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			joined := resolved
			if len(suffix) > 0 {
				joined = filepath.Join(append([]string{resolved}, suffix...)...)
			}
			return filepath.Clean(joined), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("policy: resolve symlinks for %q: %w", current, err)
		}

		parent := filepath.Dir(current)
		if parent == current {
			// Reached filesystem root without finding an existing
			// ancestor; nothing left to resolve.
			return filepath.Clean(path), nil
		}
		suffix = append([]string{filepath.Base(current)}, suffix...)
		current = parent
	}
}

// isUnderRoot reports whether target is root or a descendant of root,
// comparing cleaned absolute paths (not textual prefixes, so
// "/allowed-evil" is never treated as under "/allowed").
func isUnderRoot(target, root string) bool {
	if target == root {
		return true
	}
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
