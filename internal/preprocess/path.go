package preprocess

import (
	"os"
	"path/filepath"
)

// PathResolution is the outcome of canonicalising one tool-input path.
type PathResolution struct {
	ResolvedPath string
	OriginalPath string
	IsSymlink    bool
}

// ResolvePath canonicalises p, handling three cases the naive
// filepath.EvalSymlinks does not:
//
//  1. p exists and is (or is reached through) a symlink whose target
//     exists: fully resolved via EvalSymlinks.
//  2. p exists and is a symlink whose target does NOT exist (dangling):
//     the resolved path is the symlink's directory joined with the raw
//     readlink target, since EvalSymlinks would otherwise just error.
//  3. p does not exist at all (e.g. a Write call creating a new file):
//     the parent directory is canonicalised and the basename re-joined,
//     so policies still see a stable, symlink-free prefix.
func ResolvePath(p string) PathResolution {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}

	if info, err := os.Lstat(abs); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			target, rlErr := os.Readlink(abs)
			if rlErr == nil {
				if !filepath.IsAbs(target) {
					target = filepath.Join(filepath.Dir(abs), target)
				}
				if _, statErr := os.Stat(target); statErr != nil {
					// Dangling symlink: can't canonicalise a target that
					// doesn't exist, so use the joined raw target as-is.
					return PathResolution{ResolvedPath: target, OriginalPath: abs, IsSymlink: true}
				}
			}
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			return PathResolution{
				ResolvedPath: resolved,
				OriginalPath: abs,
				IsSymlink:    resolved != abs,
			}
		}
	}

	// Not-yet-existing path: canonicalise as much of the tree as exists
	// (walking up from the target until a real directory is found) and
	// re-append the rest unresolved.
	resolved := resolveNearestAncestor(abs)
	return PathResolution{ResolvedPath: resolved, OriginalPath: abs}
}

func resolveNearestAncestor(p string) string {
	dir := filepath.Dir(p)
	base := filepath.Base(p)
	if dir == p {
		return p
	}
	if resolvedDir, err := filepath.EvalSymlinks(dir); err == nil {
		return filepath.Join(resolvedDir, base)
	}
	if _, err := os.Stat(dir); err == nil {
		return p
	}
	return filepath.Join(resolveNearestAncestor(dir), base)
}
