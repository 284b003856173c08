// Package workspace contains the path containment guard. Every tool resolves
// user- and model-supplied paths through a Guard so that no operation can
// read or write outside the repository root, including through symlinks.
package workspace

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

var driveLetterPattern = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// Guard checks paths against a fixed, canonicalized workspace root.
type Guard struct {
	root            string
	caseInsensitive bool
}

// New canonicalizes root (which must exist) and returns a guard for it.
func New(root string) (*Guard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	return &Guard{
		root:            canonical,
		caseInsensitive: runtime.GOOS == "windows" || runtime.GOOS == "darwin",
	}, nil
}

// Root returns the canonical workspace root.
func (g *Guard) Root() string {
	return g.root
}

// Resolve maps a relative path under the root to a safe absolute path.
// It refuses empty or whitespace input, absolute paths in any convention
// (POSIX root, UNC prefix, drive letter), and anything IsSafe rejects.
func (g *Guard) Resolve(rel string) (string, bool) {
	if strings.TrimSpace(rel) == "" {
		return "", false
	}
	if strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\\`) ||
		driveLetterPattern.MatchString(rel) || filepath.IsAbs(rel) {
		return "", false
	}
	joined := filepath.Join(g.root, filepath.FromSlash(rel))
	if !g.IsSafe(joined) {
		return "", false
	}
	return joined, true
}

// IsSafe reports whether abs stays inside the root. The path must be
// lexically contained, and every existing segment that is a symlink must
// resolve to a target that is itself contained. Non-existent tail segments
// are permitted so that writes to new files work. Any I/O failure during
// checking collapses to unsafe.
func (g *Guard) IsSafe(abs string) bool {
	cleaned := filepath.Clean(abs)
	if !g.contains(cleaned) {
		return false
	}
	rel, err := filepath.Rel(g.root, cleaned)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}

	current := g.root
	for _, segment := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, segment)
		info, err := os.Lstat(current)
		if err != nil {
			// The tail does not exist yet; lexical containment already held.
			return os.IsNotExist(err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(current)
			if err != nil {
				return false
			}
			if !g.contains(target) {
				return false
			}
			current = target
		}
	}
	return true
}

func (g *Guard) contains(path string) bool {
	candidate, root := path, g.root
	if g.caseInsensitive {
		candidate = strings.ToLower(candidate)
		root = strings.ToLower(root)
	}
	return candidate == root || strings.HasPrefix(candidate, root+string(filepath.Separator))
}
