package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/text/unicode/norm"
)

// Canonicalizer resolves client-supplied filenames against a fixed
// root, per spec.md §4.F's path discipline: reject empty names and
// trailing slashes, create missing parent directories, resolve to an
// absolute path still rooted under Root, and optionally check the
// basename against an allow-list.
type Canonicalizer struct {
	Root  string
	Allow glob.Glob // nil disables the allow-list check
}

// Resolve returns the absolute, root-contained path for name, creating
// any missing parent directories (mode 0777, subject to umask) along
// the way.
func (c *Canonicalizer) Resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("writer: empty filename")
	}
	if strings.HasSuffix(name, "/") {
		return "", fmt.Errorf("writer: filename %q ends in a slash", name)
	}

	normalized := norm.NFC.String(name)
	joined := filepath.Join(c.Root, normalized)

	rootAbsLex, err := filepath.Abs(c.Root)
	if err != nil {
		return "", fmt.Errorf("writer: resolving root: %w", err)
	}
	if !isWithin(rootAbsLex, joined) {
		// Reject lexically before creating anything: original_source's
		// canonicalizer only checked this after mkdir, which would
		// have already created directories outside the root.
		return "", fmt.Errorf("writer: %q resolves outside of root %q", joined, rootAbsLex)
	}

	dir := filepath.Dir(joined)
	if err := os.MkdirAll(dir, 0777); err != nil {
		return "", fmt.Errorf("writer: creating parent directories: %w", err)
	}

	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("writer: resolving %q: %w", dir, err)
	}
	final := filepath.Join(resolvedDir, filepath.Base(joined))

	rootAbs, err := filepath.Abs(c.Root)
	if err != nil {
		return "", fmt.Errorf("writer: resolving root: %w", err)
	}
	rootAbs, err = filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", fmt.Errorf("writer: resolving root: %w", err)
	}

	if !isWithin(rootAbs, final) {
		return "", fmt.Errorf("writer: %q resolves outside of root %q", final, rootAbs)
	}

	if c.Allow != nil && !c.Allow.Match(filepath.Base(final)) {
		return "", fmt.Errorf("writer: %q does not match the allowed filename patterns", filepath.Base(final))
	}

	return final, nil
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
