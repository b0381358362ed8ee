package resolver

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// NotFoundError carries every path that was tried, for observability.
type NotFoundError struct {
	Input     string
	Attempted []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("file not found for %q after %d strategies", e.Input, len(e.Attempted))
}

// frameIDPattern matches capture basenames like frame001_1724480000.bmp.
var frameIDPattern = regexp.MustCompile(`(frame\d+)_`)

// Resolver locates inspection images referenced by historical paths. The
// UI has stored project-relative, OS-absolute, and URL-embedded shapes
// over the years, so resolution is a strategy chain over the inspection
// root.
type Resolver struct {
	// InspectionRoot is where dated capture directories live.
	InspectionRoot string

	// stat and walk are swappable for tests.
	stat func(string) (fs.FileInfo, error)
}

func New(inspectionRoot string) *Resolver {
	return &Resolver{
		InspectionRoot: inspectionRoot,
		stat:           os.Stat,
	}
}

// Resolve returns the first existing regular file the strategies find.
func (r *Resolver) Resolve(input string) (string, error) {
	var attempted []string

	try := func(path string) bool {
		if path == "" {
			return false
		}
		attempted = append(attempted, path)
		info, err := r.stat(path)
		return err == nil && info.Mode().IsRegular()
	}

	normalized := filepath.FromSlash(strings.ReplaceAll(input, "\\", "/"))

	// 1. Literal path.
	if try(normalized) {
		return normalized, nil
	}

	// 2. Strip a leading src-api/ left over from the old layout.
	slashed := strings.TrimPrefix(filepath.ToSlash(normalized), "./")
	if rest, ok := strings.CutPrefix(slashed, "src-api/"); ok {
		p := filepath.FromSlash(rest)
		if try(p) {
			return p, nil
		}
	}

	// 3. Suffix after the last inspection/ segment, joined under the root.
	if idx := strings.LastIndex(slashed, "inspection/"); idx >= 0 {
		suffix := slashed[idx+len("inspection/"):]
		p := filepath.Join(r.InspectionRoot, filepath.FromSlash(suffix))
		if try(p) {
			return p, nil
		}
	}

	base := filepath.Base(normalized)

	// 4. Exact basename inside each dated subdirectory.
	for _, dated := range r.datedDirs() {
		p := filepath.Join(dated, base)
		if try(p) {
			return p, nil
		}
	}

	// 5. Recursive walk under the root.
	if found := r.walkFor(base, &attempted); found != "" {
		return found, nil
	}

	// 6. Frame-id glob: any capture sharing the frame number.
	if m := frameIDPattern.FindStringSubmatch(base); m != nil {
		pattern := filepath.Join(r.InspectionRoot, "*", m[1]+"_*"+filepath.Ext(base))
		attempted = append(attempted, pattern)
		if matches, err := filepath.Glob(pattern); err == nil && len(matches) > 0 {
			return matches[0], nil
		}
	}

	return "", &NotFoundError{Input: input, Attempted: attempted}
}

func (r *Resolver) datedDirs() []string {
	entries, err := os.ReadDir(r.InspectionRoot)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(r.InspectionRoot, e.Name()))
		}
	}
	return dirs
}

func (r *Resolver) walkFor(base string, attempted *[]string) string {
	*attempted = append(*attempted, filepath.Join(r.InspectionRoot, "**", base))
	var found string
	filepath.WalkDir(r.InspectionRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == base {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	return found
}
