// Package cookies locates and parses the Netscape-format cookie file that
// carries an authenticated Apple Music session.
package cookies

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// EnvVar names the environment variable that may point at the cookie file.
	EnvVar = "APPLE_MUSIC_COOKIES"

	// DefaultFileName is looked up in the working directory and next to the binary.
	DefaultFileName = "cookies.txt"
)

// ResolveOptions carries every input of a resolution. The ambient values
// (environment, working directory, binary location) are explicit so callers
// and tests can override each one independently.
type ResolveOptions struct {
	Explicit    string // --cookies value
	ExplicitSet bool   // --cookies was given, even as ""; implied by a non-empty Explicit
	EnvValue    string // value of APPLE_MUSIC_COOKIES; empty means unset
	Cwd         string // base for relative candidates
	ScriptDir   string // directory holding the running binary
}

// maxLinkHops bounds symlink chains followed through missing targets.
const maxLinkHops = 40

// NotFoundError is returned when no candidate is an existing regular file.
type NotFoundError struct {
	Searched []string // absolute candidates, in the order they were checked
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return "missing Apple Music cookies file. Provide a Netscape-format " +
		"cookies.txt via the --cookies flag, " + EnvVar + " environment " +
		"variable, or by placing cookies.txt in one of the searched locations:\n" +
		" - " + strings.Join(e.Searched, "\n - ")
}

// OptionsFromEnvironment fills the ambient inputs from the current process.
// A non-empty explicit path counts as given; set ExplicitSet on the result
// when an empty one was passed on purpose.
func OptionsFromEnvironment(explicit string) ResolveOptions {
	opts := ResolveOptions{
		Explicit:    explicit,
		ExplicitSet: explicit != "",
		EnvValue:    os.Getenv(EnvVar),
	}
	if cwd, err := os.Getwd(); err == nil {
		opts.Cwd = cwd
	}
	opts.ScriptDir = executableDir()
	return opts
}

// Candidates returns the ordered search list for opts, before absolutization.
// A given explicit path is the only candidate.
func Candidates(opts ResolveOptions) []string {
	if opts.ExplicitSet || opts.Explicit != "" {
		return []string{opts.Explicit}
	}

	var candidates []string
	if opts.EnvValue != "" {
		candidates = append(candidates, opts.EnvValue)
	}
	candidates = append(candidates, DefaultFileName)
	candidates = append(candidates, filepath.Join(opts.ScriptDir, DefaultFileName))
	return candidates
}

// Resolve returns the absolute path of the first candidate that exists as a
// regular file, or a *NotFoundError listing every location checked.
func Resolve(opts ResolveOptions) (string, error) {
	candidates := Candidates(opts)
	searched := make([]string, 0, len(candidates))

	for _, candidate := range candidates {
		abs := absolute(opts.Cwd, candidate)
		if isRegularFile(abs) {
			return abs, nil
		}
		searched = append(searched, abs)
	}

	return "", &NotFoundError{Searched: searched}
}

// absolute anchors p at cwd and follows the symlinks along its existing
// prefix. Components past the last existing one are kept as written.
func absolute(cwd, p string) string {
	var abs string
	switch {
	case filepath.IsAbs(p):
		abs = filepath.Clean(p)
	case cwd != "":
		abs = filepath.Join(cwd, p)
	default:
		var err error
		if abs, err = filepath.Abs(p); err != nil {
			abs = filepath.Clean(p)
		}
	}

	return resolveLinks(abs, 0)
}

func resolveLinks(p string, hops int) string {
	if real, err := filepath.EvalSymlinks(p); err == nil {
		return real
	}
	parent := filepath.Dir(p)
	if parent == p {
		return p
	}
	dir := resolveLinks(parent, hops)
	joined := filepath.Join(dir, filepath.Base(p))

	// a dangling link still names its target
	if hops < maxLinkHops {
		if target, err := os.Readlink(joined); err == nil {
			if !filepath.IsAbs(target) {
				target = filepath.Join(dir, target)
			}
			return resolveLinks(target, hops+1)
		}
	}
	return joined
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	if real, err := filepath.EvalSymlinks(exe); err == nil {
		exe = real
	}
	return filepath.Dir(exe)
}
