// Package pathutil canonicalizes and classifies the project-relative paths
// that flow through every other core package: targets, inputs, and the
// generated-output prefix that separates the two.
package pathutil

import (
	"fmt"
	"path"
	"strings"
)

// BadPathError reports a path that cannot be canonicalized: empty, escaping
// the project root via "..", or otherwise malformed.
type BadPathError struct {
	Path   string
	Reason string
}

func (e *BadPathError) Error() string {
	return fmt.Sprintf("pathutil: %q: %s", e.Path, e.Reason)
}

// IsAbsoluteBinary reports whether p is an absolute path, which is
// permitted only as an opaque reference to a host-system binary (e.g. an
// input naming /usr/bin/sass). Absolute paths never participate in
// classification as source or generated and are never canonicalized
// further.
func IsAbsoluteBinary(p string) bool {
	return strings.HasPrefix(p, "/") || hasWindowsDrive(p)
}

func hasWindowsDrive(p string) bool {
	return len(p) >= 2 && p[1] == ':' && isASCIILetter(p[0])
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// Clean canonicalizes a project-relative path: backslashes become forward
// slashes, "." segments collapse, and a leading "./" is stripped. It
// rejects empty paths and any path whose cleaned form still escapes the
// project root with a leading "../".
//
// Absolute paths (per IsAbsoluteBinary) pass through unchanged — they are
// opaque references, not project-relative paths to canonicalize.
func Clean(p string) (string, error) {
	if p == "" {
		return "", &BadPathError{Path: p, Reason: "empty path"}
	}
	if IsAbsoluteBinary(p) {
		return filepathToSlash(p), nil
	}

	slashed := filepathToSlash(p)
	cleaned := path.Clean(slashed)
	cleaned = strings.TrimPrefix(cleaned, "./")

	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", &BadPathError{Path: p, Reason: "escapes project root"}
	}
	if cleaned == "." {
		return "", &BadPathError{Path: p, Reason: "empty path"}
	}
	return cleaned, nil
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// Classifier classifies project-relative paths as source or generated,
// based on a configurable genfiles prefix (default "genfiles").
type Classifier struct {
	genfilesPrefix string
}

// NewClassifier returns a Classifier using prefix as the generated-path
// root. An empty prefix defaults to "genfiles".
func NewClassifier(prefix string) (*Classifier, error) {
	if prefix == "" {
		prefix = "genfiles"
	}
	clean, err := Clean(prefix)
	if err != nil {
		return nil, fmt.Errorf("pathutil: invalid genfiles prefix: %w", err)
	}
	return &Classifier{genfilesPrefix: clean}, nil
}

// GenfilesPrefix returns the configured generated-path prefix.
func (c *Classifier) GenfilesPrefix() string {
	return c.genfilesPrefix
}

// IsGenerated reports whether cleanPath (already Clean-ed) lives under the
// genfiles prefix.
func (c *Classifier) IsGenerated(cleanPath string) bool {
	if IsAbsoluteBinary(cleanPath) {
		return false
	}
	return cleanPath == c.genfilesPrefix || strings.HasPrefix(cleanPath, c.genfilesPrefix+"/")
}

// IsSource reports whether cleanPath is a source path: not generated and
// not an absolute binary reference.
func (c *Classifier) IsSource(cleanPath string) bool {
	return !IsAbsoluteBinary(cleanPath) && !c.IsGenerated(cleanPath)
}
