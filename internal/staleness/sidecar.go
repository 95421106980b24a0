// Package staleness decides whether a resolved node needs rebuilding:
// missing output, newer inputs, a bumped rule version, or a changed
// context digest, each read against the sidecar persisted next to the
// output on the last successful build.
package staleness

import (
	"fmt"
	"os"
	"sort"
	"strings"

	digest "github.com/opencontainers/go-digest"
	"github.com/pelletier/go-toml/v2"
)

// sidecarSuffix is appended to an output's full path to name its sidecar
// file.
const sidecarSuffix = ".__meta__"

// Sidecar is the small persisted record of what was true about a node at
// its last successful build.
type Sidecar struct {
	VersionTag    int    `toml:"version_tag"`
	ContextDigest string `toml:"context_digest"`
}

// SidecarPath returns the sidecar path for a given output's full path.
func SidecarPath(outputFullPath string) string {
	return outputFullPath + sidecarSuffix
}

// ReadSidecar loads the sidecar for outputFullPath. A missing file returns
// (nil, nil): "no sidecar" is a normal, staleness-forcing state, not an
// error. An unparsable sidecar is also folded into (nil, nil) so a
// corrupted sidecar degrades to "rebuild".
func ReadSidecar(outputFullPath string) (*Sidecar, error) {
	data, err := os.ReadFile(SidecarPath(outputFullPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("staleness: reading sidecar for %q: %w", outputFullPath, err)
	}

	var sc Sidecar
	if err := toml.Unmarshal(data, &sc); err != nil {
		return nil, nil
	}
	return &sc, nil
}

// WriteSidecar persists sc next to outputFullPath. Only called by the
// executor on a successful build; the sidecar stays unwritten on failure,
// so the next build still sees the node as stale.
func WriteSidecar(outputFullPath string, sc Sidecar) error {
	data, err := toml.Marshal(sc)
	if err != nil {
		return fmt.Errorf("staleness: marshaling sidecar for %q: %w", outputFullPath, err)
	}
	if err := os.WriteFile(SidecarPath(outputFullPath), data, 0o644); err != nil {
		return fmt.Errorf("staleness: writing sidecar for %q: %w", outputFullPath, err)
	}
	return nil
}

// ContextDigest computes a stable digest of a context view: order-
// independent, so key insertion order never changes the result.
func ContextDigest(view map[string]string) string {
	if len(view) == 0 {
		return ""
	}
	keys := make([]string, 0, len(view))
	for k := range view {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(view[k])
		b.WriteByte('\n')
	}
	return digest.FromString(b.String()).String()
}
