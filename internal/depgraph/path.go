package depgraph

import "path/filepath"

func joinPath(root, rel string) string {
	return filepath.ToSlash(filepath.Join(root, filepath.FromSlash(rel)))
}
