package daemon

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/engram/pkg/types"
)

const maxProjectDiscoveryDepth = 4

var skipProjectDirNames = map[string]bool{"node_modules": true, "venv": true}

// discoverProjects walks each configured root to maxProjectDiscoveryDepth,
// registering every directory that carries a .claude marker as a Project.
// Dot-directories are skipped except .claude itself, which marks a project
// root but is never descended into for further discovery.
func discoverProjects(roots []string) []*types.Project {
	var out []*types.Project
	for _, root := range roots {
		walkProjectDir(root, nil, 0, &out)
	}
	return out
}

func walkProjectDir(dir string, parentID *string, depth int, out *[]*types.Project) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	nextParent := parentID
	if hasClaudeMarker(entries) {
		id := escapeProjectPath(dir)
		*out = append(*out, &types.Project{
			ID:       id,
			Name:     filepath.Base(dir),
			RootPath: dir,
			ParentID: parentID,
		})
		nextParent = &id
	}

	if depth >= maxProjectDiscoveryDepth {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if skipProjectDirNames[name] || name == ".claude" {
			continue
		}
		if strings.HasPrefix(name, ".") {
			continue
		}
		walkProjectDir(filepath.Join(dir, name), nextParent, depth+1, out)
	}
}

func hasClaudeMarker(entries []os.DirEntry) bool {
	for _, e := range entries {
		if e.IsDir() && e.Name() == ".claude" {
			return true
		}
	}
	return false
}

// escapeProjectPath mirrors the transcript producer's directory-naming
// scheme (path separators become "-") so a registered project's ID lines
// up with resolveProject's escaped directory name for the same root.
func escapeProjectPath(path string) string {
	return strings.ReplaceAll(path, string(os.PathSeparator), "-")
}
