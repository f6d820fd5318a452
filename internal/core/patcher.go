package core

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/tailscale/hujson"
)

// BackupSuffix is appended to a workspace file while it is patched.
const BackupSuffix = ".ng-upgrade-backup"

var (
	tsconfigName     = regexp.MustCompile(`^tsconfig.*\.json$`)
	parentExtends    = regexp.MustCompile(`^\.\./([\w.\-]+\.json)$`)
	parentFolderPath = regexp.MustCompile(`"\.\./([\w.\-]+)/([\w.\-/]+)"`)
)

// PatchedFile describes one workspace file rewritten by Patch.
type PatchedFile struct {
	Path    string
	Changes []string
}

// String renders the file and its changes on one line.
func (f PatchedFile) String() string {
	return fmt.Sprintf("%s (%s)", filepath.Base(f.Path), strings.Join(f.Changes, ", "))
}

// WorkspacePatcher rewrites parent-relative paths in angular.json and the
// root tsconfig files so migrations resolve them inside the project. Every
// patched file is backed up first; Restore puts the originals back.
type WorkspacePatcher struct {
	dir string
}

// NewWorkspacePatcher creates a patcher for the project in dir.
func NewWorkspacePatcher(dir string) *WorkspacePatcher {
	return &WorkspacePatcher{dir: dir}
}

// Patch rewrites the workspace files that need it and returns what changed.
func (p *WorkspacePatcher) Patch() ([]PatchedFile, error) {
	files, err := p.candidates()
	if err != nil {
		return nil, errors.Trace(err)
	}

	base, err := filepath.Abs(p.dir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	selfRef := "../" + filepath.Base(base) + "/"

	var patched []PatchedFile
	for _, name := range files {
		path := filepath.Join(p.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return patched, errors.Annotatef(err, "reading %s", name)
		}

		content := string(data)
		var changes []string

		if n := strings.Count(content, selfRef); n > 0 {
			content = strings.ReplaceAll(content, selfRef, "./")
			changes = append(changes, fmt.Sprintf("%dx '%s' -> './'", n, selfRef))
		}
		if tsconfigName.MatchString(name) {
			var extChanges []string
			content, extChanges = p.fixExtends(name, content)
			changes = append(changes, extChanges...)
		}
		if name == WorkspaceFile {
			var pathChanges []string
			content, pathChanges = p.fixParentPaths(content)
			changes = append(changes, pathChanges...)
		}

		if len(changes) == 0 {
			continue
		}
		backup := path + BackupSuffix
		if !fileExists(backup) {
			if err := writeFileAtomic(backup, data); err != nil {
				return patched, errors.Annotatef(err, "backing up %s", name)
			}
		}
		if err := writeFileAtomic(path, []byte(content)); err != nil {
			return patched, errors.Annotatef(err, "patching %s", name)
		}
		patched = append(patched, PatchedFile{Path: path, Changes: changes})
	}
	return patched, nil
}

// fixExtends points "extends" at a local config when the parent-relative
// target also exists in the project root. Comments in the file survive.
func (p *WorkspacePatcher) fixExtends(name, content string) (string, []string) {
	root, err := hujson.Parse([]byte(content))
	if err != nil {
		logger.Warningf("%s: not valid JSONC, leaving extends alone: %v", name, err)
		return content, nil
	}

	var ptrs []string
	switch v := root.Find("/extends"); {
	case v == nil:
		return content, nil
	case isStringLiteral(v):
		ptrs = append(ptrs, "/extends")
	default:
		if arr, ok := v.Value.(*hujson.Array); ok {
			for i := range arr.Elements {
				ptrs = append(ptrs, fmt.Sprintf("/extends/%d", i))
			}
		}
	}

	var changes []string
	for _, ptr := range ptrs {
		v := root.Find(ptr)
		if !isStringLiteral(v) {
			continue
		}
		target := v.Value.(hujson.Literal).String()
		m := parentExtends.FindStringSubmatch(target)
		if m == nil || !fileExists(filepath.Join(p.dir, m[1])) {
			continue
		}
		patch := fmt.Sprintf(`[{"op":"replace","path":%q,"value":%q}]`, ptr, "./"+m[1])
		if err := root.Patch([]byte(patch)); err != nil {
			logger.Warningf("%s: patching %s: %v", name, ptr, err)
			continue
		}
		changes = append(changes, fmt.Sprintf("extends %q -> %q", target, "./"+m[1]))
	}
	if len(changes) == 0 {
		return content, nil
	}
	return string(root.Pack()), changes
}

func isStringLiteral(v *hujson.Value) bool {
	if v == nil {
		return false
	}
	lit, ok := v.Value.(hujson.Literal)
	return ok && lit.Kind() == '"'
}

// fixParentPaths rewrites "../<folder>/<rest>" to "./<rest>" when <rest>
// exists in the project.
func (p *WorkspacePatcher) fixParentPaths(content string) (string, []string) {
	replacements := make(map[string]string)
	for _, m := range parentFolderPath.FindAllStringSubmatch(content, -1) {
		rest := m[2]
		if _, err := os.Stat(filepath.Join(p.dir, filepath.FromSlash(rest))); err != nil {
			continue
		}
		replacements["../"+m[1]+"/"+rest] = "./" + rest
	}

	olds := make([]string, 0, len(replacements))
	for old := range replacements {
		olds = append(olds, old)
	}
	// Longest first so a path is not cut by a shorter prefix of itself.
	sort.Slice(olds, func(i, j int) bool { return len(olds[i]) > len(olds[j]) })

	var changes []string
	for _, old := range olds {
		if n := strings.Count(content, old); n > 0 {
			content = strings.ReplaceAll(content, old, replacements[old])
			changes = append(changes, fmt.Sprintf("%dx %q -> %q", n, old, replacements[old]))
		}
	}
	return content, changes
}

// candidates returns angular.json and the root tsconfig files.
func (p *WorkspacePatcher) candidates() ([]string, error) {
	files := []string{WorkspaceFile}
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, errors.Annotate(err, "listing workspace files")
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.Contains(name, BackupSuffix) {
			continue
		}
		if tsconfigName.MatchString(name) {
			files = append(files, name)
		}
	}
	return files, nil
}

// Restore moves every backup in the project root over its original and
// returns how many files were restored. Failures are logged and skipped.
func (p *WorkspacePatcher) Restore() int {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		logger.Warningf("listing backups: %v", err)
		return 0
	}
	restored := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, BackupSuffix) {
			continue
		}
		backup := filepath.Join(p.dir, name)
		original := strings.TrimSuffix(backup, BackupSuffix)
		if err := os.Rename(backup, original); err != nil {
			logger.Warningf("could not restore %s: %v", original, err)
			continue
		}
		restored++
	}
	return restored
}

// RestoreLeftovers restores backups left by a run that ended while files
// were patched.
func (p *WorkspacePatcher) RestoreLeftovers() int {
	n := p.Restore()
	if n > 0 {
		logger.Warningf("restored %d workspace file(s) left patched by a previous run", n)
	}
	return n
}
