package fallback

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/juju/errors"
)

// walkSources calls fn for every file under srcDir with the given
// extension, skipping node_modules.
func walkSources(srcDir, ext string, fn func(path string) error) error {
	if _, err := os.Stat(srcDir); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warningf("skipping %s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		return fn(path)
	})
}

// rewriteFiles applies rewrite to every matching file and writes back the
// ones that changed. Unreadable or unwritable files are logged and skipped.
func rewriteFiles(srcDir, ext string, rewrite func(content string) string, out io.Writer, action string) (int, error) {
	count := 0
	err := walkSources(srcDir, ext, func(path string) error {
		info, err := os.Stat(path)
		if err != nil {
			logger.Warningf("skipping %s: %v", path, err)
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warningf("skipping %s: %v", path, err)
			return nil
		}
		content := string(data)
		updated := rewrite(content)
		if updated == content {
			return nil
		}
		if err := os.WriteFile(path, []byte(updated), info.Mode().Perm()); err != nil {
			logger.Warningf("could not write %s: %v", path, err)
			return nil
		}
		fmt.Fprintf(out, "    %s: %s\n", path, action)
		count++
		return nil
	})
	return count, errors.Annotatef(err, "walking %s", srcDir)
}

// fileFixer is a Fixer built from a single per-file rewrite.
type fileFixer struct {
	name        string
	description string
	ext         string
	action      string
	rewrite     func(content string) string
}

func (f *fileFixer) Name() string        { return f.name }
func (f *fileFixer) Description() string { return f.description }

func (f *fileFixer) Fix(srcDir string, out io.Writer) (int, error) {
	return rewriteFiles(srcDir, f.ext, f.rewrite, out, f.action)
}

// replaceAllSubmatchFunc is regexp.ReplaceAllStringFunc with access to the
// capture groups. Unmatched groups are empty strings.
func replaceAllSubmatchFunc(re *regexp.Regexp, s string, repl func(groups []string) string) string {
	var b strings.Builder
	last := 0
	for _, loc := range re.FindAllStringSubmatchIndex(s, -1) {
		groups := make([]string, len(loc)/2)
		for i := range groups {
			if loc[2*i] >= 0 {
				groups[i] = s[loc[2*i]:loc[2*i+1]]
			}
		}
		b.WriteString(s[last:loc[0]])
		b.WriteString(repl(groups))
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// dropListItem removes one comma-separated item matched by match, keeping a
// single comma when the item sat between two others.
func dropListItem(re *regexp.Regexp, s string) string {
	return re.ReplaceAllStringFunc(s, func(m string) string {
		t := strings.TrimSpace(m)
		if strings.HasPrefix(t, ",") && strings.HasSuffix(t, ",") && len(t) > 1 {
			return ","
		}
		return ""
	})
}

// --- Import statements ---

var (
	anyImport   = regexp.MustCompile(`import\s*\{[^}]*\}\s*from\s*['"][^'"]+['"];?`)
	emptyImport = regexp.MustCompile(`import\s*\{\s*\}\s*from\s*['"][^'"]+['"];?[ \t]*\n?`)
)

func namedImport(module string) *regexp.Regexp {
	return regexp.MustCompile(`import\s*\{([^}]*)\}\s*from\s*['"]` + regexp.QuoteMeta(module) + `['"](;?)`)
}

func splitNames(list string) []string {
	var names []string
	for _, n := range strings.Split(list, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func importLine(names []string, module string) string {
	return "import { " + strings.Join(names, ", ") + " } from '" + module + "';"
}

// importedNames returns the names imported from module and whether such an
// import exists.
func importedNames(content, module string) ([]string, bool) {
	m := namedImport(module).FindStringSubmatch(content)
	if m == nil {
		return nil, false
	}
	return splitNames(m[1]), true
}

// editImport rewrites the first named import from module. An import left
// with no names is removed.
func editImport(content, module string, edit func(names []string) []string) string {
	re := namedImport(module)
	loc := re.FindStringSubmatchIndex(content)
	if loc == nil {
		return content
	}
	names := edit(splitNames(content[loc[2]:loc[3]]))
	if len(names) == 0 {
		end := loc[1]
		if end < len(content) && content[end] == '\n' {
			end++
		}
		return content[:loc[0]] + content[end:]
	}
	return content[:loc[0]] + importLine(names, module) + content[loc[1]:]
}

// removeImport drops name from the import of module.
func removeImport(content, module, name string) string {
	names, ok := importedNames(content, module)
	if !ok || len(missingNames(names, []string{name})) > 0 {
		return content
	}
	return editImport(content, module, func(names []string) []string {
		kept := names[:0]
		for _, n := range names {
			if n != name {
				kept = append(kept, n)
			}
		}
		return kept
	})
}

// addImport makes sure names are imported from module, adding a new import
// after the last existing one when needed.
func addImport(content, module string, names ...string) string {
	if existing, ok := importedNames(content, module); ok {
		missing := missingNames(existing, names)
		if len(missing) == 0 {
			return content
		}
		return editImport(content, module, func(have []string) []string {
			return append(have, missing...)
		})
	}

	line := importLine(names, module) + "\n"
	locs := anyImport.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return line + content
	}
	end := locs[len(locs)-1][1]
	if end < len(content) && content[end] == '\n' {
		end++
	} else {
		line = "\n" + strings.TrimSuffix(line, "\n")
	}
	return content[:end] + line + content[end:]
}

func missingNames(have, want []string) []string {
	set := make(map[string]bool, len(have))
	for _, n := range have {
		set[n] = true
	}
	var missing []string
	for _, n := range want {
		if !set[n] {
			missing = append(missing, n)
		}
	}
	return missing
}

// usedOutsideImports reports whether name appears as a word anywhere but in
// import statements.
func usedOutsideImports(content, name string) bool {
	body := anyImport.ReplaceAllString(content, "")
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`).MatchString(body)
}

func dropEmptyImports(content string) string {
	return emptyImport.ReplaceAllString(content, "")
}
