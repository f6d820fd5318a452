package fallback

import (
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/juju/errors"
)

var (
	moduleIDProperty   = regexp.MustCompile(`,?\s*moduleId\s*:\s*module\.id\s*,?`)
	trailingComma      = regexp.MustCompile(`,(\s*\})`)
	standaloneTrue     = regexp.MustCompile(`(,\s*)?standalone\s*:\s*true\s*(,?)`)
	decoratorLeadComma = regexp.MustCompile(`\(\{\s*,`)
	declarationsList   = regexp.MustCompile(`declarations\s*:\s*\[([^\]]*)\]`)
	decoratorOpen      = regexp.MustCompile(`@(?:Component|Directive|Pipe)\s*\(\s*\{`)
	hasStandalone      = regexp.MustCompile(`standalone\s*:`)
	exportedClass      = regexp.MustCompile(`export\s+(?:default\s+)?(?:abstract\s+)?class\s+(\w+)`)
)

// removeModuleID drops moduleId: module.id from decorator metadata.
func removeModuleID(content string) string {
	if !strings.Contains(content, "moduleId") {
		return content
	}
	updated := dropListItem(moduleIDProperty, content)
	if updated == content {
		return content
	}
	return trailingComma.ReplaceAllString(updated, "$1")
}

// standaloneFixer drops standalone: true, now the default, and marks classes
// still declared in an NgModule with standalone: false.
type standaloneFixer struct{}

func (standaloneFixer) Name() string { return "explicit-standalone-flag" }

func (standaloneFixer) Description() string {
	return "removes standalone: true and adds standalone: false to NgModule declarations"
}

func (standaloneFixer) Fix(srcDir string, out io.Writer) (int, error) {
	declared, err := collectDeclarations(srcDir)
	if err != nil {
		return 0, err
	}
	rewrite := func(content string) string { return rewriteStandalone(content, declared) }
	return rewriteFiles(srcDir, ".ts", rewrite, out, "updated standalone flags for v19")
}

// collectDeclarations gathers every class named in an NgModule
// declarations array.
func collectDeclarations(srcDir string) (map[string]bool, error) {
	declared := make(map[string]bool)
	err := walkSources(srcDir, ".ts", func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warningf("skipping %s: %v", path, err)
			return nil
		}
		content := string(data)
		if !strings.Contains(content, "@NgModule") {
			return nil
		}
		for _, m := range declarationsList.FindAllStringSubmatch(content, -1) {
			for _, name := range splitNames(m[1]) {
				declared[name] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Annotate(err, "collecting NgModule declarations")
	}
	return declared, nil
}

func rewriteStandalone(content string, declared map[string]bool) string {
	if !decoratorOpen.MatchString(content) {
		return content
	}

	content = replaceAllSubmatchFunc(standaloneTrue, content, func(g []string) string {
		if g[1] != "" && g[2] != "" {
			return ","
		}
		return ""
	})
	content = decoratorLeadComma.ReplaceAllString(content, "({")

	var b strings.Builder
	last := 0
	for _, loc := range decoratorOpen.FindAllStringIndex(content, -1) {
		open := loc[1] - 1
		end := matchingBrace(content, open)
		if end < 0 || hasStandalone.MatchString(content[open:end]) {
			continue
		}
		m := exportedClass.FindStringSubmatch(content[end:])
		if m == nil || !declared[m[1]] {
			continue
		}
		b.WriteString(content[last : open+1])
		b.WriteString("\n  standalone: false,")
		last = open + 1
	}
	if last == 0 {
		return content
	}
	b.WriteString(content[last:])
	return b.String()
}

// matchingBrace returns the index just past the brace closing the one at
// open, or -1.
func matchingBrace(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

func init() {
	Register(&fileFixer{
		name:        "migration-v16-remove-module-id",
		description: "removes moduleId: module.id from decorators",
		ext:         ".ts",
		action:      "removed moduleId",
		rewrite:     removeModuleID,
	})
	Register(standaloneFixer{})
}
