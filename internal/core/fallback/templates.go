package fallback

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/juju/errors"
)

// blockKeywords are the control-flow blocks a template line may start with.
var blockKeywords = []string{
	"if", "for", "switch", "else", "case", "default", "defer",
	"placeholder", "loading", "error", "empty", "let",
}

// bareAtLines counts lines whose first non-blank character is an @ that
// does not open a control-flow block.
func bareAtLines(content string) int {
	n := 0
	for _, line := range strings.Split(content, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimLeft(line, " \t\r"), "@")
		if !ok || startsBlock(rest) {
			continue
		}
		n++
	}
	return n
}

func startsBlock(rest string) bool {
	for _, kw := range blockKeywords {
		after, ok := strings.CutPrefix(rest, kw)
		if !ok || after == "" {
			continue
		}
		switch after[0] {
		case ' ', '\t', '\r', '(', '{':
			return true
		}
	}
	return false
}

// templateEntityScan reports templates with lines the v17 block syntax may
// misread. Escaping is left to the user, so it rewrites nothing.
type templateEntityScan struct{}

func (templateEntityScan) Name() string { return "block-template-entities" }

func (templateEntityScan) Description() string {
	return "warns about template lines starting with a bare @"
}

func (templateEntityScan) Fix(srcDir string, out io.Writer) (int, error) {
	flagged := 0
	err := walkSources(srcDir, ".html", func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warningf("skipping %s: %v", path, err)
			return nil
		}
		if n := bareAtLines(string(data)); n > 0 {
			logger.Warningf("%s has %d line(s) starting with @", path, n)
			fmt.Fprintf(out, "    warning: %s has %d line(s) starting with @\n", path, n)
			fmt.Fprintf(out, "    these may need manual escaping (@ -> &#64;) if they cause build errors.\n")
			flagged++
		}
		return nil
	})
	if err != nil {
		return 0, errors.Annotatef(err, "walking %s", srcDir)
	}
	logger.Debugf("%d template(s) flagged", flagged)
	return 0, nil
}

// twoWayBindingNote acknowledges the invalid-two-way-bindings unit. Invalid
// [(...)] bindings are rare enough that no rewrite is attempted.
type twoWayBindingNote struct{}

func (twoWayBindingNote) Name() string { return "invalid-two-way-bindings" }

func (twoWayBindingNote) Description() string {
	return "no automated rewrite; invalid [(...)] bindings are fixed by hand"
}

func (twoWayBindingNote) Fix(_ string, out io.Writer) (int, error) {
	fmt.Fprintln(out, "    scanned -- no automated fix needed (invalid two-way bindings are rare).")
	fmt.Fprintln(out, "    if you have build errors related to [(...)], fix them manually.")
	return 0, nil
}

func init() {
	Register(templateEntityScan{})
	Register(twoWayBindingNote{})
}
