package fallback

import (
	"regexp"
	"strings"
)

const routerModule = "@angular/router"

var (
	relativeLinkSoleOption = regexp.MustCompile(`,\s*\{\s*relativeLinkResolution\s*:\s*['"][^'"]*['"]\s*\}`)
	relativeLinkOption     = regexp.MustCompile(`,?\s*relativeLinkResolution\s*:\s*['"][^'"]*['"]\s*,?`)
)

// removeRelativeLinkResolution drops the relativeLinkResolution router
// option, and the whole options argument when it was the only entry.
func removeRelativeLinkResolution(content string) string {
	if !strings.Contains(content, "relativeLinkResolution") {
		return content
	}
	content = relativeLinkSoleOption.ReplaceAllString(content, "")
	return dropListItem(relativeLinkOption, content)
}

// deprecatedGuards are the class-based router interfaces removed in v16.
var deprecatedGuards = []string{
	"CanActivate", "CanActivateChild", "CanDeactivate", "CanLoad", "CanMatch", "Resolve",
}

type guardPatterns struct {
	name       string
	afterComma *regexp.Regexp
	leading    *regexp.Regexp
	sole       *regexp.Regexp
}

var guardRewrites = func() []guardPatterns {
	var out []guardPatterns
	for _, iface := range deprecatedGuards {
		pat := `\b` + iface + `\b`
		if iface == "Resolve" || iface == "CanDeactivate" {
			pat += `(?:<[^>{]*>)?`
		}
		out = append(out, guardPatterns{
			name:       iface,
			afterComma: regexp.MustCompile(`,\s*` + pat + `(\s*[,{])`),
			leading:    regexp.MustCompile(`(implements\s+(?:[\w.<>]+\s*,\s*)*)` + pat + `\s*,\s*`),
			sole:       regexp.MustCompile(`\s+implements\s+` + pat + `\s*\{`),
		})
	}
	return out
}()

// removeGuardInterfaces strips the deprecated router interfaces from
// implements clauses and from the router import once nothing else uses them.
func removeGuardInterfaces(content string) string {
	found := false
	for _, g := range guardRewrites {
		if strings.Contains(content, g.name) {
			found = true
			break
		}
	}
	if !found {
		return content
	}

	for _, g := range guardRewrites {
		content = g.afterComma.ReplaceAllString(content, "$1")
		content = g.leading.ReplaceAllString(content, "$1")
		content = g.sole.ReplaceAllString(content, " {")
	}
	for _, g := range guardRewrites {
		if !usedOutsideImports(content, g.name) {
			content = removeImport(content, routerModule, g.name)
		}
	}
	return content
}

func init() {
	Register(&fileFixer{
		name:        "migration-v15-relative-link-resolution",
		description: "removes the relativeLinkResolution router option",
		ext:         ".ts",
		action:      "removed relativeLinkResolution",
		rewrite:     removeRelativeLinkResolution,
	})
	Register(&fileFixer{
		name:        "migration-v16-guard-and-resolve-interfaces",
		description: "removes deprecated router guard and resolver interfaces",
		ext:         ".ts",
		action:      "removed deprecated guard/resolver interfaces",
		rewrite:     removeGuardInterfaces,
	})
}
