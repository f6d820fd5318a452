package fallback

import (
	"regexp"
	"strings"
)

const coreModule = "@angular/core"

type initializerToken struct {
	token    string
	provider string
	useValue *regexp.Regexp
	provide  *regexp.Regexp
}

func newInitializerToken(token, provider string) initializerToken {
	return initializerToken{
		token:    token,
		provider: provider,
		useValue: regexp.MustCompile(`\{\s*provide\s*:\s*` + token +
			`\s*,\s*(?:multi\s*:\s*true\s*,\s*)?useValue\s*:\s*([^,}]+?)\s*(?:,\s*multi\s*:\s*true\s*)?,?\s*\}`),
		provide: regexp.MustCompile(`\{\s*provide\s*:\s*` + token + `\s*,([^}]*?)\}`),
	}
}

var initializerTokens = []initializerToken{
	newInitializerToken("APP_INITIALIZER", "provideAppInitializer"),
	newInitializerToken("ENVIRONMENT_INITIALIZER", "provideEnvironmentInitializer"),
	newInitializerToken("PLATFORM_INITIALIZER", "providePlatformInitializer"),
}

var (
	useFactory  = regexp.MustCompile(`useFactory\s*:\s*([^,]+)`)
	factoryDeps = regexp.MustCompile(`deps\s*:\s*\[([^\]]*)\]`)
)

// replaceInitializers rewrites multi-provider initializer tokens into the
// provide*Initializer functions. Providers it cannot read are left alone.
func replaceInitializers(content string) string {
	original := content
	for _, t := range initializerTokens {
		if !strings.Contains(content, t.token) {
			continue
		}
		content = replaceAllSubmatchFunc(t.useValue, content, func(g []string) string {
			return t.provider + "(" + strings.TrimSpace(g[1]) + ")"
		})
		content = replaceAllSubmatchFunc(t.provide, content, func(g []string) string {
			return factoryProvider(t.provider, g[0], g[1])
		})
	}
	if content == original {
		return content
	}

	for _, t := range initializerTokens {
		if !strings.Contains(content, t.provider+"(") {
			continue
		}
		content = addImport(content, coreModule, t.provider)
		if !usedOutsideImports(content, t.token) {
			content = removeImport(content, coreModule, t.token)
		}
	}
	if strings.Contains(content, "inject(") {
		content = addImport(content, coreModule, "inject")
	}
	return dropEmptyImports(content)
}

func factoryProvider(provider, match, body string) string {
	fm := useFactory.FindStringSubmatch(body)
	if fm == nil {
		return match
	}
	factory := strings.TrimSpace(fm[1])

	var deps []string
	if dm := factoryDeps.FindStringSubmatch(body); dm != nil {
		deps = splitNames(dm[1])
	}
	if len(deps) == 0 {
		return provider + "(() => " + factory + "())"
	}
	calls := make([]string, len(deps))
	for i, d := range deps {
		calls[i] = "inject(" + d + ")"
	}
	return provider + "(() => { const initializerFn = " + factory + "(" +
		strings.Join(calls, ", ") + "); return initializerFn(); })"
}

func init() {
	Register(&fileFixer{
		name:        "provide-initializer",
		description: "replaces initializer tokens with provideAppInitializer() and friends",
		ext:         ".ts",
		action:      "migrated deprecated initializer tokens",
		rewrite:     replaceInitializers,
	})
}
