package fallback

import (
	"regexp"
	"strings"
)

const (
	httpModule        = "@angular/common/http"
	httpTestingModule = "@angular/common/http/testing"
)

var (
	providersArray = regexp.MustCompile(`(providers\s*:\s*\[)([^\]]*?)(\])`)
	importsArray   = regexp.MustCompile(`(imports\s*:\s*\[[^\]]*\])(\s*,?)`)
	doubleComma    = regexp.MustCompile(`,(\s*),`)
	commaBeforeEnd = regexp.MustCompile(`,(\s*\])`)
	commaAfterOpen = regexp.MustCompile(`\[(\s*),`)
)

// moduleRefs matches every code reference to an NgModule class name.
type moduleRefs struct {
	afterComma, beforeComma, bare *regexp.Regexp
}

func newModuleRefs(name string) moduleRefs {
	return moduleRefs{
		afterComma:  regexp.MustCompile(`,\s*\b` + name + `\b`),
		beforeComma: regexp.MustCompile(`\b` + name + `\s*,\s*`),
		bare:        regexp.MustCompile(`\b` + name + `\b`),
	}
}

func (r moduleRefs) remove(content string) string {
	content = r.afterComma.ReplaceAllString(content, "")
	content = r.beforeComma.ReplaceAllString(content, "")
	return r.bare.ReplaceAllString(content, "")
}

var (
	httpClientRefs  = newModuleRefs("HttpClientModule")
	httpTestingRefs = newModuleRefs("HttpClientTestingModule")
)

// replaceHTTPModules swaps HttpClientModule and HttpClientTestingModule for
// the equivalent provider functions.
func replaceHTTPModules(content string) string {
	hasClient := httpClientRefs.bare.MatchString(content)
	hasTesting := httpTestingRefs.bare.MatchString(content)
	if !hasClient && !hasTesting {
		return content
	}
	original := content

	var providers []string
	if hasClient {
		content = removeImport(content, httpModule, "HttpClientModule")
		content = httpClientRefs.remove(content)
		providers = append(providers, "provideHttpClient(withInterceptorsFromDi())")
	}
	if hasTesting {
		content = removeImport(content, httpTestingModule, "HttpClientTestingModule")
		content = httpTestingRefs.remove(content)
		if !hasClient {
			providers = append(providers, "provideHttpClient()")
		}
		providers = append(providers, "provideHttpClientTesting()")
	}
	if content == original {
		return content
	}

	content = addProviders(content, strings.Join(providers, ", "))

	if hasClient {
		content = addImport(content, httpModule, "provideHttpClient", "withInterceptorsFromDi")
	} else {
		content = addImport(content, httpModule, "provideHttpClient")
	}
	if hasTesting {
		content = addImport(content, httpTestingModule, "provideHttpClientTesting")
	}

	content = dropEmptyImports(content)
	content = doubleComma.ReplaceAllString(content, ",")
	content = commaBeforeEnd.ReplaceAllString(content, "$1")
	return commaAfterOpen.ReplaceAllString(content, "[$1")
}

// addProviders appends list to every providers array, or adds a providers
// array after the imports array when there is none.
func addProviders(content, list string) string {
	if providersArray.MatchString(content) {
		return replaceAllSubmatchFunc(providersArray, content, func(g []string) string {
			body := strings.TrimSpace(g[2])
			if strings.Contains(body, "provideHttpClient(") {
				return g[0]
			}
			if body == "" {
				return g[1] + list + g[3]
			}
			if !strings.HasSuffix(body, ",") {
				body += ","
			}
			return g[1] + body + " " + list + g[3]
		})
	}
	return replaceAllSubmatchFunc(importsArray, content, func(g []string) string {
		sep := ""
		if strings.Contains(g[2], ",") {
			sep = ","
		}
		return g[1] + ",\n      providers: [" + list + "]" + sep + strings.Replace(g[2], ",", "", 1)
	})
}

func init() {
	Register(&fileFixer{
		name:        "migration-http-providers",
		description: "replaces HttpClientModule with provideHttpClient()",
		ext:         ".ts",
		action:      "replaced deprecated HTTP modules with providers",
		rewrite:     replaceHTTPModules,
	})
}
