package fallback

import (
	"bytes"
	"strings"
	"testing"
)

func TestRemoveRelativeLinkResolution(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{
			in:   "RouterModule.forRoot(routes, { relativeLinkResolution: 'legacy' })",
			want: "RouterModule.forRoot(routes)",
		},
		{
			in:   "RouterModule.forRoot(routes, { useHash: true, relativeLinkResolution: 'legacy' })",
			want: "RouterModule.forRoot(routes, { useHash: true})",
		},
		{
			in:   "RouterModule.forRoot(routes, { useHash: true, relativeLinkResolution: 'corrected', enableTracing: false })",
			want: "RouterModule.forRoot(routes, { useHash: true, enableTracing: false })",
		},
		{
			in:   "RouterModule.forRoot(routes)",
			want: "RouterModule.forRoot(routes)",
		},
	}
	for _, tt := range tests {
		if got := removeRelativeLinkResolution(tt.in); got != tt.want {
			t.Errorf("removeRelativeLinkResolution(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRemoveModuleID(t *testing.T) {
	in := "@Component({\n  moduleId: module.id,\n  selector: 'app-root',\n})\nexport class AppComponent {}\n"
	got := removeModuleID(in)
	if strings.Contains(got, "moduleId") {
		t.Errorf("moduleId left in:\n%s", got)
	}
	if !strings.Contains(got, "selector: 'app-root'") {
		t.Errorf("selector lost:\n%s", got)
	}
	if removeModuleID(got) != got {
		t.Error("second pass changed the file")
	}
}

func TestRemoveGuardInterfaces(t *testing.T) {
	in := `import { Injectable } from '@angular/core';
import { CanActivate, Router } from '@angular/router';

@Injectable()
export class AuthGuard implements CanActivate {
  constructor(private router: Router) {}
}
`
	want := `import { Injectable } from '@angular/core';
import { Router } from '@angular/router';

@Injectable()
export class AuthGuard {
  constructor(private router: Router) {}
}
`
	if got := removeGuardInterfaces(in); got != want {
		t.Errorf("removeGuardInterfaces() =\n%s\nwant\n%s", got, want)
	}

	multi := `import { Resolve, CanDeactivate } from '@angular/router';
export class DataResolver implements OnInit, Resolve<Data>, OnDestroy {}
export class Leave implements CanDeactivate<Page> {}
`
	got := removeGuardInterfaces(multi)
	if !strings.Contains(got, "implements OnInit, OnDestroy {}") {
		t.Errorf("Resolve not removed from the list:\n%s", got)
	}
	if !strings.Contains(got, "export class Leave {}") {
		t.Errorf("CanDeactivate not removed:\n%s", got)
	}
	if strings.Contains(got, "@angular/router") {
		t.Errorf("empty router import left:\n%s", got)
	}

	untouched := "export class Routes implements OnInit {}\n"
	if got := removeGuardInterfaces(untouched); got != untouched {
		t.Errorf("unrelated file changed: %q", got)
	}
}

func TestBareAtLines(t *testing.T) {
	html := "<p>\n  @if (user) {\n    {{ user.name }}\n  } @else {\n  }\n  @username on twitter\n@for(item of items; track item) {}\n  @letter\n</p>\n"
	if got := bareAtLines(html); got != 2 {
		t.Errorf("bareAtLines() = %d, want 2", got)
	}
}

func TestTemplateEntityScan_WarnsOnly(t *testing.T) {
	dir := t.TempDir()
	content := "<p>\n@someone\n</p>\n"
	path := writeSource(t, dir, "app/contact.component.html", content)

	var out bytes.Buffer
	n, err := templateEntityScan{}.Fix(dir, &out)
	if err != nil {
		t.Fatalf("Fix() error: %v", err)
	}
	if n != 0 {
		t.Errorf("Fix() touched %d files, want 0", n)
	}
	if !strings.Contains(out.String(), "has 1 line(s) starting with @") {
		t.Errorf("output = %q", out.String())
	}
	if readSource(t, path) != content {
		t.Error("template was rewritten")
	}
}

func TestReplaceHTTPModules(t *testing.T) {
	module := `import { NgModule } from '@angular/core';
import { HttpClientModule } from '@angular/common/http';

@NgModule({
  imports: [BrowserModule, HttpClientModule],
  providers: [],
})
export class AppModule {}
`
	got := replaceHTTPModules(module)
	for _, want := range []string{
		"import { provideHttpClient, withInterceptorsFromDi } from '@angular/common/http';",
		"imports: [BrowserModule],",
		"providers: [provideHttpClient(withInterceptorsFromDi())],",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "HttpClientModule") {
		t.Errorf("HttpClientModule left in:\n%s", got)
	}
	if replaceHTTPModules(got) != got {
		t.Error("second pass changed the file")
	}

	suite := `import { TestBed } from '@angular/core/testing';
import { HttpClientTestingModule } from '@angular/common/http/testing';

beforeEach(() => {
  TestBed.configureTestingModule({
    imports: [HttpClientTestingModule],
  });
});
`
	got = replaceHTTPModules(suite)
	for _, want := range []string{
		"providers: [provideHttpClient(), provideHttpClientTesting()]",
		"import { provideHttpClient } from '@angular/common/http';",
		"import { provideHttpClientTesting } from '@angular/common/http/testing';",
		"imports: [],",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "HttpClientTestingModule") {
		t.Errorf("HttpClientTestingModule left in:\n%s", got)
	}
}

func TestMigrateAfterRenderPhase(t *testing.T) {
	in := `import { AfterRenderPhase, Component, afterRender } from '@angular/core';

export class Chart {
  constructor() {
    afterRender(() => {
      this.draw(')');
    }, { phase: AfterRenderPhase.Write });
  }
}
`
	got := migrateAfterRenderPhase(in)
	if !strings.Contains(got, "afterRender({ write: () => {\n      this.draw(')');\n    } });") {
		t.Errorf("call not migrated:\n%s", got)
	}
	if !strings.Contains(got, "import { Component, afterRender } from '@angular/core';") {
		t.Errorf("AfterRenderPhase import not dropped:\n%s", got)
	}

	noPhase := "afterRender(() => this.draw());\n// AfterRenderPhase\n"
	if got := migrateAfterRenderPhase(noPhase); got != noPhase {
		t.Errorf("call without phase changed: %q", got)
	}
}

func TestSplitCallArgs(t *testing.T) {
	s := `f(a, "x,y", [1, 2], {k: g(1, 2)})`
	commas, end := splitCallArgs(s, 2)
	if len(commas) != 3 || end != len(s)-1 {
		t.Errorf("splitCallArgs() = %v, %d", commas, end)
	}
	if _, end := splitCallArgs("f(a, (b", 2); end != -1 {
		t.Errorf("unbalanced call end = %d, want -1", end)
	}
}

func TestStandaloneFixer(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "app/app.module.ts", `@NgModule({
  declarations: [AppComponent, LegacyComponent],
})
export class AppModule {}
`)
	legacy := writeSource(t, dir, "app/legacy.component.ts", `@Component({
  selector: 'app-legacy',
  template: '<b>{{ title }}</b>',
})
export class LegacyComponent {}
`)
	modern := writeSource(t, dir, "app/modern.component.ts", `@Component({
  selector: 'app-modern',
  standalone: true,
  imports: [],
})
export class ModernComponent {}
`)

	n, err := standaloneFixer{}.Fix(dir, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Fix() error: %v", err)
	}
	if n != 2 {
		t.Errorf("Fix() touched %d files, want 2", n)
	}
	if got := readSource(t, legacy); !strings.HasPrefix(got, "@Component({\n  standalone: false,\n  selector: 'app-legacy',") {
		t.Errorf("legacy component:\n%s", got)
	}
	if got := readSource(t, modern); strings.Contains(got, "standalone") || !strings.Contains(got, "selector: 'app-modern',\n  imports: [],") {
		t.Errorf("modern component:\n%s", got)
	}

	// Idempotent.
	if n, _ := (standaloneFixer{}).Fix(dir, &bytes.Buffer{}); n != 0 {
		t.Errorf("second Fix() touched %d files", n)
	}
}

func TestReplaceInitializers(t *testing.T) {
	in := `import { APP_INITIALIZER, NgModule } from '@angular/core';

@NgModule({
  providers: [
    { provide: APP_INITIALIZER, useFactory: initApp, deps: [ConfigService], multi: true },
    { provide: ENVIRONMENT_INITIALIZER, useValue: () => warmUp(), multi: true },
  ],
})
export class AppModule {}
`
	got := replaceInitializers(in)
	for _, want := range []string{
		"provideAppInitializer(() => { const initializerFn = initApp(inject(ConfigService)); return initializerFn(); }),",
		"provideEnvironmentInitializer(() => warmUp()),",
		"import { NgModule, provideAppInitializer, provideEnvironmentInitializer, inject } from '@angular/core';",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "APP_INITIALIZER") {
		t.Errorf("token left in:\n%s", got)
	}
	if replaceInitializers(got) != got {
		t.Error("second pass changed the file")
	}
}

func TestImportHelpers(t *testing.T) {
	src := "import { A, B } from '@angular/core';\nimport { X } from './x';\n\nconst y = 1;\n"

	if got := removeImport(src, "@angular/core", "C"); got != src {
		t.Errorf("removeImport() of an absent name changed the file: %q", got)
	}
	got := removeImport(src, "@angular/core", "A")
	if !strings.HasPrefix(got, "import { B } from '@angular/core';\n") {
		t.Errorf("removeImport() = %q", got)
	}
	got = addImport(src, "@angular/common/http", "provideHttpClient")
	want := "import { A, B } from '@angular/core';\nimport { X } from './x';\nimport { provideHttpClient } from '@angular/common/http';\n\nconst y = 1;\n"
	if got != want {
		t.Errorf("addImport() =\n%q\nwant\n%q", got, want)
	}
	if !usedOutsideImports("import { A } from 'a';\nA.run();", "A") {
		t.Error("usedOutsideImports() missed a use")
	}
	if usedOutsideImports("import { A } from 'a';\nAB.run();", "A") {
		t.Error("usedOutsideImports() matched a longer name")
	}
}
