package fallback

import (
	"regexp"
	"strings"
)

var (
	afterRenderCall = regexp.MustCompile(`\b(afterRender|afterNextRender)\s*\(`)
	phaseOption     = regexp.MustCompile(`^\{\s*phase\s*:\s*(AfterRenderPhase\.\w+)\s*,?\s*\}$`)
)

var renderPhases = map[string]string{
	"AfterRenderPhase.EarlyRead":      "earlyRead",
	"AfterRenderPhase.Write":          "write",
	"AfterRenderPhase.MixedReadWrite": "mixedReadWrite",
	"AfterRenderPhase.Read":           "read",
}

// migrateAfterRenderPhase turns afterRender(cb, {phase: AfterRenderPhase.X})
// into afterRender({x: cb}).
func migrateAfterRenderPhase(content string) string {
	if !strings.Contains(content, "AfterRenderPhase") {
		return content
	}

	var b strings.Builder
	last := 0
	for _, m := range afterRenderCall.FindAllStringSubmatchIndex(content, -1) {
		if m[0] < last {
			continue
		}
		fn := content[m[2]:m[3]]
		argsStart := m[1]

		first := strings.TrimLeft(content[argsStart:], " \t\r\n")
		if !strings.HasPrefix(first, "(") && !strings.HasPrefix(first, "function") {
			continue
		}
		commas, closeParen := splitCallArgs(content, argsStart)
		if closeParen < 0 || len(commas) != 1 {
			continue
		}
		callback := strings.TrimSpace(content[argsStart:commas[0]])
		options := strings.TrimSpace(content[commas[0]+1 : closeParen])
		pm := phaseOption.FindStringSubmatch(options)
		if pm == nil {
			continue
		}
		phase, ok := renderPhases[pm[1]]
		if !ok {
			continue
		}

		b.WriteString(content[last:m[0]])
		b.WriteString(fn + "({ " + phase + ": " + callback + " })")
		last = closeParen + 1
	}
	if last == 0 {
		return content
	}
	b.WriteString(content[last:])
	updated := b.String()

	if !strings.Contains(updated, "AfterRenderPhase.") && !usedOutsideImports(updated, "AfterRenderPhase") {
		updated = removeImport(updated, "@angular/core", "AfterRenderPhase")
	}
	return updated
}

// splitCallArgs scans the argument list that starts at start, just past the
// opening paren. It returns the positions of top-level commas and of the
// closing paren, or -1 when the list is unbalanced.
func splitCallArgs(s string, start int) (commas []int, closeParen int) {
	depth := 1
	var quote byte
	for i := start; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(', '{', '[':
			depth++
		case ')', '}', ']':
			depth--
			if depth == 0 {
				return commas, i
			}
		case ',':
			if depth == 1 {
				commas = append(commas, i)
			}
		}
	}
	return nil, -1
}

func init() {
	Register(&fileFixer{
		name:        "migration-after-render-phase",
		description: "moves AfterRenderPhase arguments to the spec-object API",
		ext:         ".ts",
		action:      "migrated AfterRenderPhase to spec-object API",
		rewrite:     migrateAfterRenderPhase,
	})
}
