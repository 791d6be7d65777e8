// Package runtime implements C6, the sandboxed workflow runtime.
// validator.go is the Go/JS analogue of
// original_source/kernel/runtime.py's ImportValidator: rather than
// walking a Python ast.Import/ImportFrom tree, it parses the JavaScript
// program for syntax and then scans the raw source for whole-word
// occurrences of the host bindings a workflow must never reach directly
// (process, require, fetch, eval, the Function constructor, ...); a match
// inside a string literal or comment counts too. goja exposes none of
// these by default, but static rejection fails fast before the
// goja.Runtime is even built.
package runtime

import (
	"fmt"
	"strings"
)

// blockedIdentifiers is the kernel's analogue of BLOCKED_IMPORTS: anything
// a workflow script could reference to escape the `browser` sandbox
// surface, whether or not the runtime actually binds it.
var blockedIdentifiers = map[string]bool{
	"require": true, "process": true, "global": true, "globalThis": true,
	"Function": true, "eval": true, "import": true,
	"fetch": true, "XMLHttpRequest": true, "WebSocket": true,
	"module": true, "exports": true, "__dirname": true, "__filename": true,
}

// ValidationResult mirrors ExecutionResult's validate-only shape from
// spec.md §6: valid plus a list of violation strings.
type ValidationResult struct {
	Valid      bool
	Violations []string
}

// ValidateCode statically scans source for references to blocked
// identifiers before any execution is attempted, the same
// validate-before-run structure as AgentRuntime.validate_code.
func ValidateCode(source string) ValidationResult {
	var violations []string

	prog, err := ParseProgram(source)
	if err != nil {
		return ValidationResult{Valid: false, Violations: []string{fmt.Sprintf("syntax error: %v", err)}}
	}

	for _, ident := range prog.ReferencedIdentifiers() {
		if blockedIdentifiers[ident] {
			violations = append(violations, fmt.Sprintf("blocked identifier: %s", ident))
		}
	}

	return ValidationResult{Valid: len(violations) == 0, Violations: violations}
}

// containsWord reports whether word occurs in source with no identifier
// character directly before or after it. It is the scan behind
// Program.ReferencedIdentifiers; kept tiny and explicit rather than a
// regexp so its behavior is obvious at a glance.
func containsWord(source, word string) bool {
	idx := 0
	for {
		i := strings.Index(source[idx:], word)
		if i < 0 {
			return false
		}
		pos := idx + i
		before := byte(' ')
		if pos > 0 {
			before = source[pos-1]
		}
		after := byte(' ')
		if pos+len(word) < len(source) {
			after = source[pos+len(word)]
		}
		if !isIdentByte(before) && !isIdentByte(after) {
			return true
		}
		idx = pos + len(word)
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '$' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
