package runtime

import (
	"github.com/dop251/goja/parser"
)

// Program is a parsed workflow script. It keeps only what the validator
// and executor need: syntax validity and the raw source for a word-level
// identifier scan, which is simpler and more robust than implementing a
// hand-rolled AST visitor (goja's ast package exposes an ast.Program tree
// but no general Visitor, unlike Python's ast.NodeVisitor the reference
// ImportValidator subclasses).
type Program struct {
	source string
}

// ParseProgram parses source as an ECMAScript program, surfacing any
// syntax error exactly as AgentRuntime.validate_code surfaces a Python
// SyntaxError before ever looking at imports.
func ParseProgram(source string) (*Program, error) {
	if _, err := parser.ParseFile(nil, "workflow.js", source, 0); err != nil {
		return nil, err
	}
	return &Program{source: source}, nil
}

// ReferencedIdentifiers returns every identifier in blockedIdentifiers
// that appears as a whole word in the source.
func (p *Program) ReferencedIdentifiers() []string {
	var found []string
	for ident := range blockedIdentifiers {
		if containsWord(p.source, ident) {
			found = append(found, ident)
		}
	}
	return found
}
