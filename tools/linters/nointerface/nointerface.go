// Package nointerface flags empty interface{} literals and offers the 'any'
// spelling as an automatic fix. The codebase standardizes on 'any' for job
// payloads and jsonb columns; mixing the two spellings makes grep-driven
// audits of dynamic typing miss half the sites.
package nointerface

import (
	"go/ast"
	"go/token"
	"strings"

	"golang.org/x/tools/go/analysis"
)

// Analyzer reports interface{} with a suggested fix replacing it by 'any'.
var Analyzer = &analysis.Analyzer{
	Name: "nointerface",
	Doc:  "checks for interface{} usage and suggests using 'any' (available since Go 1.18)",
	Run:  run,
}

func run(pass *analysis.Pass) (any, error) {
	for _, file := range pass.Files {
		ast.Inspect(file, func(n ast.Node) bool {
			iface, ok := n.(*ast.InterfaceType)
			if !ok || !isEmpty(iface) {
				return true
			}
			if suppressed(pass, file, iface.Pos()) {
				return true
			}

			pass.Report(analysis.Diagnostic{
				Pos:     iface.Pos(),
				End:     iface.End(),
				Message: "use 'any' instead of 'interface{}' (available since Go 1.18)",
				SuggestedFixes: []analysis.SuggestedFix{{
					Message: "Replace 'interface{}' with 'any'",
					TextEdits: []analysis.TextEdit{{
						Pos:     iface.Pos(),
						End:     iface.End(),
						NewText: []byte("any"),
					}},
				}},
			})
			return true
		})
	}

	return nil, nil
}

// isEmpty reports whether the interface declares no methods or embedded
// constraints, making it interchangeable with 'any'.
func isEmpty(iface *ast.InterfaceType) bool {
	return iface.Methods == nil || len(iface.Methods.List) == 0
}

// suppressed honors //nolint and //nolint:nointerface on the flagged line or
// the line above it.
func suppressed(pass *analysis.Pass, file *ast.File, pos token.Pos) bool {
	target := pass.Fset.Position(pos)
	for _, cg := range file.Comments {
		for _, comment := range cg.List {
			line := pass.Fset.Position(comment.Pos()).Line
			if line != target.Line && line != target.Line-1 {
				continue
			}
			if !strings.Contains(comment.Text, "nolint") {
				continue
			}
			if !strings.Contains(comment.Text, ":") || strings.Contains(comment.Text, "nointerface") {
				return true
			}
		}
	}
	return false
}
