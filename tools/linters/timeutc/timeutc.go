// Package timeutc flags time.Now() calls that are not immediately normalized
// with .UTC(). Every timestamp costwarden persists or compares is UTC; a
// local-zone time leaking into scheduled_for or a dedup bucket shifts jobs by
// the host offset.
package timeutc

import (
	"go/ast"
	"go/token"
	"strings"

	"golang.org/x/tools/go/analysis"
)

// Analyzer reports time.Now() calls without a trailing .UTC().
var Analyzer = &analysis.Analyzer{
	Name: "timeutc",
	Doc:  "checks for time.Now() calls without .UTC() to ensure timezone consistency",
	Run:  run,
}

func run(pass *analysis.Pass) (any, error) {
	// First pass marks the time.Now() receivers of .UTC() selectors, so the
	// reporting pass can tell a bare call from the head of a UTC chain.
	normalized := make(map[*ast.CallExpr]bool)
	for _, file := range pass.Files {
		ast.Inspect(file, func(n ast.Node) bool {
			sel, ok := n.(*ast.SelectorExpr)
			if !ok || sel.Sel.Name != "UTC" {
				return true
			}
			if call, ok := sel.X.(*ast.CallExpr); ok && isTimeNow(call) {
				normalized[call] = true
			}
			return true
		})
	}

	for _, file := range pass.Files {
		ast.Inspect(file, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok || !isTimeNow(call) || normalized[call] {
				return true
			}
			if suppressed(pass, file, call.Pos()) {
				return true
			}
			pass.Reportf(call.Pos(), "time.Now() should be followed by .UTC() for timezone consistency")
			return true
		})
	}

	return nil, nil
}

func isTimeNow(call *ast.CallExpr) bool {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "Now" {
		return false
	}
	pkg, ok := sel.X.(*ast.Ident)
	return ok && pkg.Name == "time"
}

// suppressed honors //nolint and //nolint:timeutc on the flagged line or the
// line above it.
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
			if !strings.Contains(comment.Text, ":") || strings.Contains(comment.Text, "timeutc") {
				return true
			}
		}
	}
	return false
}
