// Package instrument drives AST-level instrumentation for the
// racedetector standalone tool: parse a Go source file, walk the AST to
// find memory accesses, and insert race.RaceRead()/race.RaceWrite()
// calls before each one.
//
//	// input
//	var x int
//	x = 42
//	y := x
//
//	// output
//	import race "github.com/kolkov/racedetector/race"
//	import "unsafe"
//	var x int
//	race.RaceWrite(uintptr(unsafe.Pointer(&x)))
//	x = 42
//	race.RaceRead(uintptr(unsafe.Pointer(&x)))
//	y := x
//
// Not thread-safe - callers must not call into this package
// concurrently on the same file.
package instrument

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
)

const (
	// RacePackageImportPath is injected into instrumented files. It
	// points at the public API wrapper rather than the internal engine
	// package so instrumented code outside this module still compiles.
	RacePackageImportPath = "github.com/kolkov/racedetector/race"

	RacePackageAlias = "race"
)

//nolint:revive // InstrumentResult is clear and descriptive despite stuttering
type InstrumentResult struct {
	Code  string
	Stats InstrumentStats
}

// InstrumentFile parses filename (or src, if non-nil, which may be a
// []byte, string, or io.Reader per go/parser.ParseFile), injects the
// race/unsafe imports, walks and instruments the AST, and renders the
// result back to source via go/printer.
//
//nolint:revive // InstrumentFile is the standard API naming for this operation
func InstrumentFile(filename string, src interface{}) (*InstrumentResult, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("failed to parse file %s: %w", filename, err)
	}

	if err := injectImports(fset, file); err != nil {
		return nil, fmt.Errorf("failed to inject imports: %w", err)
	}

	visitor, err := instrumentAST(fset, file)
	if err != nil {
		return nil, fmt.Errorf("failed to instrument AST: %w", err)
	}

	stats := visitor.GetStats()

	var buf bytes.Buffer
	cfg := &printer.Config{
		Mode:     printer.UseSpaces | printer.TabIndent,
		Tabwidth: 8,
	}
	if err := cfg.Fprint(&buf, fset, file); err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	// Appended as text rather than injected via AST: a real build pipeline
	// would thread Init/Fini through the program's actual main(), but the
	// standalone tool has no visibility into that structure.
	code := buf.String()
	code += `

// init initializes race detector (added by racedetector tool)
func init() {
	race.Init()
	_ = unsafe.Sizeof(0) // Ensure unsafe import is used
}
`

	return &InstrumentResult{
		Code:  code,
		Stats: stats,
	}, nil
}

// instrumentAST runs the visitor's two passes: ast.Walk records every
// instrumentation point without touching the tree, then
// ApplyInstrumentation rewrites it - kept separate so the walk never has
// to deal with nodes shifting under it mid-traversal.
func instrumentAST(fset *token.FileSet, file *ast.File) (*instrumentVisitor, error) {
	visitor := newInstrumentVisitor(fset, file)
	ast.Walk(visitor, file)

	if err := visitor.ApplyInstrumentation(); err != nil {
		return nil, fmt.Errorf("failed to apply instrumentation: %w", err)
	}

	return visitor, nil
}
