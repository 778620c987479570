// Package instrument - Import injection functionality.
//
// This file implements import injection logic for adding the race detector
// runtime and unsafe package imports to instrumented files.
package instrument

import (
	"go/ast"
	"go/token"

	"golang.org/x/tools/go/ast/astutil"
)

// injectImports adds the race package (aliased) and unsafe imports to
// file, delegating to astutil so existing import groups, duplicate
// paths, and single-vs-grouped import blocks are all handled correctly.
func injectImports(fset *token.FileSet, file *ast.File) error {
	astutil.AddNamedImport(fset, file, RacePackageAlias, RacePackageImportPath)
	astutil.AddImport(fset, file, "unsafe")
	return nil
}
