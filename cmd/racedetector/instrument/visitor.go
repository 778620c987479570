// Package instrument walks a parsed Go source file and records where a
// shadow-memory check needs to run: at every plain variable, pointer,
// index, and field access the rest of the pipeline can see statically.
// It never touches the AST itself - ApplyInstrumentation does that in a
// second pass once every instrumentPoint is known, so inserted statements
// can't shift positions out from under a traversal still in progress.
package instrument

import (
	"go/ast"
	"go/token"
)

// InstrumentStats counts what one file's instrumentation pass touched:
// how many reads/writes got a shadow-memory check inserted, and how many
// candidate expressions were skipped (and why). `racedetector build -v`
// prints this per file.
//
//nolint:revive // InstrumentStats is clear and descriptive despite stuttering
type InstrumentStats struct {
	ReadsInstrumented  int
	WritesInstrumented int
	ConstantsSkipped   int
	BuiltinsSkipped    int
	LiteralsSkipped    int
	BlanksSkipped      int
}

// Total returns total number of instrumented accesses.
func (s *InstrumentStats) Total() int {
	return s.ReadsInstrumented + s.WritesInstrumented
}

// TotalSkipped returns total number of skipped items.
func (s *InstrumentStats) TotalSkipped() int {
	return s.ConstantsSkipped + s.BuiltinsSkipped + s.LiteralsSkipped + s.BlanksSkipped
}

// instrumentVisitor walks one file's AST via ast.Walk, recording an
// instrumentPoint for each static access it recognizes rather than
// rewriting the tree as it goes (inserting nodes mid-traversal would
// invalidate positions ast.Walk hasn't visited yet). ApplyInstrumentation
// replays the recorded points against the tree once walking is done.
type instrumentVisitor struct {
	fset *token.FileSet
	file *ast.File

	instrumentationPoints []instrumentPoint
	stats                 InstrumentStats
}

// InstrumentPoint is one recorded access: which AST node performs it,
// whether it's a read or a write, and the address expression to pass to
// the inserted race.RaceRead/RaceWrite call.
//
//nolint:revive // InstrumentPoint is a clear, descriptive name for this type
type InstrumentPoint struct {
	Node       ast.Node
	AccessType AccessType
	Addr       ast.Expr
}

// AccessType classifies memory access operations.
type AccessType int

const (
	AccessRead AccessType = iota
	AccessWrite
)

// instrumentPoint is the internal alias used throughout this package;
// InstrumentPoint itself is exported only so tests outside the package
// can assert on ApplyCoalescing's output.
type instrumentPoint = InstrumentPoint

// Visit implements ast.Visitor, recording an instrumentPoint for each
// access node ast.Walk hands it:
//
//   - *ast.AssignStmt: x = 42, *ptr = 42, arr[0] = 42
//   - *ast.IncDecStmt: i++, counter--
//   - *ast.UnaryExpr (token.MUL): *ptr dereference
//   - *ast.IndexExpr: arr[0], slice[i]
//   - *ast.SelectorExpr: obj.field
//
// A call expression's own arguments are still walked into (the callee is
// instrumented wherever it's defined, not at the call site), and constant/
// literal/built-in operands never produce a point - see shouldInstrument.
func (v *instrumentVisitor) Visit(node ast.Node) ast.Visitor {
	if node == nil {
		return nil
	}

	switch n := node.(type) {
	case *ast.AssignStmt:
		v.visitAssignment(n)

	case *ast.IncDecStmt:
		// counter++ reads counter then writes it back.
		v.visitIncDec(n)

	case *ast.UnaryExpr:
		// *ptr standing alone (not as an AssignStmt's LHS, already handled
		// there) is a read; whether the caller actually writes through it
		// is context this visitor doesn't track statically, so it's
		// recorded as a read here and the write half is caught separately
		// when it appears as an assignment target.
		if n.Op == token.MUL {
			v.visitDereference(n)
		}

	case *ast.IndexExpr:
		v.visitIndexAccess(n)

	case *ast.SelectorExpr:
		v.visitFieldAccess(n)
	}

	return v
}

// visitAssignment records RHS reads and, for anything but a := (which
// declares the LHS rather than writing to an existing location), LHS
// writes: x = y becomes a read of y and a write of x; val := counter only
// records the read of counter.
func (v *instrumentVisitor) visitAssignment(stmt *ast.AssignStmt) {
	for _, rhs := range stmt.Rhs {
		v.extractReads(rhs, stmt)
	}

	if stmt.Tok == token.DEFINE {
		return
	}

	for _, lhs := range stmt.Lhs {
		if !shouldInstrument(lhs) {
			v.trackSkipped(lhs)
			continue
		}

		addr := v.extractAddress(lhs)
		if addr == nil {
			continue // e.g. blank identifier _
		}

		v.instrumentationPoints = append(v.instrumentationPoints, InstrumentPoint{
			Node:       stmt,
			AccessType: AccessWrite,
			Addr:       addr,
		})
		v.stats.WritesInstrumented++
	}
}

// visitIncDec treats i++/i-- as a read of the current value followed by a
// write of the new one, recording both instrumentation points.
func (v *instrumentVisitor) visitIncDec(stmt *ast.IncDecStmt) {
	if !shouldInstrument(stmt.X) {
		v.trackSkipped(stmt.X)
		return
	}

	addr := v.extractAddress(stmt.X)
	if addr == nil {
		return
	}

	v.instrumentationPoints = append(v.instrumentationPoints, InstrumentPoint{
		Node:       stmt,
		AccessType: AccessRead,
		Addr:       addr,
	})
	v.stats.ReadsInstrumented++

	// A fresh address expression, since the read point above already
	// claimed the first one and ast nodes shouldn't be shared between
	// two instrumentPoints.
	addrWrite := v.extractAddress(stmt.X)
	if addrWrite != nil {
		v.instrumentationPoints = append(v.instrumentationPoints, InstrumentPoint{
			Node:       stmt,
			AccessType: AccessWrite,
			Addr:       addrWrite,
		})
		v.stats.WritesInstrumented++
	}
}

// extractReads records a read instrumentPoint for every variable/field/
// index access found in expr (counter, x+y, arr[i], obj.field all
// contribute one read apiece, with arr[i] also reading the index i).
func (v *instrumentVisitor) extractReads(expr ast.Expr, stmt ast.Stmt) {
	// Walk the expression and find all identifiers/selectors/indexes
	ast.Inspect(expr, func(n ast.Node) bool {
		switch e := n.(type) {
		case *ast.Ident:
			// Simple variable read: counter
			// Skip if this expression shouldn't be instrumented
			if !shouldInstrument(e) {
				v.trackSkipped(e)
				return true
			}
			// Create address expression
			addr := &ast.UnaryExpr{Op: token.AND, X: e}
			v.instrumentationPoints = append(v.instrumentationPoints, InstrumentPoint{
				Node:       stmt,
				AccessType: AccessRead,
				Addr:       addr,
			})
			v.stats.ReadsInstrumented++

		case *ast.SelectorExpr:
			// Struct field read: obj.field (e.g., os.Args, person.Name)
			// IMPORTANT: Return false to stop walking into children (X and Sel)
			// Otherwise we'd instrument both &os.Args AND &os AND &Args separately!
			if !shouldInstrument(e) {
				v.trackSkipped(e)
				return false // Don't walk into children
			}
			addr := &ast.UnaryExpr{Op: token.AND, X: e}
			v.instrumentationPoints = append(v.instrumentationPoints, InstrumentPoint{
				Node:       stmt,
				AccessType: AccessRead,
				Addr:       addr,
			})
			v.stats.ReadsInstrumented++
			return false // Don't walk into X (os) and Sel (Args) separately

		case *ast.IndexExpr:
			// Array/slice read: arr[i]
			if !shouldInstrument(e) {
				v.trackSkipped(e)
				return true
			}
			addr := &ast.UnaryExpr{Op: token.AND, X: e}
			v.instrumentationPoints = append(v.instrumentationPoints, InstrumentPoint{
				Node:       stmt,
				AccessType: AccessRead,
				Addr:       addr,
			})
			v.stats.ReadsInstrumented++

		case *ast.UnaryExpr:
			if e.Op == token.MUL {
				// Pointer dereference: *ptr
				if !shouldInstrument(e) {
					v.trackSkipped(e)
					return true
				}
				addr := e.X // ptr itself is the address
				v.instrumentationPoints = append(v.instrumentationPoints, InstrumentPoint{
					Node:       stmt,
					AccessType: AccessRead,
					Addr:       addr,
				})
				v.stats.ReadsInstrumented++
			}
		}
		return true
	})
}

// isBuiltinIdent returns true if the identifier is a built-in (no instrumentation needed).
//
// This includes:
//   - Built-in constants: nil, true, false, iota
//   - Built-in functions: make, new, len, cap, append, copy, delete, close, panic, recover, etc.
//   - Built-in types: int, string, byte, error, etc.
//
// You cannot take the address of built-in functions or types, so they must be excluded.
func isBuiltinIdent(name string) bool {
	builtins := map[string]bool{
		// Built-in constants
		"nil":   true,
		"true":  true,
		"false": true,
		"iota":  true,
		// Built-in functions (cannot take address)
		"make":    true,
		"new":     true,
		"len":     true,
		"cap":     true,
		"append":  true,
		"copy":    true,
		"delete":  true,
		"close":   true,
		"panic":   true,
		"recover": true,
		"print":   true,
		"println": true,
		"complex": true,
		"real":    true,
		"imag":    true,
		"clear":   true,
		"min":     true,
		"max":     true,
		// Built-in types (cannot take address)
		"bool":       true,
		"byte":       true,
		"complex64":  true,
		"complex128": true,
		"error":      true,
		"float32":    true,
		"float64":    true,
		"int":        true,
		"int8":       true,
		"int16":      true,
		"int32":      true,
		"int64":      true,
		"rune":       true,
		"string":     true,
		"uint":       true,
		"uint8":      true,
		"uint16":     true,
		"uint32":     true,
		"uint64":     true,
		"uintptr":    true,
		"any":        true,
		"comparable": true,
	}
	return builtins[name]
}

// shouldInstrument reports whether expr names a location a race could
// actually happen on. Constants, literals, built-in identifiers/functions/
// types, and references to functions/types/packages are all excluded -
// none of them are addressable mutable memory, so a shadow-memory check
// on them would be pure overhead. The blank identifier is excluded too
// since it never reads or retains a value.
func shouldInstrument(expr ast.Expr) bool {
	if isConstant(expr) {
		return false
	}

	if ident, ok := expr.(*ast.Ident); ok {
		if ident.Name == "_" {
			return false
		}
		if isBuiltinIdent(ident.Name) {
			return false
		}
		if ident.Obj != nil {
			switch ident.Obj.Kind {
			case ast.Fun, ast.Typ, ast.Pkg:
				return false
			}
		}
	}

	// package.Function selectors (os.ReadFile, strconv.Atoi) aren't
	// addressable either; isLikelyPackageName covers the common case
	// where parsing without type info left xIdent.Obj unset.
	if sel, ok := expr.(*ast.SelectorExpr); ok {
		if xIdent, ok := sel.X.(*ast.Ident); ok {
			if xIdent.Obj != nil && xIdent.Obj.Kind == ast.Pkg {
				return false
			}
			if isLikelyPackageName(xIdent.Name) {
				return false
			}
		}
	}

	// Without type info we can't tell map[key] from slice[i]/array[i], and
	// map elements aren't addressable, so skip IndexExpr entirely rather
	// than risk generating a "cannot take address of" compile error. This
	// may miss races on slice/array elements reached this way.
	if _, ok := expr.(*ast.IndexExpr); ok {
		return false
	}

	if isLiteral(expr) {
		return false
	}

	return true
}

// isLikelyPackageName is a fallback heuristic for when the AST wasn't
// built with type info and ast.Ident.Obj is unset for package selectors.
func isLikelyPackageName(name string) bool {
	stdPackages := map[string]bool{
		"fmt": true, "os": true, "io": true, "bufio": true,
		"strings": true, "strconv": true, "bytes": true,
		"path": true, "filepath": true,
		"time": true, "math": true, "rand": true,
		"sort": true, "sync": true, "atomic": true,
		"context": true, "errors": true,
		"encoding": true, "json": true, "xml": true,
		"net": true, "http": true, "url": true,
		"reflect": true, "unsafe": true, "runtime": true,
		"testing": true, "log": true, "flag": true,
		"regexp": true, "unicode": true,
		"crypto": true, "hash": true,
		"database": true, "sql": true,
		"html": true, "template": true,
		"image": true, "color": true,
		"archive": true, "compress": true,
		"debug": true, "go": true,
		"syscall": true, "os/exec": true,
	}
	return stdPackages[name]
}

// trackSkipped classifies an expression shouldInstrument rejected and bumps
// the matching InstrumentStats counter. Not safe for concurrent use.
func (v *instrumentVisitor) trackSkipped(expr ast.Expr) {
	if isConstant(expr) {
		v.stats.ConstantsSkipped++
		return
	}

	if ident, ok := expr.(*ast.Ident); ok {
		if ident.Name == "_" {
			v.stats.BlanksSkipped++
			return
		}
		if isBuiltinIdent(ident.Name) {
			v.stats.BuiltinsSkipped++
			return
		}
	}

	if isLiteral(expr) {
		v.stats.LiteralsSkipped++
		return
	}
}

// isConstant reports whether expr is an identifier bound by a const
// declaration, via ast.Ident.Obj.Kind - populated for same-file
// identifiers, not reliably for cross-package ones without a full
// go/types pass, so this is necessarily a best-effort check.
func isConstant(expr ast.Expr) bool {
	// Check if it's an identifier declared as const
	if ident, ok := expr.(*ast.Ident); ok {
		if ident.Obj != nil && ident.Obj.Kind == ast.Con {
			return true
		}
	}
	return false
}

// isLiteral reports whether expr is a basic literal (int, float, string,
// char, imaginary) living in the binary's data section rather than
// mutable memory. Composite literals ([]int{1,2,3}, struct{}{}) aren't
// ast.BasicLit and fall through to being instrumented, which is
// conservative rather than wrong.
func isLiteral(expr ast.Expr) bool {
	switch expr.(type) {
	case *ast.BasicLit:
		return true
	}
	return false
}

// visitDereference handles pointer dereferences (*ptr). Like
// visitIndexAccess, read-vs-write context isn't resolved statically, so
// this records a read and lets visitAssignment catch the write case.
func (v *instrumentVisitor) visitDereference(expr *ast.UnaryExpr) {
	addr := expr.X // *ptr's operand is the pointer itself

	v.instrumentationPoints = append(v.instrumentationPoints, InstrumentPoint{
		Node:       expr,
		AccessType: AccessRead,
		Addr:       addr,
	})
}

// visitIndexAccess handles array/slice accesses: arr[0]. Read vs. write
// context isn't tracked statically, so this records a read; an
// enclosing write is caught separately via visitAssignment. The whole
// IndexExpr node is kept as the address rather than trying to resolve
// arr's base.
func (v *instrumentVisitor) visitIndexAccess(expr *ast.IndexExpr) {
	v.instrumentationPoints = append(v.instrumentationPoints, InstrumentPoint{
		Node:       expr,
		AccessType: AccessRead,
		Addr:       expr,
	})
}

// visitFieldAccess handles struct field accesses: obj.field. Same
// read-by-default convention as visitIndexAccess.
func (v *instrumentVisitor) visitFieldAccess(expr *ast.SelectorExpr) {
	v.instrumentationPoints = append(v.instrumentationPoints, InstrumentPoint{
		Node:       expr,
		AccessType: AccessRead,
		Addr:       expr,
	})
}

// extractAddress converts an LHS expression into the address expression
// a race call should take:
//
//	x           → &x
//	*ptr        → ptr
//	arr[0]      → &arr[0]
//	obj.field   → &obj.field
//
// Returns nil for any other expression shape, signaling the caller to
// skip instrumentation.
func (v *instrumentVisitor) extractAddress(expr ast.Expr) ast.Expr {
	switch e := expr.(type) {
	case *ast.Ident:
		return &ast.UnaryExpr{Op: token.AND, X: e}

	case *ast.UnaryExpr:
		if e.Op == token.MUL {
			return e.X
		}

	case *ast.IndexExpr:
		return &ast.UnaryExpr{Op: token.AND, X: e}

	case *ast.SelectorExpr:
		return &ast.UnaryExpr{Op: token.AND, X: e}
	}

	return nil
}

func newInstrumentVisitor(fset *token.FileSet, file *ast.File) *instrumentVisitor {
	return &instrumentVisitor{
		fset:                  fset,
		file:                  file,
		instrumentationPoints: make([]instrumentPoint, 0, 100),
	}
}

// GetInstrumentationPoints exposes the points collected during the AST
// walk, for tests and callers that need to inspect them ahead of
// ApplyInstrumentation's rewrite.
func (v *instrumentVisitor) GetInstrumentationPoints() []instrumentPoint {
	return v.instrumentationPoints
}

// GetStats returns the counters the build command reports after
// instrumenting a file.
func (v *instrumentVisitor) GetStats() InstrumentStats {
	return v.stats
}

// ApplyCoalescing merges consecutive same-variable accesses so only the
// last one in a run carries a barrier, following the BigFoot approach
// (PLDI 2017). The analyzer only proposes a group when it's proven safe
// (same variable, consecutive statements, no control flow or calls
// between them), so this never drops a barrier that could matter.
func (v *instrumentVisitor) ApplyCoalescing(enableCoalescing bool) CoalescingStats {
	if !enableCoalescing || len(v.instrumentationPoints) < 2 {
		return CoalescingStats{
			TotalOperations: len(v.instrumentationPoints),
		}
	}

	analyzer := NewCoalescingAnalyzer()
	groups, stats := analyzer.AnalyzeInstrumentationPoints(v.instrumentationPoints, v.file)

	if len(groups) == 0 {
		return stats
	}

	v.instrumentationPoints = v.applyCoalescingToPoints(groups)

	return stats
}

// applyCoalescingToPoints drops every operation in a coalescing group
// except its last, e.g. [x=1, x=2, x=3, y=1] with group {x=1,x=2,x=3}
// becomes [x=3, y=1].
func (v *instrumentVisitor) applyCoalescingToPoints(groups []CoalescingGroup) []instrumentPoint {
	shouldRemove := make(map[ast.Node]bool)

	for _, group := range groups {
		for i := 0; i < len(group.Operations)-1; i++ {
			shouldRemove[group.Operations[i]] = true
		}
	}

	coalescedPoints := make([]instrumentPoint, 0, len(v.instrumentationPoints))

	for _, point := range v.instrumentationPoints {
		if !shouldRemove[point.Node] {
			coalescedPoints = append(coalescedPoints, point)
		}
	}

	return coalescedPoints
}

// ApplyInstrumentation is the second pass: it takes the points recorded
// by Visit/ApplyCoalescing and rewrites the AST to insert a
// race.RaceRead/RaceWrite call immediately before the statement
// containing each access, e.g.
//
//	counter = val + 1
//
// becomes
//
//	race.RaceWrite(uintptr(unsafe.Pointer(&counter)))
//	counter = val + 1
func (v *instrumentVisitor) ApplyInstrumentation() error {
	// Multiple accesses can share one statement (x = y + z needs a call
	// each for y, z, and &x), so group by parent statement first and
	// then insert all of a statement's calls together, immediately
	// before it, in one pass over each block's statement list.
	stmtToPoints := make(map[ast.Stmt][]instrumentPoint)

	for _, point := range v.instrumentationPoints {
		stmt := v.findParentStatement(point.Node)
		if stmt != nil {
			stmtToPoints[stmt] = append(stmtToPoints[stmt], point)
		}
	}

	ast.Inspect(v.file, func(n ast.Node) bool {
		switch block := n.(type) {
		case *ast.BlockStmt:
			newStmts := make([]ast.Stmt, 0, len(block.List)*2)
			for _, stmt := range block.List {
				if points, ok := stmtToPoints[stmt]; ok {
					for _, point := range points {
						raceCall := v.createRaceCall(point)
						if raceCall != nil {
							newStmts = append(newStmts, raceCall)
						}
					}
				}
				newStmts = append(newStmts, stmt)
			}
			block.List = newStmts

		case *ast.CaseClause:
			newStmts := make([]ast.Stmt, 0, len(block.Body)*2)
			for _, stmt := range block.Body {
				if points, ok := stmtToPoints[stmt]; ok {
					for _, point := range points {
						raceCall := v.createRaceCall(point)
						if raceCall != nil {
							newStmts = append(newStmts, raceCall)
						}
					}
				}
				newStmts = append(newStmts, stmt)
			}
			block.Body = newStmts

		case *ast.CommClause:
			newStmts := make([]ast.Stmt, 0, len(block.Body)*2)
			for _, stmt := range block.Body {
				if points, ok := stmtToPoints[stmt]; ok {
					for _, point := range points {
						raceCall := v.createRaceCall(point)
						if raceCall != nil {
							newStmts = append(newStmts, raceCall)
						}
					}
				}
				newStmts = append(newStmts, stmt)
			}
			block.Body = newStmts
		}

		return true
	})

	return nil
}

// findParentStatement walks the file looking for the ast.Stmt that
// encloses node, since race calls are inserted at statement granularity
// and the AST carries no parent pointers to walk up directly. Returns
// node itself if it's already a statement (e.g. an IncDecStmt).
func (v *instrumentVisitor) findParentStatement(node ast.Node) ast.Stmt {
	if stmt, ok := node.(ast.Stmt); ok {
		return stmt
	}

	var result ast.Stmt

	ast.Inspect(v.file, func(n ast.Node) bool {
		if stmt, ok := n.(ast.Stmt); ok {
			found := false
			ast.Inspect(stmt, func(inner ast.Node) bool {
				if inner == node {
					found = true
					return false
				}
				return true
			})
			if found {
				result = stmt
				return false
			}
		}
		return true
	})

	return result
}

// createRaceCall builds the statement race.RaceWrite(uintptr(unsafe.Pointer(&x)))
// (or RaceRead, for a read access) around point.Addr.
func (v *instrumentVisitor) createRaceCall(point instrumentPoint) ast.Stmt {
	var funcName string
	if point.AccessType == AccessWrite {
		funcName = "RaceWrite"
	} else {
		funcName = "RaceRead"
	}

	addrExpr := point.Addr

	unsafePointerCall := &ast.CallExpr{
		Fun: &ast.SelectorExpr{
			X:   ast.NewIdent("unsafe"),
			Sel: ast.NewIdent("Pointer"),
		},
		Args: []ast.Expr{addrExpr},
	}

	uintptrConversion := &ast.CallExpr{
		Fun:  ast.NewIdent("uintptr"),
		Args: []ast.Expr{unsafePointerCall},
	}

	raceCall := &ast.CallExpr{
		Fun: &ast.SelectorExpr{
			X:   ast.NewIdent(RacePackageAlias),
			Sel: ast.NewIdent(funcName),
		},
		Args: []ast.Expr{uintptrConversion},
	}

	return &ast.ExprStmt{
		X: raceCall,
	}
}
