// Package instrument - barrier coalescing for generated race checks.
//
// This file merges consecutive same-address, same-kind accesses into a
// single barrier placed just before the last operation in the run,
// following the BigFoot approach from Roemer, Genç & Bond, "Effective Race
// Detection for Event-Driven Programs" (PLDI 2017):
//
//	// before (3 barriers):
//	race.Write(&x); x = 1
//	race.Write(&x); x = 2
//	race.Write(&x); x = 3
//
//	// after (coalesced into 1):
//	x = 1
//	x = 2
//	race.Write(&x); x = 3
//
// A run only coalesces when every one of these holds: the operations
// are consecutive statements in the same block, nothing between them is
// a control-flow statement or a function call (either could change what
// a later access observes), they target the exact same address
// expression, and they're all reads or all writes. Any doubt breaks the
// group rather than risking a missed race.
//
// Not safe for concurrent use - one analyzer instance is scoped to a
// single instrumentation pass.
package instrument

import (
	"go/ast"
)

// CoalescingGroup is a run of consecutive operations against the same
// address that collapse to one barrier, placed just before
// Operations[BarrierPos] (the last operation of the run).
type CoalescingGroup struct {
	Addr       ast.Expr
	Operations []ast.Stmt
	AccessType AccessType
	BarrierPos int
}

// CoalescingAnalyzer walks instrumentation points in order, tracking the
// run currently being built in currentGroup and flushing it to groups
// once it breaks (different address, different access kind, control
// flow, or a function call in between).
type CoalescingAnalyzer struct {
	groups       []CoalescingGroup
	currentGroup *CoalescingGroup
	stats        CoalescingStats
}

// CoalescingStats summarizes one analysis pass: how many of the total
// operations got folded into groups, and how many individual barriers
// that let ApplyCoalescing drop.
type CoalescingStats struct {
	TotalOperations     int
	CoalescedOperations int
	GroupsCreated       int
	BarriersRemoved     int
}

func NewCoalescingAnalyzer() *CoalescingAnalyzer {
	return &CoalescingAnalyzer{
		groups: make([]CoalescingGroup, 0, 10),
	}
}

// AnalyzeInstrumentationPoints scans points (assumed to already be in
// source order) and returns every run of 2+ operations that can share a
// single barrier, along with summary stats. A single operation is never
// worth a group - there'd be nothing to coalesce it with.
func (ca *CoalescingAnalyzer) AnalyzeInstrumentationPoints(
	points []InstrumentPoint,
	file *ast.File,
) ([]CoalescingGroup, CoalescingStats) {
	ca.stats.TotalOperations = len(points)

	if len(points) < 2 {
		return ca.groups, ca.stats
	}

	for i := 0; i < len(points); i++ {
		point := points[i]

		if ca.canJoinCurrentGroup(&point, i, points, file) {
			ca.addToCurrentGroup(&point)
		} else {
			ca.finalizeCurrentGroup()
			ca.startNewGroup(&point)
		}
	}

	ca.finalizeCurrentGroup()
	ca.calculateStats()

	return ca.groups, ca.stats
}

// canJoinCurrentGroup applies the coalescing safety rules: a live
// current group, matching access type, an exact AST match on the
// address (see astNodesEqual - this is structural, not semantic, equality;
// it won't notice that i+1 and j are equal when i==j), and no control
// flow or function call since the previous point in the run.
func (ca *CoalescingAnalyzer) canJoinCurrentGroup(
	point *InstrumentPoint,
	index int,
	points []InstrumentPoint,
	file *ast.File,
) bool {
	if ca.currentGroup == nil {
		return false
	}

	if ca.currentGroup.AccessType != point.AccessType {
		return false
	}

	if !astNodesEqual(ca.currentGroup.Addr, point.Addr) {
		return false
	}

	if index > 0 {
		lastPoint := points[index-1]
		if hasControlFlowBetween(lastPoint.Node, point.Node, file) {
			return false
		}
		if hasFunctionCallBetween(lastPoint.Node, point.Node, file) {
			return false
		}
	}

	return true
}

func (ca *CoalescingAnalyzer) addToCurrentGroup(point *InstrumentPoint) {
	if ca.currentGroup == nil {
		return
	}

	stmt, ok := point.Node.(ast.Stmt)
	if !ok {
		return
	}

	ca.currentGroup.Operations = append(ca.currentGroup.Operations, stmt)
	ca.currentGroup.BarrierPos = len(ca.currentGroup.Operations) - 1
}

func (ca *CoalescingAnalyzer) startNewGroup(point *InstrumentPoint) {
	stmt, ok := point.Node.(ast.Stmt)
	if !ok {
		ca.currentGroup = nil
		return
	}

	ca.currentGroup = &CoalescingGroup{
		Addr:       point.Addr,
		AccessType: point.AccessType,
		Operations: []ast.Stmt{stmt},
		BarrierPos: 0,
	}
}

// finalizeCurrentGroup flushes currentGroup into groups if it reached
// 2+ operations (anything less has nothing to coalesce), then clears it.
func (ca *CoalescingAnalyzer) finalizeCurrentGroup() {
	if ca.currentGroup == nil {
		return
	}

	if len(ca.currentGroup.Operations) >= 2 {
		ca.groups = append(ca.groups, *ca.currentGroup)
	}

	ca.currentGroup = nil
}

func (ca *CoalescingAnalyzer) calculateStats() {
	ca.stats.GroupsCreated = len(ca.groups)

	totalCoalesced := 0
	for _, group := range ca.groups {
		totalCoalesced += len(group.Operations)
	}

	ca.stats.CoalescedOperations = totalCoalesced
	ca.stats.BarriersRemoved = totalCoalesced - ca.stats.GroupsCreated
}

// GetCoalescingReduction returns the fraction of barriers dropped by
// coalescing, as a percentage of TotalOperations.
func (ca *CoalescingAnalyzer) GetCoalescingReduction() float64 {
	if ca.stats.TotalOperations == 0 {
		return 0.0
	}
	return (float64(ca.stats.BarriersRemoved) / float64(ca.stats.TotalOperations)) * 100.0
}

// astNodesEqual is a structural equality check over the address-like
// expression shapes the visitor produces (identifiers, selectors,
// indexing, unary/star, literals). It has no type information, so two
// semantically-identical-but-differently-written expressions compare
// unequal; that only costs a missed coalescing opportunity, never a
// missed race.
func astNodesEqual(a, b ast.Expr) bool {
	if a == nil || b == nil {
		return a == b
	}

	switch aNode := a.(type) {
	case *ast.Ident:
		bNode, ok := b.(*ast.Ident)
		if !ok {
			return false
		}
		return aNode.Name == bNode.Name

	case *ast.SelectorExpr:
		bNode, ok := b.(*ast.SelectorExpr)
		if !ok {
			return false
		}
		return astNodesEqual(aNode.X, bNode.X) && aNode.Sel.Name == bNode.Sel.Name

	case *ast.IndexExpr:
		bNode, ok := b.(*ast.IndexExpr)
		if !ok {
			return false
		}
		return astNodesEqual(aNode.X, bNode.X) && astNodesEqual(aNode.Index, bNode.Index)

	case *ast.UnaryExpr:
		bNode, ok := b.(*ast.UnaryExpr)
		if !ok {
			return false
		}
		return aNode.Op == bNode.Op && astNodesEqual(aNode.X, bNode.X)

	case *ast.StarExpr:
		// parser.ParseExpr produces *ast.StarExpr for *ptr, not *ast.UnaryExpr.
		bNode, ok := b.(*ast.StarExpr)
		if !ok {
			return false
		}
		return astNodesEqual(aNode.X, bNode.X)

	case *ast.BasicLit:
		bNode, ok := b.(*ast.BasicLit)
		if !ok {
			return false
		}
		return aNode.Kind == bNode.Kind && aNode.Value == bNode.Value

	default:
		return false
	}
}

// hasControlFlowBetween reports whether stmt1 and stmt2 might not
// execute back-to-back: either they live in different blocks, or
// they're in the same block but something sits between them. Both are
// treated as "assume control flow" since neither rules out a branch,
// loop, or jump changing what runs in between.
func hasControlFlowBetween(stmt1, stmt2 ast.Node, file *ast.File) bool {
	block1 := findParentBlock(stmt1, file)
	block2 := findParentBlock(stmt2, file)

	if block1 == nil || block2 == nil || block1 != block2 {
		return true
	}

	return !areStatementsConsecutive(stmt1, stmt2, block1)
}

// hasFunctionCallBetween reports whether a call might sit between
// stmt1 and stmt2 - a call can have side effects on the very address
// being coalesced (e.g. `x = 1; foo(); x = 2` must not merge), so
// non-consecutive statements are conservatively treated as unsafe.
func hasFunctionCallBetween(stmt1, stmt2 ast.Node, file *ast.File) bool {
	block := findParentBlock(stmt1, file)
	if block == nil {
		return true
	}

	return !areStatementsConsecutive(stmt1, stmt2, block)
}

// findParentBlock finds the BlockStmt enclosing node, by the same
// walk-and-match approach as findParentStatement in visitor.go - the
// AST has no parent pointers to follow directly.
func findParentBlock(node ast.Node, file *ast.File) *ast.BlockStmt {
	var result *ast.BlockStmt

	ast.Inspect(file, func(n ast.Node) bool {
		if block, ok := n.(*ast.BlockStmt); ok {
			found := false
			ast.Inspect(block, func(inner ast.Node) bool {
				if inner == node {
					found = true
					return false
				}
				return true
			})
			if found {
				result = block
				return false
			}
		}
		return true
	})

	return result
}

// areStatementsConsecutive reports whether stmt2 immediately follows
// stmt1 in block.List, with nothing in between.
func areStatementsConsecutive(stmt1, stmt2 ast.Node, block *ast.BlockStmt) bool {
	if block == nil {
		return false
	}

	idx1 := -1
	idx2 := -1

	for i, s := range block.List {
		if s == stmt1 {
			idx1 = i
		}
		if s == stmt2 {
			idx2 = i
		}
	}

	if idx1 == -1 || idx2 == -1 {
		return false
	}

	return idx2 == idx1+1
}
