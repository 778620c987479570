// Package ignore parses and matches ignore-list suppression rules: lines
// of the form "obj:<glob>", "src:<glob>", "fun:<glob>", "fun_r:<glob>",
// and "fun_hist:<glob>", one rule per line, '#' starting a comment.
//
// obj:/src:/fun: entries suppress race reports outright. fun_r: entries
// suppress only reporting from a function's synchronous return path; the
// distinction exists in the original engine's call-stack handling and is
// preserved here even though this engine does not yet act on it at the
// detector level — see Lists.MatchesFunR.
// fun_hist: entries exclude a function from appearing in race report
// history/backtraces without suppressing the race itself.
package ignore

import (
	"bufio"
	"fmt"
	"strings"
)

// Triple bundles the function/object/file glob patterns of a single
// three-part match rule, mirroring the original engine's IgnoreTriple.
type Triple struct {
	Fun  string
	Obj  string
	File string
}

// Lists holds every parsed ignore rule, split by kind the same way the
// original engine keeps three separate vectors (ignores, ignores_r,
// ignores_hist) plus per-kind obj/src/fun patterns.
type Lists struct {
	objs     []string
	srcs     []string
	funs     []string
	funsR    []string
	funsHist []string
}

// Parse reads an ignore-list file's contents (already loaded into
// memory) and returns the parsed Lists. Blank lines and '#'-prefixed
// comments are dropped before parsing, matching the original engine's
// SplitStringIntoLinesAndRemoveBlanksAndComments. An unrecognized
// non-blank line is a parse error - the original engine treats this as
// fatal (CHECK(0)); here it is returned as an error instead so the
// caller (config loading) can log and decide whether to continue.
func Parse(content string) (*Lists, error) {
	lists := &Lists{}
	scanner := bufio.NewScanner(strings.NewReader(content))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := stripComment(scanner.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := lists.addLine(line); err != nil {
			return nil, fmt.Errorf("ignore list line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lists, nil
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		return line[:i]
	}
	return line
}

func (l *Lists) addLine(line string) error {
	switch {
	case strings.HasPrefix(line, "obj:"):
		l.objs = append(l.objs, strings.TrimPrefix(line, "obj:"))
	case strings.HasPrefix(line, "src:"):
		l.srcs = append(l.srcs, strings.TrimPrefix(line, "src:"))
	case strings.HasPrefix(line, "fun_r:"):
		l.funsR = append(l.funsR, strings.TrimPrefix(line, "fun_r:"))
	case strings.HasPrefix(line, "fun_hist:"):
		l.funsHist = append(l.funsHist, strings.TrimPrefix(line, "fun_hist:"))
	case strings.HasPrefix(line, "fun:"):
		l.funs = append(l.funs, strings.TrimPrefix(line, "fun:"))
	default:
		return fmt.Errorf("unrecognized ignore entry %q", line)
	}
	return nil
}

// MatchesObj reports whether name (an object/module name) matches any
// obj: rule.
func (l *Lists) MatchesObj(name string) bool {
	return anyMatch(l.objs, name)
}

// MatchesSrc reports whether path (a source file path) matches any src:
// rule.
func (l *Lists) MatchesSrc(path string) bool {
	return anyMatch(l.srcs, path)
}

// MatchesFun reports whether fn (a fully-qualified function name)
// matches any fun: rule.
func (l *Lists) MatchesFun(fn string) bool {
	return anyMatch(l.funs, fn)
}

// MatchesFunR reports whether fn matches any fun_r: rule.
func (l *Lists) MatchesFunR(fn string) bool {
	return anyMatch(l.funsR, fn)
}

// MatchesFunHist reports whether fn matches any fun_hist: rule.
func (l *Lists) MatchesFunHist(fn string) bool {
	return anyMatch(l.funsHist, fn)
}

// TripleVectorMatchKnown reports whether any Triple in v matches, where
// an empty fun/obj/file argument is treated as "this component is
// unknown, ignore it" rather than "this component is empty" - a
// caller that hasn't symbolized the file yet can still check fun/obj
// alone. A match is discarded when every known component matched only
// through a "*" pattern, so a Triple consisting entirely of "*" patterns
// never matches, mirroring the original engine's rule that a
// wildcard-only triple must not suppress reports.
func TripleVectorMatchKnown(v []Triple, fun, obj, file string) bool {
	for _, t := range v {
		if (fun == "" || matchGlob(t.Fun, fun)) &&
			(obj == "" || matchGlob(t.Obj, obj)) &&
			(file == "" || matchGlob(t.File, file)) {
			if (fun == "" || t.Fun == "*") &&
				(obj == "" || t.Obj == "*") &&
				(file == "" || t.File == "*") {
				continue
			}
			return true
		}
	}
	return false
}

func anyMatch(patterns []string, s string) bool {
	for _, p := range patterns {
		if matchGlob(p, s) {
			return true
		}
	}
	return false
}

// Empty reports whether no rules were parsed at all, so a caller can
// skip the suppression check entirely on the hot path.
func (l *Lists) Empty() bool {
	return len(l.objs) == 0 && len(l.srcs) == 0 && len(l.funs) == 0 &&
		len(l.funsR) == 0 && len(l.funsHist) == 0
}
