// Package glob implements the brace-expansion and name-matching logic
// the receiver uses to constrain incoming names to a requested
// pattern (spec.md §4.3, "Brace expansion").
package glob

import (
	"fmt"
	"path/filepath"
)

// ErrUnbalancedBraces is returned when a pattern has mismatched `{`/`}`.
var ErrUnbalancedBraces = fmt.Errorf("glob: unbalanced braces in pattern")

// Expand expands brace groups in pattern, e.g. "a{b,c}d" -> "abd",
// "acd", respecting nested braces and bracket-escaped groups
// (`[{]`/`[,]` are literal, not group syntax). Invalid (unbalanced)
// braces are a hard error.
func Expand(pattern string) ([]string, error) {
	if err := checkBalanced(pattern); err != nil {
		return nil, err
	}
	return expand(pattern), nil
}

// checkBalanced walks the pattern tracking bracket and brace nesting
// so "a{" and "a{b,c" are rejected while "a[{]" (a literal brace
// inside a bracket expression) is accepted.
func checkBalanced(pattern string) error {
	depth := 0
	inBracket := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '[' && !inBracket:
			inBracket = true
		case c == ']' && inBracket:
			inBracket = false
		case c == '{' && !inBracket:
			depth++
		case c == '}' && !inBracket:
			depth--
			if depth < 0 {
				return ErrUnbalancedBraces
			}
		}
	}
	if depth != 0 || inBracket {
		return ErrUnbalancedBraces
	}
	return nil
}

// expand performs one layer of brace expansion, recursing on the
// results until no braces remain. Bracket-expression contents are
// treated as opaque and never split on.
func expand(pattern string) []string {
	start, end, ok := findTopLevelBraces(pattern)
	if !ok {
		return []string{pattern}
	}
	prefix := pattern[:start]
	suffix := pattern[end+1:]
	inner := pattern[start+1 : end]

	var out []string
	for _, alt := range splitTopLevel(inner) {
		for _, expanded := range expand(prefix + alt + suffix) {
			out = append(out, expanded)
		}
	}
	return out
}

// findTopLevelBraces locates the first top-level (not inside a
// bracket expression) `{...}` group and returns its byte offsets.
func findTopLevelBraces(pattern string) (start, end int, ok bool) {
	depth := 0
	inBracket := false
	start = -1
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '[' && !inBracket:
			inBracket = true
		case c == ']' && inBracket:
			inBracket = false
		case c == '{' && !inBracket:
			if depth == 0 {
				start = i
			}
			depth++
		case c == '}' && !inBracket:
			depth--
			if depth == 0 && start >= 0 {
				return start, i, true
			}
		}
	}
	return 0, 0, false
}

// splitTopLevel splits inner on commas that are not nested inside a
// further brace group or bracket expression.
func splitTopLevel(inner string) []string {
	var parts []string
	depth := 0
	inBracket := false
	last := 0
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		switch {
		case c == '[' && !inBracket:
			inBracket = true
		case c == ']' && inBracket:
			inBracket = false
		case c == '{' && !inBracket:
			depth++
		case c == '}' && !inBracket:
			depth--
		case c == ',' && !inBracket && depth == 0:
			parts = append(parts, inner[last:i])
			last = i + 1
		}
	}
	parts = append(parts, inner[last:])
	return parts
}

// Match reports whether name matches any of the patterns produced by
// expanding pattern's brace groups, using filepath.Match for the
// underlying glob syntax within each alternative.
func Match(pattern, name string) (bool, error) {
	alts, err := Expand(pattern)
	if err != nil {
		return false, err
	}
	for _, alt := range alts {
		ok, err := filepath.Match(alt, name)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// MatchAny reports whether name matches at least one of patterns,
// each of which may itself contain brace groups. An empty patterns
// list matches every name.
func MatchAny(patterns []string, name string) (bool, error) {
	for _, p := range patterns {
		ok, err := Match(p, name)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return len(patterns) == 0, nil
}
