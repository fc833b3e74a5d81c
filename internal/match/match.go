package match

import "strings"

// Normalize lowercases a payer name, trims it, and collapses internal
// whitespace runs to a single space.
func Normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Names reports whether two free-text payer names refer to the same person.
// After normalization the names match when they are equal or when either one
// contains the other. No unicode folding and no edit distance tolerance.
func Names(entered, payer string) bool {
	a := Normalize(entered)
	b := Normalize(payer)
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}
