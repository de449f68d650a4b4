//go:build debug

// Package check holds invariant assertions compiled in only with the debug
// build tag.
package check

import "fmt"

// Assert panics with msg when cond is false.
func Assert(cond bool, msg string) {
	if !cond {
		panic("invariant violated: " + msg)
	}
}

// Assertf panics with a formatted message when cond is false.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("invariant violated: " + fmt.Sprintf(format, args...))
	}
}
