//go:build !debug

// Package debug provides assertions that are compiled in with the debug
// build tag and are no-ops otherwise.  Interrupt-path code uses them for
// invariants that are too expensive to check in release builds.
package debug

// Enabled reports whether assertions are compiled in.  Guard assertions
// that do real work with `if debug.Enabled { ... }` so release builds can
// drop them entirely.
const Enabled = false

// Assert panics with message if b is false.
func Assert(b bool, message string) {}

// AssertErrNil panics if err is not nil.
func AssertErrNil(err error) {}
