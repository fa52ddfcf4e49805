// Package exitcodes defines the exit codes used by op-blackbox.
package exitcodes

// Exit code constants used by op-blackbox:
//
// * Success (0): every verdict is pass or skipped
// * TestFailure (1): at least one verdict is fail or error
// * RuntimeErr (2): the run itself could not be carried out, e.g. a bad
// manifest, a missing compiler or a panic
const (
	Success     = 0 // All test cases pass
	TestFailure = 1 // Failed or errored test cases
	RuntimeErr  = 2 // Runtime errors
)
