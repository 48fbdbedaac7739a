// Package exitcodes defines the standard exit codes used by loupe.
package exitcodes

// Exit code constants used by loupe
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when every captured state matches its reference
// * TestFailure (1): Used when one or more states differ from their reference
// * RuntimeErr (2): Used for runtime errors such as panics, timeouts or other failures
// * ForcedShutdown (3): Used when a halt timeout elapses before cancellation completes
const (
	Success        = 0 // All states match
	TestFailure    = 1 // State mismatches
	RuntimeErr     = 2 // Runtime errors or timeouts
	ForcedShutdown = 3 // Halt safeguard fired
)
