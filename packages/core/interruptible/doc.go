// Package interruptible runs a single operation on a dedicated goroutine
// while polling an abort predicate.
//
// When the predicate turns true the runner cancels the operation's Token,
// calls the abort function and then escalates: it waits for the graceful
// shutdown period, then for the extended shutdown period, and finally
// terminates the process. Each stage is logged at a different level so an
// operator can tell a prompt cancellation from one that needed the process
// to exit.
package interruptible
