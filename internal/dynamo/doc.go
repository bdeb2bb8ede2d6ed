// Package dynamo provides the shared primitives of the hybrid simulation engine.
//
// The package defines the small vocabulary every other package speaks:
//
//   - [State]: continuous-state and indicator vectors
//   - [Outcome]: how a run ended (completed, cancelled, terminated by a unit, failed)
//   - [Event]: a discrete event instant with its kind and indicator crossings
//   - [CancelFlag], [Progress]: per-run cells shared with a controlling goroutine
//   - [Diagnostics]: queryable warning-class findings
//
// # Errors
//
// Error kinds are sentinel values ([ErrSequence], [ErrLoopDidNotConverge],
// [ErrUnitError], ...) matched with errors.Is. Typed errors from other
// packages unwrap to one of them.
//
// # Thread Safety
//
// Only [CancelFlag] and [Progress] may be touched from outside the run's
// goroutine. Everything else belongs to exactly one run.
package dynamo
