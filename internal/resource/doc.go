// Package resource governs the shared budgets of an open database.
//
//   - Memory: the write buffer ceiling. Reservations are non-blocking and
//     fail fast with ErrMemoryLimitExceeded so the writer can force a flush.
//   - Workers: a semaphore bounding concurrent background merges.
//   - IO: a token bucket throttling background segment writes.
//
// All methods are safe for concurrent use, and a nil *Controller is a valid
// unlimited controller.
package resource
