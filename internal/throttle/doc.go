// Package throttle slows workers down when the ledger is rejecting work.
//
// RateController looks at the global failure rate: above 10% (with more than
// 100 submissions) every worker waits 200ms before submitting, above 30% it
// waits 5s. Backoff tracks consecutive failures of a single worker and, from
// the tenth failure on, delays its next iteration by min(500ms*n, 5s).
// Both delays are returned to the caller, which sums them into one sleep.
package throttle
