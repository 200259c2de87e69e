// Package retry provides the bounded exponential-backoff executor used to
// wrap fallible I/O operations such as object store transfers, external
// catalog calls, and record phase writes.
//
// The executor retries on operation failure only: errors classified as
// validation, configuration, precondition, or not-found abort immediately
// because reattempting them cannot succeed. Exhaustion surfaces as an
// ExhaustedError naming the operation and its target so operators can find
// the failing endpoint without digging through stack traces.
package retry
