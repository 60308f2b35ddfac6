// Package notifier delivers notifications to registrants asynchronously.
//
// Notify only enqueues. A pool of workers drains the queue through a shared
// token bucket and retries failed sends with jittered exponential backoff.
// Identical notifications to the same target inside DedupWindow are
// suppressed.
//
// # History
//
// The service keeps a small in-memory history of delivered messages for the
// /status command.
package notifier
