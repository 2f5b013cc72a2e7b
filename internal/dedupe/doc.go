// Package dedupe remembers client-supplied message keys for a bounded time so
// a retried submission resolves to the message that was stored the first time.
package dedupe
