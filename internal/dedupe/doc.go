// Package dedupe keeps short-lived keys in a bounded TTL cache. The gateway
// uses it for OAuth state values, which must be consumed exactly once, and
// for client-supplied request ids, which must not be processed twice.
package dedupe
