// Package chat is the boundary the HTTP layer talks to.
//
// A Client holds what every request shares: the backend constructor, the
// per-thread locks, the optional turn ledger and the run settings. For each
// request the caller resolves a credential and asks the Client for a Session
// bound to that credential and the client-supplied thread id. Nothing is
// cached between requests.
//
// Session.SendTurn rejects blank input before any network call, creates the
// thread on first use, runs the turn and returns the whole conversation
// oldest first. Errors are always *apperr.Error values. When a ledger is
// configured every turn is recorded, and RetryTurn can replay a failed turn
// without posting its text twice.
package chat
