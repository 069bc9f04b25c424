// Package thread manages the remote thread behind one conversation. A
// Session creates the thread on first use and caches it; callers that arrive
// while creation is in flight wait for that same creation.
package thread
