// ABOUTME: Package auth handles browser sign-in against the identity provider
// ABOUTME: and pulls caller-supplied bearer tokens off HTTP requests

// Package auth provides the OAuth 2.0 authorization-code flow (with PKCE) used
// by the chat UI to obtain an access token for the agent service, the
// client-credentials token source used as the gateway's ambient identity, and
// helpers for extracting bearer tokens from requests.
//
// Authorization state is single use: every AuthURL call mints a state value
// bound to a PKCE verifier, and Exchange consumes it. Unknown or replayed
// states are rejected before the identity provider is contacted.
package auth
