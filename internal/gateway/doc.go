// Package gateway orchestrates the kancha-gateway HTTP server.
//
// # Overview
//
// The gateway package wires configuration into the running server: the chat
// client (backend factory, turn ledger, thread locks), the credential
// resolver, the optional sign-in flow and the speech token issuer. Every
// request builds its own chat session from the caller's credential and the
// thread id it sent; the gateway itself keeps no per-conversation state.
//
// # HTTP API
//
//   - POST /chat - Send a turn, or retry a failed one with retryTurnId
//   - GET /chat?threadId=X - Conversation history ([] without a thread)
//   - GET /api/threads/{id}/turns - Turn ledger rows for a thread
//   - GET /api/auth/check - Whether callers must sign in
//   - GET /api/auth/login - Redirect to the identity provider
//   - GET /auth/callback - Provider redirect target
//   - POST /api/auth/token - Exchange code and state for an access token
//   - GET /api/speech-token?language=en|ne - Short-lived speech token
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check
//
// Add render=html to either /chat request to receive each message rendered
// as HTML alongside its markdown.
//
// # Credentials
//
// A turn uses, in order: the Authorization bearer token, the accessToken body
// field, the configured api key, then the service identity. A token that is
// present but malformed is rejected with 400 rather than falling through.
//
// # Errors
//
// Failures are returned as
//
//	{"error": "...", "kind": "run_failed_error", "retryable": true, "threadId": "...", "turnId": "..."}
//
// with 400 for bad input or credentials, 409 for a repeated requestId and 500
// for everything else. Remote 401, 403 and 404 responses get a hint appended.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Canceling ctx shuts the server down, giving in-flight turns up to the run
// timeout to finish. With tailscale.enabled the server listens on the tailnet
// instead of server.http_addr.
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown, health
//   - chat.go: conversation handlers
//   - authapi.go: sign-in handlers and callback page
//   - speech.go: speech token handler
//   - respond.go: JSON and error responses
package gateway
