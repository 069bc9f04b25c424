// Package credential resolves how a request authenticates to the assistant
// backend.
//
// Precedence, highest first:
//
//  1. a bearer token supplied by the caller (Authorization header or the
//     legacy accessToken body field)
//  2. the shared API key from configuration
//  3. an ambient token source, normally OAuth client credentials
//
// Bearer tokens are checked when they are constructed. An empty token, or a
// JWT whose exp claim is already in the past, is an InvalidCredentialError.
// Tokens that are not JWTs are assumed to live for one hour.
//
// Credentials implement slog.LogValuer and log a blake2b fingerprint in place
// of the secret.
package credential
