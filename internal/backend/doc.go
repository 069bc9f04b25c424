// Package backend defines RunBackend, the thread/run API of the hosted
// assistant, and implements it for two Azure variants:
//
//   - agents: AI Foundry project endpoints, api-version v1, messages listed
//     oldest first
//   - assistants: Azure OpenAI /openai routes, api-version
//     2024-05-01-preview, messages listed newest first
//
// Both share one JSON transport. Each variant owns its classifier that turns
// error responses into *apperr.RemoteError, so callers never see raw HTTP.
// Reads (GetRun, ListMessages) are retried on 429, 5xx and transport
// failures; writes are sent once.
package backend
