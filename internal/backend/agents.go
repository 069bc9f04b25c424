// ABOUTME: RunBackend for Azure AI Foundry agent projects (thread/run API, api-version v1)
// ABOUTME: Lists messages oldest-first and classifies Azure core error envelopes

package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/credential"
)

// DefaultAgentsAPIVersion is the agents data-plane version.
const DefaultAgentsAPIVersion = "v1"

// Agents talks to an AI Foundry project endpoint such as
// https://<resource>.services.ai.azure.com/api/projects/<project>.
type Agents struct {
	rest *restClient
}

// NewAgents creates an agents backend authenticated with cred.
func NewAgents(opts Options, cred credential.Credential) *Agents {
	version := opts.APIVersion
	if version == "" {
		version = DefaultAgentsAPIVersion
	}
	return &Agents{rest: newRESTClient(string(KindAgents), opts.Endpoint, version, opts, cred, classifyAgentsError)}
}

func (a *Agents) Name() string { return string(KindAgents) }

func (a *Agents) CreateThread(ctx context.Context) (ThreadInfo, error) {
	return a.rest.createThread(ctx)
}

func (a *Agents) PostMessage(ctx context.Context, threadID string, role Role, content string) error {
	return a.rest.postMessage(ctx, threadID, role, content)
}

func (a *Agents) StartRun(ctx context.Context, threadID, agentID string) (Run, error) {
	return a.rest.startRun(ctx, threadID, agentID)
}

func (a *Agents) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	return a.rest.getRun(ctx, threadID, runID)
}

func (a *Agents) ListMessages(ctx context.Context, threadID string) (MessageList, error) {
	msgs, err := a.rest.listAll(ctx, threadID, OrderAscending)
	if err != nil {
		return MessageList{}, err
	}
	return MessageList{Messages: msgs, Order: OrderAscending}, nil
}

// classifyAgentsError reads the Azure core envelope {"error":{"code","message"}}
// and the bare {"code","message"} form some gateway errors use.
func classifyAgentsError(status int, body []byte) *apperr.RemoteError {
	var envelope struct {
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}

	remote := &apperr.RemoteError{Kind: apperr.RemoteKindForStatus(status), Status: status}
	if err := json.Unmarshal(body, &envelope); err == nil {
		switch {
		case envelope.Error != nil:
			remote.Code = envelope.Error.Code
			remote.Message = envelope.Error.Message
		default:
			remote.Code = envelope.Code
			remote.Message = envelope.Message
		}
	}
	if remote.Message == "" {
		remote.Message = fallbackMessage(status, body)
	}
	return remote
}

const maxFallbackMessage = 300

func fallbackMessage(status int, body []byte) string {
	if text := strings.TrimSpace(string(body)); text != "" {
		if len(text) > maxFallbackMessage {
			n := maxFallbackMessage
			for n > 0 && !utf8.RuneStart(text[n]) {
				n--
			}
			text = text[:n] + "..."
		}
		return text
	}
	return http.StatusText(status)
}
