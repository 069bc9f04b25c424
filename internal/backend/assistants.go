// ABOUTME: RunBackend for Azure OpenAI assistants (/openai/threads, api-version 2024-05-01-preview)
// ABOUTME: Lists messages newest-first as the service does by default

package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/credential"
)

// DefaultAssistantsAPIVersion is the assistants preview version.
const DefaultAssistantsAPIVersion = "2024-05-01-preview"

// Assistants talks to an Azure OpenAI resource such as https://<resource>.openai.azure.com.
type Assistants struct {
	rest *restClient
}

// NewAssistants creates an assistants backend authenticated with cred.
func NewAssistants(opts Options, cred credential.Credential) *Assistants {
	version := opts.APIVersion
	if version == "" {
		version = DefaultAssistantsAPIVersion
	}
	base := opts.Endpoint + "/openai"
	return &Assistants{rest: newRESTClient(string(KindAssistants), base, version, opts, cred, classifyAssistantsError)}
}

func (a *Assistants) Name() string { return string(KindAssistants) }

func (a *Assistants) CreateThread(ctx context.Context) (ThreadInfo, error) {
	return a.rest.createThread(ctx)
}

func (a *Assistants) PostMessage(ctx context.Context, threadID string, role Role, content string) error {
	return a.rest.postMessage(ctx, threadID, role, content)
}

func (a *Assistants) StartRun(ctx context.Context, threadID, agentID string) (Run, error) {
	return a.rest.startRun(ctx, threadID, agentID)
}

func (a *Assistants) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	return a.rest.getRun(ctx, threadID, runID)
}

func (a *Assistants) ListMessages(ctx context.Context, threadID string) (MessageList, error) {
	msgs, err := a.rest.listAll(ctx, threadID, OrderDescending)
	if err != nil {
		return MessageList{}, err
	}
	return MessageList{Messages: msgs, Order: OrderDescending}, nil
}

// classifyAssistantsError reads the OpenAI envelope {"error":{"code","message","type"}}
// and the API-management form {"statusCode","message"} returned for key failures.
// OpenAI codes are sometimes numeric, so code is decoded loosely.
func classifyAssistantsError(status int, body []byte) *apperr.RemoteError {
	var envelope struct {
		Error *struct {
			Code    json.RawMessage `json:"code"`
			Message string          `json:"message"`
			Type    string          `json:"type"`
		} `json:"error"`
		StatusCode int    `json:"statusCode"`
		Message    string `json:"message"`
	}

	remote := &apperr.RemoteError{Kind: apperr.RemoteKindForStatus(status), Status: status}
	if err := json.Unmarshal(body, &envelope); err == nil {
		switch {
		case envelope.Error != nil:
			remote.Code = looseCode(envelope.Error.Code)
			if remote.Code == "" {
				remote.Code = envelope.Error.Type
			}
			remote.Message = envelope.Error.Message
		case envelope.Message != "":
			remote.Message = envelope.Message
			if envelope.StatusCode != 0 {
				remote.Code = fmt.Sprint(envelope.StatusCode)
			}
		}
	}
	if remote.Message == "" {
		remote.Message = fallbackMessage(status, body)
	}
	return remote
}

func looseCode(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
