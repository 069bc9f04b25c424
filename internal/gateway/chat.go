// ABOUTME: HTTP handlers for sending turns, reading history and inspecting the turn ledger
// ABOUTME: Each request builds its own chat session from the caller's credential and thread id

package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/auth"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/chat"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/normalize"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/store"
)

// SendTurnRequest is the JSON request body for POST /chat.
type SendTurnRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"threadId,omitempty"`
	// AccessToken is kept raw so a non-string value can be rejected.
	AccessToken json.RawMessage `json:"accessToken,omitempty"`
	RetryTurnID string          `json:"retryTurnId,omitempty"`
	RequestID   string          `json:"requestId,omitempty"`
}

// MessageResponse is one conversation message. HTML is set when the client
// asked for rendered output.
type MessageResponse struct {
	chat.Message
	HTML string `json:"html,omitempty"`
}

// SendTurnResponse is the JSON response for POST /chat.
type SendTurnResponse struct {
	Messages []MessageResponse `json:"messages"`
	ThreadID string            `json:"threadId"`
	TurnID   string            `json:"turnId,omitempty"`
}

// HistoryResponse is the JSON response for GET /chat.
type HistoryResponse struct {
	Messages []MessageResponse `json:"messages"`
	ThreadID string            `json:"threadId,omitempty"`
}

// TurnResponse is one ledger row for GET /api/threads/{id}/turns.
type TurnResponse struct {
	ID          string `json:"id"`
	ThreadID    string `json:"threadId"`
	RunID       string `json:"runId,omitempty"`
	Status      string `json:"status"`
	Posted      bool   `json:"posted"`
	AuthMode    string `json:"authMode"`
	ErrorKind   string `json:"errorKind,omitempty"`
	ErrorDetail string `json:"errorDetail,omitempty"`
	Attempts    int    `json:"attempts"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

// ThreadTurnsResponse is the JSON response for GET /api/threads/{id}/turns.
type ThreadTurnsResponse struct {
	ThreadID string         `json:"threadId"`
	Turns    []TurnResponse `json:"turns"`
}

// handleSendTurn handles POST /chat: a new turn, or a retry of a failed one.
func (g *Gateway) handleSendTurn(w http.ResponseWriter, r *http.Request) {
	var req SendTurnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.writeError(w, r, err, "", "")
		return
	}

	token, err := requestToken(r, req.AccessToken)
	if err != nil {
		g.writeError(w, r, err, req.ThreadID, "")
		return
	}

	requestID := strings.TrimSpace(req.RequestID)
	if requestID != "" && !g.requests.Claim(requestID) {
		g.writeError(w, r, apperr.New(apperr.KindConflict, "dedupe", "request "+strconv.Quote(requestID)+" was already submitted"), req.ThreadID, "")
		return
	}

	res, err := g.sendTurn(r, req, token, requestID)
	if err != nil {
		if requestID != "" && rejectedBeforeSend(err) {
			g.requests.Release(requestID)
		}
		g.writeError(w, r, err, res.ThreadID, res.TurnID)
		return
	}

	messages, err := renderMessages(res.Messages, wantsHTML(r))
	if err != nil {
		g.writeError(w, r, err, res.ThreadID, res.TurnID)
		return
	}
	writeJSON(w, http.StatusOK, SendTurnResponse{
		Messages: messages,
		ThreadID: res.ThreadID,
		TurnID:   res.TurnID,
	})
}

func (g *Gateway) sendTurn(r *http.Request, req SendTurnRequest, token *string, requestID string) (chat.TurnResult, error) {
	cred, err := g.resolver.Resolve(token)
	if err != nil {
		return chat.TurnResult{ThreadID: req.ThreadID}, err
	}

	session := g.chat.Session(cred, strings.TrimSpace(req.ThreadID))
	if req.RetryTurnID != "" {
		return session.RetryTurn(r.Context(), req.RetryTurnID)
	}
	return session.SendTurn(r.Context(), req.Message, chat.WithRequestID(requestID))
}

// rejectedBeforeSend reports failures that happen before anything reaches
// the remote thread, so the same request id may be submitted again.
func rejectedBeforeSend(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindInvalidCredential, apperr.KindConfiguration:
		return true
	default:
		return false
	}
}

// handleHistory handles GET /chat?threadId=X. A request without a thread id
// has an empty history.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	threadID := strings.TrimSpace(r.URL.Query().Get("threadId"))
	if threadID == "" {
		writeJSON(w, http.StatusOK, HistoryResponse{Messages: []MessageResponse{}})
		return
	}

	token, err := requestToken(r, nil)
	if err != nil {
		g.writeError(w, r, err, threadID, "")
		return
	}
	cred, err := g.resolver.Resolve(token)
	if err != nil {
		g.writeError(w, r, err, threadID, "")
		return
	}

	msgs, err := g.chat.Session(cred, threadID).ListHistory(r.Context())
	if err != nil {
		g.writeError(w, r, err, threadID, "")
		return
	}

	messages, err := renderMessages(msgs, wantsHTML(r))
	if err != nil {
		g.writeError(w, r, err, threadID, "")
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Messages: messages, ThreadID: threadID})
}

// handleThreadTurns handles GET /api/threads/{id}/turns.
func (g *Gateway) handleThreadTurns(w http.ResponseWriter, r *http.Request) {
	if !g.chat.HasLedger() {
		sendJSONError(w, http.StatusNotFound, "turn ledger is not configured")
		return
	}

	threadID := r.PathValue("id")
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			g.writeError(w, r, apperr.Validation("limit must be a positive integer"), threadID, "")
			return
		}
		limit = n
	}

	turns, err := g.chat.Turns(r.Context(), threadID, limit)
	if err != nil {
		g.writeError(w, r, err, threadID, "")
		return
	}

	resp := ThreadTurnsResponse{ThreadID: threadID, Turns: make([]TurnResponse, 0, len(turns))}
	for _, t := range turns {
		resp.Turns = append(resp.Turns, turnToResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func turnToResponse(t *store.Turn) TurnResponse {
	return TurnResponse{
		ID:          t.ID,
		ThreadID:    t.ThreadID,
		RunID:       t.RunID,
		Status:      string(t.Status),
		Posted:      t.Posted,
		AuthMode:    t.AuthMode,
		ErrorKind:   t.ErrorKind,
		ErrorDetail: t.ErrorDetail,
		Attempts:    t.Attempts,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   t.UpdatedAt.Format(time.RFC3339),
	}
}

// requestToken returns the caller's bearer token: the Authorization header
// first, then the accessToken body field. nil means the caller sent none.
func requestToken(r *http.Request, raw json.RawMessage) (*string, error) {
	if token, present, errMsg := auth.BearerToken(r); present {
		if errMsg != "" {
			return nil, apperr.InvalidCredential(errMsg)
		}
		return &token, nil
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, apperr.InvalidCredential("invalid access token format")
	}
	return &token, nil
}

func wantsHTML(r *http.Request) bool {
	return r.URL.Query().Get("render") == "html"
}

func renderMessages(msgs []chat.Message, withHTML bool) ([]MessageResponse, error) {
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp := MessageResponse{Message: m}
		if withHTML {
			html, err := normalize.RenderHTML(m.Content)
			if err != nil {
				return nil, apperr.Wrap(apperr.KindNormalization, "render message", err)
			}
			resp.HTML = html
		}
		out = append(out, resp)
	}
	return out, nil
}
