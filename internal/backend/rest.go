// ABOUTME: JSON-over-HTTPS transport shared by the backend variants
// ABOUTME: Applies the credential, decodes responses and hands failures to the variant's classifier

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/credential"
)

// maxErrorBody caps how much of an error response is read for diagnostics.
const maxErrorBody = 64 << 10

// classifyFunc turns a non-2xx response into a RemoteError.
type classifyFunc func(status int, body []byte) *apperr.RemoteError

type restClient struct {
	name        string
	baseURL     string
	apiVersion  string
	cred        credential.Credential
	http        *http.Client
	classify    classifyFunc
	readRetries uint64
	retryBase   time.Duration
	logger      *slog.Logger
}

func newRESTClient(name, baseURL, apiVersion string, opts Options, cred credential.Credential, classify classifyFunc) *restClient {
	return &restClient{
		name:        name,
		baseURL:     baseURL,
		apiVersion:  apiVersion,
		cred:        cred,
		http:        opts.HTTPClient,
		classify:    classify,
		readRetries: opts.ReadRetries,
		retryBase:   opts.RetryBase,
		logger:      opts.Logger.With("component", "backend", "backend", name),
	}
}

// do performs one request. in is JSON-encoded when non-nil; out is decoded when non-nil.
func (c *restClient) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", c.apiVersion)
	target := c.baseURL + path + "?" + query.Encode()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("building %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.cred.Apply(ctx, req); err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &apperr.RemoteError{Kind: apperr.RemoteTransport, Message: err.Error(), Backend: c.name}
	}
	defer resp.Body.Close()

	c.logger.Debug("backend call", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		remote := c.classify(resp.StatusCode, data)
		remote.Backend = c.name
		return remote
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &apperr.RemoteError{
			Kind:    apperr.RemoteDecode,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("decoding %s response: %v", path, err),
			Backend: c.name,
		}
	}
	return nil
}

// read is do for idempotent GETs: transient failures are retried with
// exponential backoff up to readRetries times.
func (c *restClient) read(ctx context.Context, path string, query url.Values, out any) error {
	b := retry.WithMaxRetries(c.readRetries, retry.NewExponential(c.retryBase))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := c.do(ctx, http.MethodGet, path, cloneValues(query), nil, out)
		var remote *apperr.RemoteError
		if errors.As(err, &remote) && remote.Retryable() {
			c.logger.Warn("retrying backend read", "path", path, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// Wire shapes shared by both variants.

type wireThread struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
}

type wireRun struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

func (w wireRun) toRun() Run {
	r := Run{ID: w.ID, Status: RunStatus(w.Status)}
	if w.LastError != nil {
		r.LastError = &RunError{Code: w.LastError.Code, Message: w.LastError.Message}
	}
	return r
}

type wireMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	CreatedAt int64  `json:"created_at"`
	Content   []struct {
		Type string `json:"type"`
		Text *struct {
			Value string `json:"value"`
		} `json:"text"`
	} `json:"content"`
}

func (w wireMessage) toMessage() Message {
	m := Message{ID: w.ID, Role: Role(w.Role), CreatedAt: time.Unix(w.CreatedAt, 0).UTC()}
	for _, part := range w.Content {
		if part.Type == "text" && part.Text != nil {
			m.Text = part.Text.Value
			m.HasText = true
			break
		}
	}
	return m
}

type wireMessagePage struct {
	Data    []wireMessage `json:"data"`
	LastID  string        `json:"last_id"`
	HasMore bool          `json:"has_more"`
}

type postMessageRequest struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type startRunRequest struct {
	AssistantID string `json:"assistant_id"`
}

// maxMessagePages stops paging through a thread that keeps reporting more.
const maxMessagePages = 50

// listAll pages through a thread's messages in the given order.
func (c *restClient) listAll(ctx context.Context, threadID string, order Order) ([]Message, error) {
	var (
		out   []Message
		after string
	)
	for page := 0; page < maxMessagePages; page++ {
		q := url.Values{}
		q.Set("order", string(order))
		q.Set("limit", "100")
		if after != "" {
			q.Set("after", after)
		}

		var resp wireMessagePage
		if err := c.read(ctx, "/threads/"+url.PathEscape(threadID)+"/messages", q, &resp); err != nil {
			return nil, err
		}
		for _, m := range resp.Data {
			out = append(out, m.toMessage())
		}

		if !resp.HasMore || len(resp.Data) == 0 {
			return out, nil
		}
		after = resp.LastID
		if after == "" {
			after = resp.Data[len(resp.Data)-1].ID
		}
	}
	c.logger.Warn("message listing truncated", "thread_id", threadID, "pages", maxMessagePages)
	return out, nil
}

// Thread/run operations are identical on the wire for both variants.

func (c *restClient) createThread(ctx context.Context) (ThreadInfo, error) {
	var w wireThread
	if err := c.do(ctx, http.MethodPost, "/threads", nil, struct{}{}, &w); err != nil {
		return ThreadInfo{}, err
	}
	created := time.Now().UTC()
	if w.CreatedAt > 0 {
		created = time.Unix(w.CreatedAt, 0).UTC()
	}
	return ThreadInfo{ID: w.ID, CreatedAt: created}, nil
}

func (c *restClient) postMessage(ctx context.Context, threadID string, role Role, content string) error {
	return c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/messages", nil,
		postMessageRequest{Role: role, Content: content}, nil)
}

func (c *restClient) startRun(ctx context.Context, threadID, agentID string) (Run, error) {
	var w wireRun
	if err := c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/runs", nil,
		startRunRequest{AssistantID: agentID}, &w); err != nil {
		return Run{}, err
	}
	return w.toRun(), nil
}

func (c *restClient) getRun(ctx context.Context, threadID, runID string) (Run, error) {
	var w wireRun
	if err := c.read(ctx, "/threads/"+url.PathEscape(threadID)+"/runs/"+url.PathEscape(runID), nil, &w); err != nil {
		return Run{}, err
	}
	return w.toRun(), nil
}
