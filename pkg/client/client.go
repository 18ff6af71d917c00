// Package client is a Go client for the handoff HTTP API. It is used by the
// handoffctl operator CLI and can be embedded by agents that prefer REST over
// the MCP tools.
//
// Errors returned by the server are surfaced as [*APIError], which matches
// the sentinels in package escalation via [errors.Is]. A lost resolution race
// additionally unwraps to [*escalation.AlreadyResolvedError] carrying the
// winning record.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/handoff/pkg/escalation"
)

// Error codes sent by the server in the "error" field of a failure body.
const (
	CodeNotFound        = "not_found"
	CodeAlreadyResolved = "already_resolved"
	CodeDuplicateWaiter = "duplicate_waiter"
	CodeInvalidRequest  = "invalid_request"
	CodeNotConfigured   = "not_configured"
)

// Await outcome statuses.
const (
	StatusResolved = "resolved"
	StatusTimedOut = "timed_out"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string

	// Current is the stored record for already_resolved conflicts.
	Current *escalation.Escalation
}

// Error implements error.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("handoff: %d %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("handoff: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Is maps server error codes onto the escalation sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case escalation.ErrNotFound:
		return e.Code == CodeNotFound
	case escalation.ErrAlreadyResolved:
		return e.Code == CodeAlreadyResolved
	case escalation.ErrDuplicateWaiter:
		return e.Code == CodeDuplicateWaiter
	}
	return false
}

// Unwrap exposes an [*escalation.AlreadyResolvedError] when the server sent
// the current record.
func (e *APIError) Unwrap() error {
	if e.Code == CodeAlreadyResolved && e.Current != nil {
		return &escalation.AlreadyResolvedError{Current: e.Current}
	}
	return nil
}

// AwaitResult is the outcome of a long-poll.
type AwaitResult struct {
	Status       string                 `json:"status"`
	EscalationID string                 `json:"escalation_id"`
	Response     string                 `json:"response,omitempty"`
	Escalation   *escalation.Escalation `json:"escalation,omitempty"`
	Instructions string                 `json:"instructions,omitempty"`
}

// Resolved reports whether an operator answered before the timeout.
func (r *AwaitResult) Resolved() bool { return r.Status == StatusResolved }

// Token is a LiveKit room join token.
type Token struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// Instructions is the composed agent prompt served by the server.
type Instructions struct {
	Name          string   `json:"name"`
	Instructions  string   `json:"instructions"`
	Greeting      string   `json:"greeting"`
	DecisionTypes []string `json:"decision_types"`
}

// Client talks to one handoff server. It is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The default has no
// overall timeout so long-polls are bounded only by their context and the
// server's await timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for the server at baseURL, e.g. "http://localhost:8000".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: base url %q must use http or https", baseURL)
	}
	c := &Client{baseURL: u, http: &http.Client{}}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends a request and decodes a 2xx JSON body into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Code       string                 `json:"error"`
		Message    string                 `json:"message"`
		Escalation *escalation.Escalation `json:"escalation"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(data, &body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
		apiErr.Current = body.Escalation
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Code == "" {
		apiErr.Code = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func escalationPath(id string, suffix string) string {
	return "/api/escalations/" + url.PathEscape(id) + suffix
}

// Create opens a new pending escalation and returns its ID.
func (c *Client) Create(ctx context.Context, req escalation.Request) (string, error) {
	in := struct {
		SessionRef     string                      `json:"session_ref,omitempty"`
		RequesterRef   string                      `json:"requester_ref,omitempty"`
		Reason         string                      `json:"reason"`
		Urgency        string                      `json:"urgency,omitempty"`
		DecisionType   string                      `json:"decision_type,omitempty"`
		ContextDetails string                      `json:"context_details,omitempty"`
		Transcript     []escalation.TranscriptLine `json:"transcript,omitempty"`
	}{
		SessionRef:     req.SessionRef,
		RequesterRef:   req.RequesterRef,
		Reason:         req.Reason,
		Urgency:        string(req.Urgency),
		DecisionType:   req.DecisionType,
		ContextDetails: req.ContextDetails,
		Transcript:     req.Transcript,
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/escalations", nil, in, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// ListPending returns pending escalations, oldest first.
func (c *Client) ListPending(ctx context.Context) ([]*escalation.Escalation, error) {
	var out []*escalation.Escalation
	if err := c.do(ctx, http.MethodGet, "/api/escalations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a single escalation.
func (c *Client) Get(ctx context.Context, id string) (*escalation.Escalation, error) {
	var out escalation.Escalation
	if err := c.do(ctx, http.MethodGet, escalationPath(id, ""), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Await long-polls for the operator's answer. A zero timeout uses the
// server default; the server clamps larger values to its maximum.
func (c *Client) Await(ctx context.Context, id string, timeout time.Duration) (*AwaitResult, error) {
	var query url.Values
	if timeout > 0 {
		query = url.Values{"timeout": {timeout.String()}}
	}
	var out AwaitResult
	if err := c.do(ctx, http.MethodPost, escalationPath(id, "/await"), query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Respond resolves an escalation. When another operator won the race the
// error matches [escalation.ErrAlreadyResolved] and unwraps to an
// [*escalation.AlreadyResolvedError].
func (c *Client) Respond(ctx context.Context, id, response string) (*escalation.Escalation, error) {
	in := struct {
		Response string `json:"response"`
	}{response}
	var out escalation.Escalation
	if err := c.do(ctx, http.MethodPost, escalationPath(id, "/respond"), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AttachInsight sets or replaces the insight text of an escalation.
func (c *Client) AttachInsight(ctx context.Context, id, insight string) (*escalation.Escalation, error) {
	in := struct {
		Insight string `json:"insight"`
	}{insight}
	var out escalation.Escalation
	if err := c.do(ctx, http.MethodPost, escalationPath(id, "/insight"), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Token mints a LiveKit join token. userID is optional.
func (c *Client) Token(ctx context.Context, room, participant, userID string) (*Token, error) {
	in := struct {
		RoomName        string `json:"room_name"`
		ParticipantName string `json:"participant_name"`
		UserID          string `json:"user_id,omitempty"`
	}{room, participant, userID}
	var out Token
	if err := c.do(ctx, http.MethodPost, "/api/livekit-token", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Instructions fetches the composed agent prompt.
func (c *Client) Instructions(ctx context.Context) (*Instructions, error) {
	var out Instructions
	if err := c.do(ctx, http.MethodGet, "/api/agent/instructions", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IsConflict reports whether err is a lost resolution race and returns the
// winning record if the server sent it.
func IsConflict(err error) (*escalation.Escalation, bool) {
	var already *escalation.AlreadyResolvedError
	if errors.As(err, &already) {
		return already.Current, true
	}
	return nil, errors.Is(err, escalation.ErrAlreadyResolved)
}
