package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/handoff/internal/observe"
	"github.com/MrWong99/handoff/internal/orchestrator"
	"github.com/MrWong99/handoff/internal/prompt"
	"github.com/MrWong99/handoff/internal/token"
	"github.com/MrWong99/handoff/pkg/escalation"
)

// CreateRequest is the body of POST /api/escalations.
type CreateRequest struct {
	SessionRef     string                      `json:"session_ref"`
	RequesterRef   string                      `json:"requester_ref"`
	Reason         string                      `json:"reason"`
	Urgency        string                      `json:"urgency"`
	DecisionType   string                      `json:"decision_type"`
	ContextDetails string                      `json:"context_details"`
	Transcript     []escalation.TranscriptLine `json:"transcript"`
}

// CreateResponse is the body of a successful create.
type CreateResponse struct {
	ID string `json:"id"`
}

// AwaitResponse is the body of POST /api/escalations/{id}/await.
type AwaitResponse struct {
	Status       orchestrator.OutcomeStatus `json:"status"`
	EscalationID string                     `json:"escalation_id"`
	Response     string                     `json:"response,omitempty"`
	Escalation   *escalation.Escalation     `json:"escalation,omitempty"`

	// Instructions is the rendered authorization prompt when resolved, or
	// the filler prompt when timed out. Empty without a prompt builder.
	Instructions string `json:"instructions,omitempty"`
}

// RespondRequest is the body of POST /api/escalations/{id}/respond.
type RespondRequest struct {
	Response string `json:"response"`
}

// InsightRequest is the body of POST /api/escalations/{id}/insight.
type InsightRequest struct {
	Insight string `json:"insight"`
}

// TokenRequest is the body of POST /api/livekit-token.
type TokenRequest struct {
	RoomName        string `json:"room_name"`
	ParticipantName string `json:"participant_name"`
	UserID          string `json:"user_id,omitempty"`
}

// TokenResponse carries a signed join token and the LiveKit URL.
type TokenResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// InstructionsResponse is the body of GET /api/agent/instructions.
type InstructionsResponse struct {
	Name          string   `json:"name"`
	Instructions  string   `json:"instructions"`
	Greeting      string   `json:"greeting"`
	DecisionTypes []string `json:"decision_types"`
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "handoff API is running",
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeBadRequest(w, "reason is required")
		return
	}
	urgency, err := escalation.ParseUrgency(req.Urgency)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if s.prompts != nil {
		s.prompts.CheckDecisionType(req.DecisionType)
	}

	id, err := s.orch.Create(r.Context(), escalation.Request{
		SessionRef:     req.SessionRef,
		RequesterRef:   req.RequesterRef,
		Reason:         req.Reason,
		Urgency:        urgency,
		DecisionType:   req.DecisionType,
		ContextDetails: req.ContextDetails,
		Transcript:     req.Transcript,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/escalations/"+id)
	writeJSON(w, http.StatusCreated, CreateResponse{ID: id})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.orch.ListPending(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if pending == nil {
		pending = []*escalation.Escalation{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.orch.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// parseTimeout accepts a Go duration ("45s") or a number of seconds ("45").
// An empty value yields def; the result is clamped to max.
func parseTimeout(raw string, def, max time.Duration) (time.Duration, error) {
	if raw == "" {
		return min(def, max), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		secs, convErr := strconv.ParseFloat(raw, 64)
		if convErr != nil {
			return 0, fmt.Errorf("timeout %q is not a duration", raw)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout %q must be positive", raw)
	}
	return min(d, max), nil
}

func (s *Server) handleAwait(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	settings := s.await.Load()
	timeout, err := parseTimeout(r.URL.Query().Get("timeout"), settings.def, settings.max)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	out, err := s.orch.AwaitResponse(r.Context(), id, timeout)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := AwaitResponse{
		Status:       out.Status,
		EscalationID: id,
		Response:     out.Response,
		Escalation:   out.Escalation,
	}
	if s.prompts != nil {
		resp.Instructions = s.renderAwaitInstructions(r, id, out)
	}
	writeJSON(w, http.StatusOK, resp)
}

// renderAwaitInstructions renders the prompt matching the outcome. Render
// failures are logged and yield no instructions; the outcome itself is still
// returned.
func (s *Server) renderAwaitInstructions(r *http.Request, id string, out orchestrator.Outcome) string {
	var (
		text string
		err  error
	)
	switch out.Status {
	case orchestrator.OutcomeResolved:
		text, err = s.prompts.Authorization(prompt.AuthorizationData{Response: out.Response, Escalation: out.Escalation})
	case orchestrator.OutcomeTimedOut:
		rec, getErr := s.orch.Get(r.Context(), id)
		if getErr != nil {
			err = getErr
			break
		}
		text, err = s.prompts.Filler(prompt.NewFillerData(rec, prompt.DefaultRecentLines))
	}
	if err != nil {
		observe.Logger(r.Context()).Warn("failed to render await instructions", "escalation_id", id, "err", err)
		return ""
	}
	return text
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req RespondRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Response) == "" {
		writeBadRequest(w, "response is required")
		return
	}

	rec, err := s.orch.Respond(r.Context(), r.PathValue("id"), req.Response)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleInsight(w http.ResponseWriter, r *http.Request) {
	var req InsightRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	rec, err := s.orch.AttachInsight(r.Context(), r.PathValue("id"), req.Insight)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		s.logger.Error("livekit token requested but credentials are not configured")
		writeJSON(w, http.StatusInternalServerError, ErrorBody{
			Code:    CodeNotConfigured,
			Message: "LiveKit credentials not configured on server",
		})
		return
	}

	var req TokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	signed, err := s.tokens.Issue(token.Request{
		Room:        req.RoomName,
		Participant: req.ParticipantName,
		Metadata:    req.UserID,
	})
	if err != nil {
		if errors.Is(err, token.ErrMissingField) {
			writeBadRequest(w, err.Error())
			return
		}
		writeError(w, r, err)
		return
	}

	observe.Logger(r.Context()).Info("issued livekit token", "room", req.RoomName, "participant", req.ParticipantName)
	writeJSON(w, http.StatusOK, TokenResponse{Token: signed, URL: s.livekitURL})
}

func (s *Server) handleInstructions(w http.ResponseWriter, _ *http.Request) {
	if s.prompts == nil {
		writeJSON(w, http.StatusNotFound, ErrorBody{Code: CodeNotConfigured, Message: "agent prompts are not configured"})
		return
	}
	writeJSON(w, http.StatusOK, InstructionsResponse{
		Name:          s.prompts.Agent().Name,
		Instructions:  s.prompts.Instructions(),
		Greeting:      s.prompts.Greeting(),
		DecisionTypes: s.prompts.DecisionTypes(),
	})
}
