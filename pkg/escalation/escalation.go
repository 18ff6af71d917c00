// Package escalation defines the escalation record handed from an autonomous
// agent to a human operator, the lifecycle events emitted for it, and the
// [Store] abstraction that owns escalation state.
//
// An escalation moves through exactly one transition:
//
//	pending --respond--> resolved
//
// There is no cancellation and no reverse transition. A record is never
// deleted for the lifetime of the owning store.
package escalation

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Urgency ranks how quickly an operator should look at an escalation.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Urgencies lists all recognised urgency levels from least to most urgent.
var Urgencies = []Urgency{UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical}

// IsValid reports whether u is a recognised urgency level.
func (u Urgency) IsValid() bool {
	return slices.Contains(Urgencies, u)
}

// ParseUrgency converts s to an [Urgency]. Matching is case-insensitive and
// surrounding whitespace is ignored. An empty string yields [UrgencyMedium].
func ParseUrgency(s string) (Urgency, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return UrgencyMedium, nil
	}
	u := Urgency(s)
	if !u.IsValid() {
		return "", fmt.Errorf("escalation: invalid urgency %q; valid values: low, medium, high, critical", s)
	}
	return u, nil
}

// Status is the lifecycle state of an escalation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

// TranscriptLine is a single utterance captured from the conversation that
// triggered an escalation.
type TranscriptLine struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	Time    time.Time `json:"time"`
}

// Escalation is a decision deferred from the agent to a human operator.
//
// ID, SessionRef, RequesterRef, Reason, Urgency, DecisionType, ContextDetails
// and Transcript are fixed at creation. Response and ResolvedAt are set
// exactly once, when Status moves to [StatusResolved]. Insight may be set or
// replaced at any time regardless of Status.
type Escalation struct {
	ID             string           `json:"id"`
	SessionRef     string           `json:"session_ref"`
	RequesterRef   string           `json:"requester_ref"`
	Reason         string           `json:"reason"`
	Urgency        Urgency          `json:"urgency"`
	DecisionType   string           `json:"decision_type"`
	ContextDetails string           `json:"context_details,omitempty"`
	Transcript     []TranscriptLine `json:"transcript,omitempty"`
	Status         Status           `json:"status"`
	Response       string           `json:"response,omitempty"`
	Insight        string           `json:"insight,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	ResolvedAt     *time.Time       `json:"resolved_at,omitempty"`
}

// IsPending reports whether the escalation is still awaiting an operator.
func (e *Escalation) IsPending() bool {
	return e.Status == StatusPending
}

// Clone returns a deep copy of e. Stores hand out clones so that callers can
// never mutate canonical state.
func (e *Escalation) Clone() *Escalation {
	if e == nil {
		return nil
	}
	c := *e
	if e.Transcript != nil {
		c.Transcript = slices.Clone(e.Transcript)
	}
	if e.ResolvedAt != nil {
		t := *e.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// Request carries the caller-supplied fields for a new escalation. The
// orchestrator assigns ID, Status and CreatedAt.
type Request struct {
	SessionRef     string
	RequesterRef   string
	Reason         string
	Urgency        Urgency
	DecisionType   string
	ContextDetails string
	Transcript     []TranscriptLine
}

// NewPending builds a pending record from req. The transcript is copied so
// later changes to req do not leak into the stored snapshot.
func NewPending(id string, req Request, now time.Time) *Escalation {
	urgency := req.Urgency
	if urgency == "" {
		urgency = UrgencyMedium
	}
	return &Escalation{
		ID:             id,
		SessionRef:     req.SessionRef,
		RequesterRef:   req.RequesterRef,
		Reason:         req.Reason,
		Urgency:        urgency,
		DecisionType:   req.DecisionType,
		ContextDetails: req.ContextDetails,
		Transcript:     slices.Clone(req.Transcript),
		Status:         StatusPending,
		CreatedAt:      now,
	}
}

// SortFIFO orders escalations by CreatedAt ascending, breaking ties by ID.
func SortFIFO(list []*Escalation) {
	slices.SortStableFunc(list, func(a, b *Escalation) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
