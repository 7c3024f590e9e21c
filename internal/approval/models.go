package approval

import (
	"time"

	"agentpass/pkg/domain"
	dErrors "agentpass/pkg/domain-errors"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// ParseStatus accepts the three lifecycle values.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusDenied:
		return Status(s), nil
	}
	return "", dErrors.New(dErrors.CodeBadRequest, "invalid status filter")
}

// Approval is a request from an agent for its owner's consent.
// OwnerEmail is the passport owner at creation time.
type Approval struct {
	ID          domain.ApprovalID `json:"id"`
	PassportID  string            `json:"passport_id"`
	OwnerEmail  string            `json:"owner_email"`
	Action      string            `json:"action"`
	Service     string            `json:"service"`
	Details     string            `json:"details"`
	Status      Status            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	RespondedAt *time.Time        `json:"responded_at"`
}

// CanRespond returns an invariant violation once the approval is resolved.
func (a *Approval) CanRespond() error {
	if a.Status != StatusPending {
		return dErrors.New(dErrors.CodeInvariantViolation, "approval is not pending")
	}
	return nil
}

// ApplyResponse resolves the approval.
func (a *Approval) ApplyResponse(approved bool, at time.Time) {
	a.Status = StatusDenied
	if approved {
		a.Status = StatusApproved
	}
	a.RespondedAt = &at
}

// CreateInput is what an agent submits for approval.
type CreateInput struct {
	PassportID string
	Action     string
	Service    string
	Details    string
}

// Created is returned to the requesting agent.
type Created struct {
	ID        domain.ApprovalID `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
}
