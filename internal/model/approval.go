package model

import "time"

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// TaskApproval is one outstanding completion request made by a restricted
// actor. It is terminal in approved/rejected and leaves the active set once
// resolved; the history log keeps the record.
type TaskApproval struct {
	ID            string         `json:"id"`
	TaskID        TaskID         `json:"taskId"`
	RequesterID   string         `json:"requesterId"`
	RequesterName string         `json:"requesterName"`
	Status        ApprovalStatus `json:"status"`
	RequestedAt   time.Time      `json:"requestedAt"`
	ResolverID    *string        `json:"resolverId,omitempty"`
	ResolvedAt    *time.Time     `json:"resolvedAt,omitempty"`
	Comment       *string        `json:"comment,omitempty"`
	FamilyID      *string        `json:"familyId,omitempty"`
}

func (a TaskApproval) Resolved() bool {
	return a.Status == ApprovalApproved || a.Status == ApprovalRejected
}
