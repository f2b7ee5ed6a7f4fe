/*
approval.go - Overtime approval requests and the E/OU decision policies

PURPOSE:
  A day that plans work outside the standard window, past the daily hour
  limit, or on a Sunday must be approved before it counts. One Request is
  opened per (order, group, day) and approvers vote on it.

POLICIES:
  Every approver is registered with a policy. The policy of a request is
  derived from the active approvers when it is decided:

    E  (all must approve)  one rejection rejects, all approvals approve
    OU (any may approve)   one approval approves, all rejections reject

  If any active approver carries E the request is evaluated under E.

LIFECYCLE:
  pending -> approved | rejected. Both outcomes are terminal; deciding a
  resolved request returns ErrApprovalResolved.

SEE ALSO:
  - workflow.go: opens requests and applies outcomes
  - planning/schedule.go: ApprovalNeeded, the trigger rules
*/
package approval

import (
	"context"
	"errors"
	"time"

	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/planning"
)

var (
	ErrApprovalResolved = errors.New("approval request already resolved")
	ErrNotApprover      = errors.New("user is not an active approver")
	ErrAlreadyDecided   = errors.New("approver already decided this request")
	ErrRequestNotFound  = errors.New("approval request not found")
	ErrApproverNotFound = errors.New("approver not found")
	ErrInvalidPolicy    = errors.New("invalid approval policy")
	ErrInvalidApprover  = errors.New("invalid approver")
)

// Policy is the voting rule of an approver.
type Policy string

const (
	PolicyAll Policy = "E"
	PolicyAny Policy = "OU"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyAll, PolicyAny:
		return Policy(s), nil
	}
	return "", ErrInvalidPolicy
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Approver is a user allowed to vote on overtime.
type Approver struct {
	UserID string
	Name   string
	Policy Policy
	Active bool
}

// Decision is one approver's vote.
type Decision struct {
	UserID  string
	Approve bool
	Comment string
	At      time.Time
}

// Request is the approval of one planned day.
type Request struct {
	ID            string
	OrderID       planning.OrderID
	GroupID       planning.GroupID
	Date          calendar.Date
	Reason        planning.TriggerReason
	WorkedMinutes int
	RequestedBy   string
	Status        Status
	CreatedAt     time.Time
	ResolvedAt    *time.Time
	Decisions     []Decision
}

func (r *Request) IsResolved() bool {
	return r.Status == StatusApproved || r.Status == StatusRejected
}

// DecisionBy returns the vote of userID, or nil.
func (r *Request) DecisionBy(userID string) *Decision {
	for i := range r.Decisions {
		if r.Decisions[i].UserID == userID {
			return &r.Decisions[i]
		}
	}
	return nil
}

// Store persists approvers and requests.
type Store interface {
	SaveApprover(ctx context.Context, a Approver) error
	GetApprover(ctx context.Context, userID string) (*Approver, error)
	ListApprovers(ctx context.Context) ([]Approver, error)

	CreateRequest(ctx context.Context, r Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	// FindPending returns the pending request of a day, or nil.
	FindPending(ctx context.Context, orderID planning.OrderID, groupID planning.GroupID, date calendar.Date) (*Request, error)
	ListPending(ctx context.Context) ([]Request, error)
	// UpdateRequest writes status and resolution time of a pending request
	// and adds decisions not stored yet. A resolved request returns
	// ErrApprovalResolved.
	UpdateRequest(ctx context.Context, r Request) error

	planning.ApprovalBacklog
}

// =============================================================================
// POLICY EVALUATION
// =============================================================================

// EffectivePolicy is E when any active approver carries E, otherwise OU.
func EffectivePolicy(approvers []Approver) Policy {
	for _, a := range approvers {
		if a.Active && a.Policy == PolicyAll {
			return PolicyAll
		}
	}
	return PolicyAny
}

// Evaluate returns the status the decisions lead to. Votes from users who
// are not active approvers are ignored. With no active approvers the
// request stays pending.
func Evaluate(approvers []Approver, decisions []Decision) Status {
	active := make(map[string]bool, len(approvers))
	for _, a := range approvers {
		if a.Active {
			active[a.UserID] = true
		}
	}
	if len(active) == 0 {
		return StatusPending
	}

	approvals, rejections := 0, 0
	for _, d := range decisions {
		if !active[d.UserID] {
			continue
		}
		if d.Approve {
			approvals++
		} else {
			rejections++
		}
	}

	switch EffectivePolicy(approvers) {
	case PolicyAll:
		if rejections > 0 {
			return StatusRejected
		}
		if approvals == len(active) {
			return StatusApproved
		}
	default:
		if approvals > 0 {
			return StatusApproved
		}
		if rejections == len(active) {
			return StatusRejected
		}
	}
	return StatusPending
}
