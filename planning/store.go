/*
store.go - Persistence interface for distributions and master data

PURPOSE:
  Defines the boundary between the engine and the database. The engine
  never talks to SQL; the Service reads through Store, computes in memory,
  and writes one Commit.

OPTIMISTIC CONCURRENCY:
  Every production group has a version counter. A writer reads the version
  BEFORE loading commitments, and Save succeeds only when the version is
  still the one read:

    v := GroupVersion(g)
    ... load, compute ...
    Save(Commit{Versions: {g: v}})  -> ErrConcurrentModification if v moved

  Save bumps the version of every group in the commit, so two orders can
  never both believe the same (group, day) slot is free.

  Writes that allocate new quantity (Distribute, ScheduleDay) also carry
  the order's version, so two groups cannot both spend the same remaining
  quantity of one order.

UPSERT:
  Save replaces the stored slots of each distribution in the commit with
  the in-memory ones. Slots keep their ids, so a slot for an existing
  (date, span) is updated rather than duplicated.

IMPLEMENTATIONS:
  - planning/store/memory.go: in-memory, for tests
  - store/sqlite/sqlite.go:   default backend
  - store/mysql/mysql.go:     alternate backend

SEE ALSO:
  - service.go: the only caller that writes
*/
package planning

import (
	"context"
	"time"

	"github.com/warp/pcp-engine/calendar"
)

// =============================================================================
// STORE - Interface for distribution persistence
// =============================================================================

// Store is the persistence interface used by the Service.
type Store interface {
	GetOrder(ctx context.Context, id OrderID) (*ProductionOrder, error)
	GetGroup(ctx context.Context, id GroupID) (*ProductionGroup, error)
	GetModel(ctx context.Context, id ModelID) (*PieceModel, error)

	// GroupVersion returns the optimistic-lock version of a group (0 if never written).
	GroupVersion(ctx context.Context, id GroupID) (int64, error)

	// OrderVersion returns the optimistic-lock version of an order's
	// allocation across all groups (0 if never written).
	OrderVersion(ctx context.Context, id OrderID) (int64, error)

	// LoadDistribution returns the distribution of an order on a group.
	// It never returns nil: an order without slots gets an empty distribution.
	LoadDistribution(ctx context.Context, orderID OrderID, groupID GroupID) (*Distribution, error)

	// LoadCommitments returns slots held on the group in [from, to],
	// excluding those of the given order (pass "" to include all).
	LoadCommitments(ctx context.Context, groupID GroupID, from, to calendar.Date, exclude OrderID) ([]Commitment, error)

	// OrderTotals returns the order's allocated (see Distribution.Allocated)
	// and actual sums across all groups.
	OrderTotals(ctx context.Context, orderID OrderID) (allocated, actual int, err error)

	// GroupPlanned returns the group's planned sum across all orders.
	GroupPlanned(ctx context.Context, groupID GroupID) (int, error)

	// Save writes a commit atomically.
	Save(ctx context.Context, c Commit) error
}

// MasterDataStore creates and lists the records the engine reads.
type MasterDataStore interface {
	SaveModel(ctx context.Context, m PieceModel) error
	SaveGroup(ctx context.Context, g ProductionGroup) error
	SaveOrder(ctx context.Context, o ProductionOrder) error
	ListModels(ctx context.Context) ([]PieceModel, error)
	ListGroups(ctx context.Context) ([]ProductionGroup, error)
	ListOrders(ctx context.Context) ([]ProductionOrder, error)
}

// ApprovalBacklog lists days marked pending approval that have no open
// approval request, so a lost trigger can be raised again.
type ApprovalBacklog interface {
	PendingApprovalDays(ctx context.Context) ([]ApprovalTrigger, error)
}

// AuditLog lists audit entries. Entries are written through Commit.
type AuditLog interface {
	ListAudit(ctx context.Context, orderID OrderID) ([]AuditEntry, error)
}

// Commit is one atomic write.
type Commit struct {
	Distributions []*Distribution
	// Versions holds the expected version of every group in the commit.
	Versions map[GroupID]int64
	// OrderVersions holds the expected version of every order whose
	// remaining quantity the commit was computed from.
	OrderVersions map[OrderID]int64
	Audit    []AuditEntry
}

// =============================================================================
// AUDIT LOG - Who did what when
// =============================================================================

type AuditAction string

const (
	AuditDistribute     AuditAction = "distribute"
	AuditCancel         AuditAction = "cancel"
	AuditReconcile      AuditAction = "reconcile"
	AuditReplicate      AuditAction = "replicate"
	AuditScheduleDay    AuditAction = "schedule_day"
	AuditRelocate       AuditAction = "relocate"
	AuditClose          AuditAction = "close"
	AuditApprovalResult AuditAction = "approval_result"
)

// AuditEntry records a mutation of a distribution.
type AuditEntry struct {
	ID      string
	At      time.Time
	Actor   string
	Action  AuditAction
	OrderID OrderID
	GroupID GroupID
	Payload map[string]any
}
