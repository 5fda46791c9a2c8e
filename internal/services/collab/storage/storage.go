// Package storage defines persistence contracts for collaboration admission state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/atelier.space/internal/services/collab/domain"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a write conflicts with a uniqueness constraint.
	ErrConflict = errors.New("record conflict")
	// ErrStaleWrite indicates a conditional write observed a different stored state.
	ErrStaleWrite = errors.New("stale write")
	// ErrNoFilledSlots indicates a release against a requirement with no
	// filled slots. Unreachable given caller discipline; surfaced defensively.
	ErrNoFilledSlots = errors.New("no filled slots to release")
)

// CollaborationPage stores one page of collaboration records.
type CollaborationPage struct {
	Collaborations []domain.Collaboration
	NextPageToken  string
}

// ApplicationPage stores one page of application records.
type ApplicationPage struct {
	Applications  []domain.Application
	NextPageToken string
}

// SlotClaim records one reserved requirement slot awaiting an accepted
// application. The token identifies the reservation; claims whose
// application never reached Accepted are released by the recovery sweep.
type SlotClaim struct {
	Token         string
	RequirementID string
	ApplicationID string
	CreatedAt     time.Time
}

// IdempotencyRecord stores the outcome of one mutating request so retries
// replay the original result instead of re-applying side effects. Exactly one
// of ApplicationID and CollaborationID is set, matching the operation kind.
type IdempotencyRecord struct {
	RequestID       string
	Operation       string
	ApplicationID   string
	CollaborationID string
	OutcomeCode     string
	CreatedAt       time.Time
}

// CollaborationStore persists collaboration metadata records.
type CollaborationStore interface {
	PutCollaboration(ctx context.Context, collaboration domain.Collaboration) error
	GetCollaboration(ctx context.Context, id string) (domain.Collaboration, error)
	// UpdateCollaborationStatus conditionally moves a collaboration between
	// statuses. Returns ErrStaleWrite when the stored status is not `from`.
	UpdateCollaborationStatus(ctx context.Context, id string, from, to domain.Status, updatedAt time.Time) error
	ListCollaborationsByCreator(ctx context.Context, creatorID string, pageSize int, pageToken string) (CollaborationPage, error)
}

// RequirementStore persists requirement slot-group records.
//
// quantity_filled is never written through this interface; only the
// LedgerStore claim/release pair mutates it.
type RequirementStore interface {
	PutRequirement(ctx context.Context, requirement domain.Requirement) error
	GetRequirement(ctx context.Context, id string) (domain.Requirement, error)
	// ListRequirements returns all requirements for a collaboration in
	// creation order (display order).
	ListRequirements(ctx context.Context, collaborationID string) ([]domain.Requirement, error)
	// DeleteRequirement removes a requirement. Returns ErrConflict when the
	// requirement has filled slots or pending applications.
	DeleteRequirement(ctx context.Context, id string) error
}

// LedgerStore is the sole mutation path for requirement slot counts.
type LedgerStore interface {
	// ClaimSlot atomically increments quantity_filled when capacity remains
	// and records the claim, in one transaction. Returns false with no
	// mutation when the requirement is full.
	ClaimSlot(ctx context.Context, claim SlotClaim) (bool, error)
	// ReleaseSlot removes the claim held for an application and decrements
	// quantity_filled, in one transaction. Returns ErrNotFound when no claim
	// exists for the application.
	ReleaseSlot(ctx context.Context, requirementID, applicationID string, releasedAt time.Time) error
	// ListOrphanedClaims returns claims created before the cutoff whose
	// application is not Accepted (crash between claim and status commit).
	ListOrphanedClaims(ctx context.Context, cutoff time.Time) ([]SlotClaim, error)
}

// ApplicationStore persists application records. Application status is
// written only through the conditional UpdateApplicationStatus path.
type ApplicationStore interface {
	// PutApplication inserts a new application. Returns ErrConflict when the
	// applicant already holds a Pending or Accepted application for the
	// requirement.
	PutApplication(ctx context.Context, application domain.Application) error
	GetApplication(ctx context.Context, id string) (domain.Application, error)
	// GetActiveApplication returns the Pending or Accepted application an
	// applicant holds for a requirement, if any.
	GetActiveApplication(ctx context.Context, requirementID, applicantID string) (domain.Application, error)
	// UpdateApplicationStatus conditionally moves an application between
	// statuses. Returns ErrStaleWrite when the stored status is not `from`.
	UpdateApplicationStatus(ctx context.Context, id string, from, to domain.ApplicationStatus, decidedAt *time.Time, updatedAt time.Time) error
	ListApplicationsByRequirement(ctx context.Context, requirementID string, pageSize int, pageToken string) (ApplicationPage, error)
	// ListApplicationsByCollaboration returns all applications for a
	// collaboration in the given statuses (used by the cancellation sweep).
	ListApplicationsByCollaboration(ctx context.Context, collaborationID string, statuses []domain.ApplicationStatus) ([]domain.Application, error)
}

// IdempotencyStore persists request outcomes for mutation replay.
type IdempotencyStore interface {
	GetIdempotencyRecord(ctx context.Context, requestID string) (IdempotencyRecord, error)
	// PutIdempotencyRecord inserts a record. Returns ErrConflict when the
	// request id was already recorded.
	PutIdempotencyRecord(ctx context.Context, record IdempotencyRecord) error
}
