package domain

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/atelier.space/internal/platform/errors"
	"github.com/louisbranch/atelier.space/internal/platform/id"
)

var (
	// ErrEmptyRequirementID indicates a missing requirement ID.
	ErrEmptyRequirementID = apperrors.New(apperrors.CodeApplicationEmptyRequirementID, "requirement id is required")
	// ErrEmptyApplicantID indicates a missing applicant user ID.
	ErrEmptyApplicantID = apperrors.New(apperrors.CodeApplicationEmptyApplicantID, "applicant user id is required")
)

// ApplicationStatus represents the lifecycle status of an application.
type ApplicationStatus int

const (
	// ApplicationStatusUnspecified represents an invalid application status.
	ApplicationStatusUnspecified ApplicationStatus = iota
	// ApplicationStatusPending indicates an application awaiting creator review.
	ApplicationStatusPending
	// ApplicationStatusAccepted indicates an application that holds one slot.
	ApplicationStatusAccepted
	// ApplicationStatusRejected indicates an application declined by the creator.
	ApplicationStatusRejected
	// ApplicationStatusWithdrawn indicates an application retracted by the
	// applicant or revoked by the creator.
	ApplicationStatusWithdrawn
)

// Action represents an operation attempted on an existing application.
type Action int

const (
	// ActionUnspecified represents an invalid action.
	ActionUnspecified Action = iota
	// ActionAccept is a creator review decision that claims one slot.
	ActionAccept
	// ActionReject is a creator review decision that claims no slot.
	ActionReject
	// ActionWithdraw retracts an application, releasing its slot if accepted.
	ActionWithdraw
)

// Application represents one user's application to a requirement slot.
type Application struct {
	ID              string
	RequirementID   string
	CollaborationID string
	ApplicantID     string
	Message         string
	Status          ApplicationStatus
	SubmittedAt     time.Time
	DecidedAt       *time.Time
	UpdatedAt       time.Time
}

// CreateApplicationInput describes the metadata needed to submit an application.
type CreateApplicationInput struct {
	RequirementID   string
	CollaborationID string
	ApplicantID     string
	Message         string
}

// CreateApplication creates a new pending application with a generated ID and timestamps.
func CreateApplication(input CreateApplicationInput, now func() time.Time, idGenerator func() (string, error)) (Application, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateApplicationInput(input)
	if err != nil {
		return Application{}, err
	}

	applicationID, err := idGenerator()
	if err != nil {
		return Application{}, fmt.Errorf("generate application id: %w", err)
	}

	submittedAt := now().UTC()
	return Application{
		ID:              applicationID,
		RequirementID:   normalized.RequirementID,
		CollaborationID: normalized.CollaborationID,
		ApplicantID:     normalized.ApplicantID,
		Message:         normalized.Message,
		Status:          ApplicationStatusPending,
		SubmittedAt:     submittedAt,
		UpdatedAt:       submittedAt,
	}, nil
}

// NormalizeCreateApplicationInput trims and validates application input metadata.
func NormalizeCreateApplicationInput(input CreateApplicationInput) (CreateApplicationInput, error) {
	input.RequirementID = strings.TrimSpace(input.RequirementID)
	if input.RequirementID == "" {
		return CreateApplicationInput{}, ErrEmptyRequirementID
	}
	input.ApplicantID = strings.TrimSpace(input.ApplicantID)
	if input.ApplicantID == "" {
		return CreateApplicationInput{}, ErrEmptyApplicantID
	}
	input.CollaborationID = strings.TrimSpace(input.CollaborationID)
	input.Message = strings.TrimSpace(input.Message)
	return input, nil
}

// IsTerminal reports whether the status permits no further actions other
// than withdrawing an accepted application.
func (s ApplicationStatus) IsTerminal() bool {
	return s == ApplicationStatusRejected || s == ApplicationStatusWithdrawn
}

// CanTransition reports whether an action is legal for an application in the
// given status. Pending applications may be accepted, rejected, or withdrawn.
// Accepted applications may only be withdrawn (by the applicant, or by the
// creator as a revoke). Rejected and Withdrawn are terminal.
func CanTransition(status ApplicationStatus, action Action) bool {
	switch status {
	case ApplicationStatusPending:
		return action == ActionAccept || action == ActionReject || action == ActionWithdraw
	case ApplicationStatusAccepted:
		return action == ActionWithdraw
	default:
		return false
	}
}

// NextStatus returns the status an action moves an application to.
func NextStatus(action Action) ApplicationStatus {
	switch action {
	case ActionAccept:
		return ApplicationStatusAccepted
	case ActionReject:
		return ApplicationStatusRejected
	case ActionWithdraw:
		return ApplicationStatusWithdrawn
	default:
		return ApplicationStatusUnspecified
	}
}

// ApplicationStatusLabel returns the string label for an application status.
func ApplicationStatusLabel(status ApplicationStatus) string {
	switch status {
	case ApplicationStatusPending:
		return "PENDING"
	case ApplicationStatusAccepted:
		return "ACCEPTED"
	case ApplicationStatusRejected:
		return "REJECTED"
	case ApplicationStatusWithdrawn:
		return "WITHDRAWN"
	default:
		return "UNSPECIFIED"
	}
}

// ApplicationStatusFromLabel converts a status label to an ApplicationStatus value.
func ApplicationStatusFromLabel(label string) ApplicationStatus {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "PENDING":
		return ApplicationStatusPending
	case "ACCEPTED":
		return ApplicationStatusAccepted
	case "REJECTED":
		return ApplicationStatusRejected
	case "WITHDRAWN":
		return ApplicationStatusWithdrawn
	default:
		return ApplicationStatusUnspecified
	}
}

// ActionLabel returns the string label for an application action.
func ActionLabel(action Action) string {
	switch action {
	case ActionAccept:
		return "ACCEPT"
	case ActionReject:
		return "REJECT"
	case ActionWithdraw:
		return "WITHDRAW"
	default:
		return "UNSPECIFIED"
	}
}
