package domain

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/atelier.space/internal/platform/errors"
	"github.com/louisbranch/atelier.space/internal/platform/id"
)

var (
	// ErrEmptyTitle indicates a missing collaboration title.
	ErrEmptyTitle = apperrors.New(apperrors.CodeCollabTitleEmpty, "collaboration title is required")
	// ErrEmptyCreatorID indicates a missing creator user ID.
	ErrEmptyCreatorID = apperrors.New(apperrors.CodeCollabCreatorRequired, "creator user id is required")
)

// Status represents the lifecycle status of a collaboration.
type Status int

const (
	// StatusUnspecified represents an invalid collaboration status.
	StatusUnspecified Status = iota
	// StatusDraft indicates a collaboration not yet visible to applicants.
	StatusDraft
	// StatusOpen indicates a published collaboration accepting applications.
	StatusOpen
	// StatusInProgress indicates at least one slot has been filled.
	StatusInProgress
	// StatusCompleted indicates the creator closed the collaboration as done.
	StatusCompleted
	// StatusCancelled indicates the creator cancelled the collaboration.
	StatusCancelled
)

// Collaboration represents metadata for a creative project seeking collaborators.
type Collaboration struct {
	ID          string
	CreatorID   string
	Title       string
	Description string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateCollaborationInput describes the metadata needed to create a collaboration.
type CreateCollaborationInput struct {
	CreatorID   string
	Title       string
	Description string
}

// CreateCollaboration creates a new draft collaboration with a generated ID and timestamps.
func CreateCollaboration(input CreateCollaborationInput, now func() time.Time, idGenerator func() (string, error)) (Collaboration, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateCollaborationInput(input)
	if err != nil {
		return Collaboration{}, err
	}

	collaborationID, err := idGenerator()
	if err != nil {
		return Collaboration{}, fmt.Errorf("generate collaboration id: %w", err)
	}

	createdAt := now().UTC()
	return Collaboration{
		ID:          collaborationID,
		CreatorID:   normalized.CreatorID,
		Title:       normalized.Title,
		Description: normalized.Description,
		Status:      StatusDraft,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}, nil
}

// NormalizeCreateCollaborationInput trims and validates collaboration input metadata.
func NormalizeCreateCollaborationInput(input CreateCollaborationInput) (CreateCollaborationInput, error) {
	input.CreatorID = strings.TrimSpace(input.CreatorID)
	if input.CreatorID == "" {
		return CreateCollaborationInput{}, ErrEmptyCreatorID
	}
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return CreateCollaborationInput{}, ErrEmptyTitle
	}
	input.Description = strings.TrimSpace(input.Description)
	return input, nil
}

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionStatus reports whether a collaboration may move between statuses.
//
// Draft collaborations are published to Open; Open moves to InProgress when
// the first slot fills; InProgress may complete. Any non-terminal status may
// be cancelled. Completed and Cancelled are terminal.
func CanTransitionStatus(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	switch to {
	case StatusOpen:
		return from == StatusDraft
	case StatusInProgress:
		return from == StatusOpen
	case StatusCompleted:
		return from == StatusInProgress
	case StatusCancelled:
		return from == StatusDraft || from == StatusOpen || from == StatusInProgress
	default:
		return false
	}
}

// StatusLabel returns the string label for a collaboration status.
func StatusLabel(status Status) string {
	switch status {
	case StatusDraft:
		return "DRAFT"
	case StatusOpen:
		return "OPEN"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusCompleted:
		return "COMPLETED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNSPECIFIED"
	}
}

// StatusFromLabel converts a status label to a Status value.
func StatusFromLabel(label string) Status {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "DRAFT":
		return StatusDraft
	case "OPEN":
		return StatusOpen
	case "IN_PROGRESS":
		return StatusInProgress
	case "COMPLETED":
		return StatusCompleted
	case "CANCELLED":
		return StatusCancelled
	default:
		return StatusUnspecified
	}
}
