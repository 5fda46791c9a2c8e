package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/louisbranch/atelier.space/internal/platform/errors"
	"github.com/louisbranch/atelier.space/internal/platform/id"
)

var (
	// ErrEmptyRole indicates a missing requirement role name.
	ErrEmptyRole = apperrors.New(apperrors.CodeRequirementRoleEmpty, "requirement role is required")
	// ErrEmptyCollaborationID indicates a missing collaboration ID.
	ErrEmptyCollaborationID = apperrors.New(apperrors.CodeRequirementEmptyCollabID, "collaboration id is required")
)

// Requirement represents one role slot group within a collaboration.
type Requirement struct {
	ID              string
	CollaborationID string
	Role            string
	QuantityNeeded  int
	QuantityFilled  int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreateRequirementInput describes the metadata needed to create a requirement.
type CreateRequirementInput struct {
	CollaborationID string
	Role            string
	QuantityNeeded  int
}

// CreateRequirement creates a new requirement with a generated ID and timestamps.
func CreateRequirement(input CreateRequirementInput, now func() time.Time, idGenerator func() (string, error)) (Requirement, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateRequirementInput(input)
	if err != nil {
		return Requirement{}, err
	}

	requirementID, err := idGenerator()
	if err != nil {
		return Requirement{}, fmt.Errorf("generate requirement id: %w", err)
	}

	createdAt := now().UTC()
	return Requirement{
		ID:              requirementID,
		CollaborationID: normalized.CollaborationID,
		Role:            normalized.Role,
		QuantityNeeded:  normalized.QuantityNeeded,
		QuantityFilled:  0,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}, nil
}

// NormalizeCreateRequirementInput trims and validates requirement input metadata.
func NormalizeCreateRequirementInput(input CreateRequirementInput) (CreateRequirementInput, error) {
	input.CollaborationID = strings.TrimSpace(input.CollaborationID)
	if input.CollaborationID == "" {
		return CreateRequirementInput{}, ErrEmptyCollaborationID
	}
	input.Role = strings.TrimSpace(input.Role)
	if input.Role == "" {
		return CreateRequirementInput{}, ErrEmptyRole
	}
	if err := ValidateQuantityNeeded(input.QuantityNeeded); err != nil {
		return CreateRequirementInput{}, err
	}
	return input, nil
}

// ValidateQuantityNeeded checks that a requirement asks for at least one slot.
func ValidateQuantityNeeded(quantityNeeded int) error {
	if quantityNeeded <= 0 {
		return apperrors.WithMetadata(
			apperrors.CodeRequirementInvalidQuantity,
			"quantity needed must be greater than zero",
			map[string]string{"QuantityNeeded": strconv.Itoa(quantityNeeded)},
		)
	}
	return nil
}

// IsOpen reports whether the requirement still has unfilled slots given the
// owning collaboration's status. Terminal collaborations never accept
// applications.
func (r Requirement) IsOpen(collaborationStatus Status) bool {
	if collaborationStatus != StatusOpen && collaborationStatus != StatusInProgress {
		return false
	}
	return r.QuantityFilled < r.QuantityNeeded
}
