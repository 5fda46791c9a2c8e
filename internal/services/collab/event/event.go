// Package event defines the immutable facts emitted by the admission write
// path. Events record decisions that already happened; emitting one never
// gates or rolls back the write that produced it.
package event

import (
	"strings"
	"time"

	"go.einride.tech/aip/resourcename"
)

// Type identifies the type of an admission event.
type Type string

// Collaboration lifecycle events.
const (
	// TypeCollaborationCreated records the creation of a collaboration.
	TypeCollaborationCreated Type = "collaboration.created"
	// TypeCollaborationPublished records a Draft collaboration opening for applications.
	TypeCollaborationPublished Type = "collaboration.published"
	// TypeCollaborationStatusChanged records any collaboration status transition.
	TypeCollaborationStatusChanged Type = "collaboration.status_changed"
	// TypeCollaborationCompleted records a collaboration finishing its work.
	TypeCollaborationCompleted Type = "collaboration.completed"
	// TypeCollaborationCancelled records a collaboration being cancelled.
	TypeCollaborationCancelled Type = "collaboration.cancelled"
)

// Requirement events.
const (
	// TypeRequirementAdded records a requirement added to a collaboration.
	TypeRequirementAdded Type = "requirement.added"
	// TypeRequirementRemoved records a requirement removed from a collaboration.
	TypeRequirementRemoved Type = "requirement.removed"
	// TypeRequirementFilled records a requirement reaching its needed quantity.
	TypeRequirementFilled Type = "requirement.filled"
	// TypeRequirementReopened records a filled requirement regaining an open slot.
	TypeRequirementReopened Type = "requirement.reopened"
)

// Application events.
const (
	// TypeApplicationSubmitted records an applicant applying to a requirement.
	TypeApplicationSubmitted Type = "application.submitted"
	// TypeApplicationAccepted records a creator accepting an application.
	TypeApplicationAccepted Type = "application.accepted"
	// TypeApplicationRejected records a creator rejecting an application.
	TypeApplicationRejected Type = "application.rejected"
	// TypeApplicationWithdrawn records an application being withdrawn.
	TypeApplicationWithdrawn Type = "application.withdrawn"
)

// ActorType identifies who or what triggered an event.
type ActorType string

const (
	// ActorTypeSystem indicates the event was triggered by the system
	// (recovery sweep, cancellation cascade).
	ActorTypeSystem ActorType = "system"
	// ActorTypeCreator indicates the event was triggered by the collaboration creator.
	ActorTypeCreator ActorType = "creator"
	// ActorTypeApplicant indicates the event was triggered by an applicant.
	ActorTypeApplicant ActorType = "applicant"
)

// Event represents one immutable fact about a collaboration.
type Event struct {
	// Type identifies the kind of event.
	Type Type
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// CollaborationID is the collaboration this event belongs to.
	CollaborationID string
	// RequestID correlates the event with the mutating request that produced it.
	RequestID string
	// ActorType identifies who triggered the event.
	ActorType ActorType
	// ActorID is the user ID behind the actor, empty for system events.
	ActorID string
	// EntityName is the resource name of the affected entity.
	EntityName string
	// PayloadJSON holds event-specific data as JSON.
	PayloadJSON []byte
}

// IsValid reports whether the event type is usable.
func (t Type) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// Domain returns the domain prefix of the event type (e.g., "collaboration",
// "application").
func (t Type) Domain() string {
	for i, c := range t {
		if c == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}

// CollaborationName formats the resource name for a collaboration.
func CollaborationName(collaborationID string) string {
	return resourcename.Sprint("collaborations/{collaboration}", collaborationID)
}

// RequirementName formats the resource name for a requirement within a
// collaboration.
func RequirementName(collaborationID, requirementID string) string {
	return resourcename.Sprint(
		"collaborations/{collaboration}/requirements/{requirement}",
		collaborationID,
		requirementID,
	)
}

// ApplicationName formats the resource name for an application within a
// requirement.
func ApplicationName(collaborationID, requirementID, applicationID string) string {
	return resourcename.Sprint(
		"collaborations/{collaboration}/requirements/{requirement}/applications/{application}",
		collaborationID,
		requirementID,
		applicationID,
	)
}

// ParseRequirementName extracts the collaboration and requirement IDs from a
// requirement resource name.
func ParseRequirementName(name string) (collaborationID, requirementID string, err error) {
	err = resourcename.Sscan(
		name,
		"collaborations/{collaboration}/requirements/{requirement}",
		&collaborationID,
		&requirementID,
	)
	return collaborationID, requirementID, err
}
