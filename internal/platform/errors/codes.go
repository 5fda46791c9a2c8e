package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Collaboration errors
	CodeCollabTitleEmpty              Code = "COLLAB_TITLE_EMPTY"
	CodeCollabCreatorRequired         Code = "COLLAB_CREATOR_REQUIRED"
	CodeCollabInvalidStatusTransition Code = "COLLAB_INVALID_STATUS_TRANSITION"
	CodeCollabClosed                  Code = "COLLAB_CLOSED"
	CodeCollabNoRequirements          Code = "COLLAB_NO_REQUIREMENTS"
	CodeCollabCallerNotCreator        Code = "COLLAB_CALLER_NOT_CREATOR"

	// Requirement errors
	CodeRequirementRoleEmpty       Code = "REQUIREMENT_ROLE_EMPTY"
	CodeRequirementInvalidQuantity Code = "REQUIREMENT_INVALID_QUANTITY"
	CodeRequirementEmptyCollabID   Code = "REQUIREMENT_EMPTY_COLLABORATION_ID"
	CodeRequirementClosed          Code = "REQUIREMENT_CLOSED"
	CodeRequirementSlotsFull       Code = "REQUIREMENT_SLOTS_FULL"
	CodeRequirementInUse           Code = "REQUIREMENT_IN_USE"
	CodeRequirementNoFilledSlots   Code = "REQUIREMENT_NO_FILLED_SLOTS"

	// Application errors
	CodeApplicationEmptyRequirementID Code = "APPLICATION_EMPTY_REQUIREMENT_ID"
	CodeApplicationEmptyApplicantID   Code = "APPLICATION_EMPTY_APPLICANT_ID"
	CodeApplicationDuplicate          Code = "APPLICATION_DUPLICATE"
	CodeApplicationInvalidTransition  Code = "APPLICATION_INVALID_TRANSITION"
	CodeApplicationCallerNotAllowed   Code = "APPLICATION_CALLER_NOT_ALLOWED"

	// Identity errors
	CodeIdentityGrantInvalid Code = "IDENTITY_GRANT_INVALID"
	CodeIdentityGrantExpired Code = "IDENTITY_GRANT_EXPIRED"

	// Request errors
	CodeRequestIDReused Code = "REQUEST_ID_REUSED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeCollabTitleEmpty,
		CodeCollabCreatorRequired,
		CodeRequirementRoleEmpty,
		CodeRequirementInvalidQuantity,
		CodeRequirementEmptyCollabID,
		CodeApplicationEmptyRequirementID,
		CodeApplicationEmptyApplicantID,
		CodeRequestIDReused:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeCollabInvalidStatusTransition,
		CodeCollabClosed,
		CodeCollabNoRequirements,
		CodeRequirementClosed,
		CodeRequirementSlotsFull,
		CodeRequirementInUse,
		CodeRequirementNoFilledSlots,
		CodeApplicationInvalidTransition:
		return codes.FailedPrecondition

	// AlreadyExists - uniqueness violations
	case CodeApplicationDuplicate:
		return codes.AlreadyExists

	// PermissionDenied - caller lacks the required role
	case CodeCollabCallerNotCreator,
		CodeApplicationCallerNotAllowed:
		return codes.PermissionDenied

	// Unauthenticated - caller identity could not be established
	case CodeIdentityGrantInvalid,
		CodeIdentityGrantExpired:
		return codes.Unauthenticated

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return codes.NotFound

	default:
		return codes.Internal
	}
}
