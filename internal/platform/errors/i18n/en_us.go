package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeCollabTitleEmpty              = "COLLAB_TITLE_EMPTY"
	CodeCollabCreatorRequired         = "COLLAB_CREATOR_REQUIRED"
	CodeCollabInvalidStatusTransition = "COLLAB_INVALID_STATUS_TRANSITION"
	CodeCollabClosed                  = "COLLAB_CLOSED"
	CodeCollabNoRequirements          = "COLLAB_NO_REQUIREMENTS"
	CodeCollabCallerNotCreator        = "COLLAB_CALLER_NOT_CREATOR"
	CodeRequirementRoleEmpty          = "REQUIREMENT_ROLE_EMPTY"
	CodeRequirementInvalidQuantity    = "REQUIREMENT_INVALID_QUANTITY"
	CodeRequirementEmptyCollabID      = "REQUIREMENT_EMPTY_COLLABORATION_ID"
	CodeRequirementClosed             = "REQUIREMENT_CLOSED"
	CodeRequirementSlotsFull          = "REQUIREMENT_SLOTS_FULL"
	CodeRequirementInUse              = "REQUIREMENT_IN_USE"
	CodeRequirementNoFilledSlots      = "REQUIREMENT_NO_FILLED_SLOTS"
	CodeApplicationEmptyRequirementID = "APPLICATION_EMPTY_REQUIREMENT_ID"
	CodeApplicationEmptyApplicantID   = "APPLICATION_EMPTY_APPLICANT_ID"
	CodeApplicationDuplicate          = "APPLICATION_DUPLICATE"
	CodeApplicationInvalidTransition  = "APPLICATION_INVALID_TRANSITION"
	CodeApplicationCallerNotAllowed   = "APPLICATION_CALLER_NOT_ALLOWED"
	CodeIdentityGrantInvalid          = "IDENTITY_GRANT_INVALID"
	CodeIdentityGrantExpired          = "IDENTITY_GRANT_EXPIRED"
	CodeRequestIDReused               = "REQUEST_ID_REUSED"
	CodeNotFound                      = "NOT_FOUND"
)

var enUSCatalog = &Catalog{
	locale: "en-US",
	messages: map[Code]string{
		// Collaboration errors
		CodeCollabTitleEmpty:              "Project title cannot be empty",
		CodeCollabCreatorRequired:         "Project creator is required",
		CodeCollabInvalidStatusTransition: "Cannot move project from {{.FromStatus}} to {{.ToStatus}}",
		CodeCollabClosed:                  "Project {{.CollaborationID}} is closed to further changes",
		CodeCollabNoRequirements:          "Project needs at least one open role before publishing",
		CodeCollabCallerNotCreator:        "Only the project creator can do this",

		// Requirement errors
		CodeRequirementRoleEmpty:       "Role name cannot be empty",
		CodeRequirementInvalidQuantity: "Role needs at least one slot",
		CodeRequirementEmptyCollabID:   "Project ID is required for a role",
		CodeRequirementClosed:          "Role {{.RequirementID}} is not accepting applications",
		CodeRequirementSlotsFull:       "All {{.QuantityNeeded}} slots for this role are filled",
		CodeRequirementInUse:           "Role still has filled slots or pending applications",
		CodeRequirementNoFilledSlots:   "Role has no filled slots to release",

		// Application errors
		CodeApplicationEmptyRequirementID: "Role ID is required for an application",
		CodeApplicationEmptyApplicantID:   "Applicant ID is required",
		CodeApplicationDuplicate:          "You already have an application for this role",
		CodeApplicationInvalidTransition:  "Application is {{.Status}} and cannot be {{.Action}}",
		CodeApplicationCallerNotAllowed:   "You are not allowed to act on this application",

		// Identity errors
		CodeIdentityGrantInvalid: "Access grant is invalid",
		CodeIdentityGrantExpired: "Access grant has expired",

		// Request errors
		CodeRequestIDReused: "Request ID was already used for a different operation",

		// Storage errors
		CodeNotFound: "The requested record was not found",
	},
}
