package event

// StatusChangedPayload describes a collaboration status transition.
type StatusChangedPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RequirementPayload describes a requirement's slot state at event time.
type RequirementPayload struct {
	Role           string `json:"role"`
	QuantityNeeded int    `json:"quantity_needed"`
	QuantityFilled int    `json:"quantity_filled"`
}

// ApplicationPayload describes an application decision.
type ApplicationPayload struct {
	ApplicantID   string `json:"applicant_id"`
	RequirementID string `json:"requirement_id"`
	Status        string `json:"status"`
}

// CancellationPayload describes the cascade performed when a collaboration is
// cancelled.
type CancellationPayload struct {
	RejectedApplications  int `json:"rejected_applications"`
	WithdrawnApplications int `json:"withdrawn_applications"`
	ReleasedSlots         int `json:"released_slots"`
}
