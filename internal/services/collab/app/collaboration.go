package app

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/louisbranch/atelier.space/internal/platform/errors"
	"github.com/louisbranch/atelier.space/internal/services/collab/domain"
	"github.com/louisbranch/atelier.space/internal/services/collab/event"
	"github.com/louisbranch/atelier.space/internal/services/collab/notify"
	"github.com/louisbranch/atelier.space/internal/services/collab/storage"
)

// CreateCollaborationInput describes a new draft collaboration and its
// initial requirements.
type CreateCollaborationInput struct {
	CreatorID    string
	Title        string
	Description  string
	Requirements []RequirementInput
	RequestID    string
}

// RequirementInput describes one role slot group to create.
type RequirementInput struct {
	Role           string
	QuantityNeeded int
}

// PublishCollaborationInput identifies a draft collaboration to open.
type PublishCollaborationInput struct {
	CollaborationID string
	CallerID        string
	RequestID       string
}

// CompleteCollaborationInput identifies an in-progress collaboration to finish.
type CompleteCollaborationInput struct {
	CollaborationID string
	CallerID        string
	RequestID       string
}

// CancelCollaborationInput identifies a collaboration to cancel.
type CancelCollaborationInput struct {
	CollaborationID string
	CallerID        string
	RequestID       string
}

// AddRequirementInput describes a requirement to add to a collaboration.
type AddRequirementInput struct {
	CollaborationID string
	CallerID        string
	Role            string
	QuantityNeeded  int
}

// RemoveRequirementInput identifies a requirement to remove.
type RemoveRequirementInput struct {
	RequirementID string
	CallerID      string
}

// ListCollaborationsInput configures creator listing.
type ListCollaborationsInput struct {
	CreatorID string
	PageSize  int
	PageToken string
}

// CreateCollaboration creates a draft collaboration with its initial
// requirements. The collaboration is not visible to applicants until
// published.
func (s *Service) CreateCollaboration(ctx context.Context, input CreateCollaborationInput) (CollaborationView, error) {
	if s == nil || s.store == nil {
		return CollaborationView{}, ErrStoreNotConfigured
	}

	if record, err := s.replayRequest(ctx, input.RequestID, opCreateCollaboration); err != nil {
		return CollaborationView{}, err
	} else if record != nil {
		return s.replayCollaborationOutcome(ctx, *record)
	}

	view, err := s.createCollaboration(ctx, input)
	s.recordCollaborationOutcome(ctx, input.RequestID, opCreateCollaboration, view.Collaboration.ID, err)
	if err != nil {
		return CollaborationView{}, err
	}

	actor := notify.Actor{Type: event.ActorTypeCreator, ID: view.Collaboration.CreatorID}
	s.notifier.CollaborationCreated(ctx, view.Collaboration, input.RequestID, actor)
	for _, requirement := range view.Requirements {
		s.notifier.Requirement(ctx, event.TypeRequirementAdded, requirement.Requirement, input.RequestID, actor)
	}
	return view, nil
}

// createCollaboration validates and persists the draft and its requirements.
func (s *Service) createCollaboration(ctx context.Context, input CreateCollaborationInput) (CollaborationView, error) {
	collaboration, err := domain.CreateCollaboration(domain.CreateCollaborationInput{
		CreatorID:   input.CreatorID,
		Title:       input.Title,
		Description: input.Description,
	}, s.clock, s.newID)
	if err != nil {
		return CollaborationView{}, err
	}

	requirements := make([]domain.Requirement, 0, len(input.Requirements))
	for _, reqInput := range input.Requirements {
		requirement, err := domain.CreateRequirement(domain.CreateRequirementInput{
			CollaborationID: collaboration.ID,
			Role:            reqInput.Role,
			QuantityNeeded:  reqInput.QuantityNeeded,
		}, s.clock, s.newID)
		if err != nil {
			return CollaborationView{}, err
		}
		requirements = append(requirements, requirement)
	}

	if err := s.store.PutCollaboration(ctx, collaboration); err != nil {
		return CollaborationView{}, fmt.Errorf("put collaboration: %w", err)
	}
	for _, requirement := range requirements {
		if err := s.store.PutRequirement(ctx, requirement); err != nil {
			return CollaborationView{}, fmt.Errorf("put requirement: %w", err)
		}
	}

	return s.viewOf(collaboration, requirements), nil
}

// GetCollaboration returns a collaboration with its requirements and derived
// admission state.
func (s *Service) GetCollaboration(ctx context.Context, collaborationID string) (CollaborationView, error) {
	if s == nil || s.store == nil {
		return CollaborationView{}, ErrStoreNotConfigured
	}
	collaboration, err := s.getCollaboration(ctx, collaborationID)
	if err != nil {
		return CollaborationView{}, err
	}
	requirements, err := s.store.ListRequirements(ctx, collaboration.ID)
	if err != nil {
		return CollaborationView{}, fmt.Errorf("list requirements: %w", err)
	}
	return s.viewOf(collaboration, requirements), nil
}

// ListCollaborations returns one page of a creator's collaborations.
func (s *Service) ListCollaborations(ctx context.Context, input ListCollaborationsInput) (CollaborationPage, error) {
	if s == nil || s.store == nil {
		return CollaborationPage{}, ErrStoreNotConfigured
	}
	page, err := s.store.ListCollaborationsByCreator(ctx, input.CreatorID, clampPageSize(input.PageSize), input.PageToken)
	if err != nil {
		return CollaborationPage{}, err
	}
	return CollaborationPage{
		Collaborations: page.Collaborations,
		NextPageToken:  page.NextPageToken,
	}, nil
}

// PublishCollaboration moves a draft collaboration to Open, making it
// visible to applicants. Publishing requires at least one requirement.
func (s *Service) PublishCollaboration(ctx context.Context, input PublishCollaborationInput) (CollaborationView, error) {
	if s == nil || s.store == nil {
		return CollaborationView{}, ErrStoreNotConfigured
	}
	if record, err := s.replayRequest(ctx, input.RequestID, opPublishCollaboration); err != nil {
		return CollaborationView{}, err
	} else if record != nil {
		return s.replayCollaborationOutcome(ctx, *record)
	}

	collaboration, err := s.getCollaboration(ctx, input.CollaborationID)
	if err != nil {
		return CollaborationView{}, err
	}
	if err := requireCreator(collaboration, input.CallerID); err != nil {
		return CollaborationView{}, err
	}

	requirements, err := s.store.ListRequirements(ctx, collaboration.ID)
	if err != nil {
		return CollaborationView{}, fmt.Errorf("list requirements: %w", err)
	}
	if len(requirements) == 0 {
		return CollaborationView{}, apperrors.New(
			apperrors.CodeCollabNoRequirements,
			"collaboration needs at least one requirement before publishing",
		)
	}

	opened, err := s.transitionCollaboration(ctx, collaboration, domain.StatusOpen, input.RequestID,
		notify.Actor{Type: event.ActorTypeCreator, ID: input.CallerID})
	s.recordCollaborationOutcome(ctx, input.RequestID, opPublishCollaboration, collaboration.ID, err)
	if err != nil {
		return CollaborationView{}, err
	}
	return s.viewOf(opened, requirements), nil
}

// CompleteCollaboration moves an in-progress collaboration to Completed.
func (s *Service) CompleteCollaboration(ctx context.Context, input CompleteCollaborationInput) (CollaborationView, error) {
	if s == nil || s.store == nil {
		return CollaborationView{}, ErrStoreNotConfigured
	}
	if record, err := s.replayRequest(ctx, input.RequestID, opCompleteCollaboration); err != nil {
		return CollaborationView{}, err
	} else if record != nil {
		return s.replayCollaborationOutcome(ctx, *record)
	}

	collaboration, err := s.getCollaboration(ctx, input.CollaborationID)
	if err != nil {
		return CollaborationView{}, err
	}
	if err := requireCreator(collaboration, input.CallerID); err != nil {
		return CollaborationView{}, err
	}

	completed, err := s.transitionCollaboration(ctx, collaboration, domain.StatusCompleted, input.RequestID,
		notify.Actor{Type: event.ActorTypeCreator, ID: input.CallerID})
	s.recordCollaborationOutcome(ctx, input.RequestID, opCompleteCollaboration, collaboration.ID, err)
	if err != nil {
		return CollaborationView{}, err
	}

	requirements, err := s.store.ListRequirements(ctx, completed.ID)
	if err != nil {
		return CollaborationView{}, fmt.Errorf("list requirements: %w", err)
	}
	return s.viewOf(completed, requirements), nil
}

// CancelCollaboration cancels a collaboration and sweeps its applications:
// pending applications are rejected, accepted ones are withdrawn and their
// slots released. The status write commits first so no new applications or
// accepts can interleave with the sweep.
func (s *Service) CancelCollaboration(ctx context.Context, input CancelCollaborationInput) (CollaborationView, error) {
	if s == nil || s.store == nil {
		return CollaborationView{}, ErrStoreNotConfigured
	}
	if record, err := s.replayRequest(ctx, input.RequestID, opCancelCollaboration); err != nil {
		return CollaborationView{}, err
	} else if record != nil {
		return s.replayCollaborationOutcome(ctx, *record)
	}

	collaboration, err := s.getCollaboration(ctx, input.CollaborationID)
	if err != nil {
		return CollaborationView{}, err
	}
	if err := requireCreator(collaboration, input.CallerID); err != nil {
		return CollaborationView{}, err
	}

	actor := notify.Actor{Type: event.ActorTypeCreator, ID: input.CallerID}
	cancelled, err := s.transitionCollaboration(ctx, collaboration, domain.StatusCancelled, input.RequestID, actor)
	if err != nil {
		s.recordCollaborationOutcome(ctx, input.RequestID, opCancelCollaboration, collaboration.ID, err)
		return CollaborationView{}, err
	}

	// The outcome is recorded only after the sweep finishes, so a retry of a
	// half-swept cancellation is not replayed short of the cascade.
	cascade, err := s.sweepCancelledApplications(ctx, cancelled, input.RequestID)
	if err != nil {
		return CollaborationView{}, err
	}
	s.recordCollaborationOutcome(ctx, input.RequestID, opCancelCollaboration, cancelled.ID, nil)
	s.notifier.CollaborationCancelled(ctx, cancelled.ID, cascade, input.RequestID, actor)

	requirements, err := s.store.ListRequirements(ctx, cancelled.ID)
	if err != nil {
		return CollaborationView{}, fmt.Errorf("list requirements: %w", err)
	}
	return s.viewOf(cancelled, requirements), nil
}

// AddRequirement adds a role slot group to a Draft or Open collaboration.
func (s *Service) AddRequirement(ctx context.Context, input AddRequirementInput) (RequirementView, error) {
	if s == nil || s.store == nil {
		return RequirementView{}, ErrStoreNotConfigured
	}
	collaboration, err := s.getCollaboration(ctx, input.CollaborationID)
	if err != nil {
		return RequirementView{}, err
	}
	if err := requireCreator(collaboration, input.CallerID); err != nil {
		return RequirementView{}, err
	}
	if collaboration.Status != domain.StatusDraft && collaboration.Status != domain.StatusOpen {
		return RequirementView{}, apperrors.WithMetadata(
			apperrors.CodeCollabClosed,
			"collaboration is not accepting requirement changes",
			map[string]string{"CollaborationID": collaboration.ID},
		)
	}

	requirement, err := domain.CreateRequirement(domain.CreateRequirementInput{
		CollaborationID: collaboration.ID,
		Role:            input.Role,
		QuantityNeeded:  input.QuantityNeeded,
	}, s.clock, s.newID)
	if err != nil {
		return RequirementView{}, err
	}
	if err := s.store.PutRequirement(ctx, requirement); err != nil {
		return RequirementView{}, fmt.Errorf("put requirement: %w", err)
	}

	s.notifier.Requirement(ctx, event.TypeRequirementAdded, requirement, "",
		notify.Actor{Type: event.ActorTypeCreator, ID: input.CallerID})
	return RequirementView{Requirement: requirement, IsOpen: requirement.IsOpen(collaboration.Status)}, nil
}

// RemoveRequirement removes a requirement that has no filled slots and no
// pending applications.
func (s *Service) RemoveRequirement(ctx context.Context, input RemoveRequirementInput) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	requirement, err := s.getRequirement(ctx, input.RequirementID)
	if err != nil {
		return err
	}
	collaboration, err := s.getCollaboration(ctx, requirement.CollaborationID)
	if err != nil {
		return err
	}
	if err := requireCreator(collaboration, input.CallerID); err != nil {
		return err
	}
	if collaboration.Status != domain.StatusDraft && collaboration.Status != domain.StatusOpen {
		return apperrors.WithMetadata(
			apperrors.CodeCollabClosed,
			"collaboration is not accepting requirement changes",
			map[string]string{"CollaborationID": collaboration.ID},
		)
	}

	err = s.store.DeleteRequirement(ctx, requirement.ID)
	if errors.Is(err, storage.ErrConflict) {
		return apperrors.WithMetadata(
			apperrors.CodeRequirementInUse,
			"requirement has filled slots or pending applications",
			map[string]string{"RequirementID": requirement.ID},
		)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return notFound("requirement", requirement.ID)
	}
	if err != nil {
		return fmt.Errorf("delete requirement: %w", err)
	}

	s.notifier.Requirement(ctx, event.TypeRequirementRemoved, requirement, "",
		notify.Actor{Type: event.ActorTypeCreator, ID: input.CallerID})
	return nil
}

// transitionCollaboration applies a guarded status transition and emits the
// lifecycle events.
func (s *Service) transitionCollaboration(ctx context.Context, collaboration domain.Collaboration, to domain.Status, requestID string, actor notify.Actor) (domain.Collaboration, error) {
	from := collaboration.Status
	if !domain.CanTransitionStatus(from, to) {
		return domain.Collaboration{}, apperrors.WithMetadata(
			apperrors.CodeCollabInvalidStatusTransition,
			"collaboration status transition is not allowed",
			map[string]string{
				"FromStatus": domain.StatusLabel(from),
				"ToStatus":   domain.StatusLabel(to),
			},
		)
	}

	now := s.nowUTC()
	err := s.store.UpdateCollaborationStatus(ctx, collaboration.ID, from, to, now)
	if errors.Is(err, storage.ErrStaleWrite) {
		// Raced with another transition; report against the current state.
		current, getErr := s.getCollaboration(ctx, collaboration.ID)
		if getErr != nil {
			return domain.Collaboration{}, getErr
		}
		return domain.Collaboration{}, apperrors.WithMetadata(
			apperrors.CodeCollabInvalidStatusTransition,
			"collaboration status changed concurrently",
			map[string]string{
				"FromStatus": domain.StatusLabel(current.Status),
				"ToStatus":   domain.StatusLabel(to),
			},
		)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Collaboration{}, notFound("collaboration", collaboration.ID)
	}
	if err != nil {
		return domain.Collaboration{}, fmt.Errorf("update collaboration status: %w", err)
	}

	collaboration.Status = to
	collaboration.UpdatedAt = now
	s.notifier.CollaborationStatusChanged(ctx, collaboration, from, requestID, actor)
	return collaboration, nil
}

// sweepCancelledApplications resolves every live application after a
// cancellation commit. The listing repeats until no live applications remain:
// a stale write on its own cannot tell an already-resolved application from
// one a concurrent accept promoted between the listing and the guarded write,
// and a concurrent submit can insert a Pending row after the listing. Both
// surface as live on the next pass. Individual sweep failures abort so a
// retry can finish the cascade.
func (s *Service) sweepCancelledApplications(ctx context.Context, collaboration domain.Collaboration, requestID string) (event.CancellationPayload, error) {
	var cascade event.CancellationPayload
	for {
		applications, err := s.store.ListApplicationsByCollaboration(ctx, collaboration.ID,
			[]domain.ApplicationStatus{domain.ApplicationStatusPending, domain.ApplicationStatusAccepted})
		if err != nil {
			return cascade, fmt.Errorf("list live applications: %w", err)
		}
		if len(applications) == 0 {
			return cascade, nil
		}

		now := s.nowUTC()
		for _, application := range applications {
			switch application.Status {
			case domain.ApplicationStatusPending:
				err := s.store.UpdateApplicationStatus(ctx, application.ID,
					domain.ApplicationStatusPending, domain.ApplicationStatusRejected, &now, now)
				if errors.Is(err, storage.ErrStaleWrite) || errors.Is(err, storage.ErrNotFound) {
					continue
				}
				if err != nil {
					return cascade, fmt.Errorf("reject application %s: %w", application.ID, err)
				}
				application.Status = domain.ApplicationStatusRejected
				cascade.RejectedApplications++
				s.notifier.Application(ctx, event.TypeApplicationRejected, application, requestID, notify.SystemActor)

			case domain.ApplicationStatusAccepted:
				err := s.store.UpdateApplicationStatus(ctx, application.ID,
					domain.ApplicationStatusAccepted, domain.ApplicationStatusWithdrawn, nil, now)
				if errors.Is(err, storage.ErrStaleWrite) || errors.Is(err, storage.ErrNotFound) {
					continue
				}
				if err != nil {
					return cascade, fmt.Errorf("withdraw application %s: %w", application.ID, err)
				}
				application.Status = domain.ApplicationStatusWithdrawn
				cascade.WithdrawnApplications++
				s.notifier.Application(ctx, event.TypeApplicationWithdrawn, application, requestID, notify.SystemActor)

				err = s.ledger.ReleaseSlot(ctx, application.RequirementID, application.ID)
				if err != nil && !errors.Is(err, storage.ErrNotFound) {
					return cascade, fmt.Errorf("release slot for application %s: %w", application.ID, err)
				}
				if err == nil {
					cascade.ReleasedSlots++
				}
			}
		}
	}
}

func (s *Service) viewOf(collaboration domain.Collaboration, requirements []domain.Requirement) CollaborationView {
	view := CollaborationView{
		Collaboration: collaboration,
		Requirements:  make([]RequirementView, 0, len(requirements)),
	}
	for _, requirement := range requirements {
		view.Requirements = append(view.Requirements, RequirementView{
			Requirement: requirement,
			IsOpen:      requirement.IsOpen(collaboration.Status),
		})
	}
	return view
}
