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

// SubmitApplicationInput describes one applicant's request to join a
// requirement.
type SubmitApplicationInput struct {
	RequirementID string
	ApplicantID   string
	Message       string
	RequestID     string
}

// ReviewApplicationInput describes a creator's decision on a pending
// application.
type ReviewApplicationInput struct {
	ApplicationID string
	CallerID      string
	Action        domain.Action
	RequestID     string
}

// WithdrawApplicationInput identifies an application to retract. The
// applicant withdraws their own application; the creator may withdraw an
// accepted application to revoke it.
type WithdrawApplicationInput struct {
	ApplicationID string
	CallerID      string
	RequestID     string
}

// ListApplicationsInput configures requirement application listing.
type ListApplicationsInput struct {
	RequirementID string
	CallerID      string
	PageSize      int
	PageToken     string
}

// SubmitApplication creates a pending application against an open
// requirement. Submitting never claims a slot; slots move only on accept.
func (s *Service) SubmitApplication(ctx context.Context, input SubmitApplicationInput) (domain.Application, error) {
	if s == nil || s.store == nil {
		return domain.Application{}, ErrStoreNotConfigured
	}

	if record, err := s.replayRequest(ctx, input.RequestID, opSubmitApplication); err != nil {
		return domain.Application{}, err
	} else if record != nil {
		return s.replayOutcome(ctx, *record)
	}

	requirement, err := s.getRequirement(ctx, input.RequirementID)
	if err != nil {
		return domain.Application{}, err
	}
	collaboration, err := s.getCollaboration(ctx, requirement.CollaborationID)
	if err != nil {
		return domain.Application{}, err
	}

	application, err := s.admitApplication(ctx, collaboration, requirement, input)
	s.recordOutcome(ctx, input.RequestID, opSubmitApplication, application.ID, err)
	if err != nil {
		return domain.Application{}, err
	}

	s.notifier.Application(ctx, event.TypeApplicationSubmitted, application, input.RequestID,
		notify.Actor{Type: event.ActorTypeApplicant, ID: application.ApplicantID})
	return application, nil
}

// admitApplication runs the submission checks and insert. Split out so the
// outcome, success or admission failure, is recorded uniformly.
func (s *Service) admitApplication(ctx context.Context, collaboration domain.Collaboration, requirement domain.Requirement, input SubmitApplicationInput) (domain.Application, error) {
	normalized, err := domain.NormalizeCreateApplicationInput(domain.CreateApplicationInput{
		RequirementID:   requirement.ID,
		CollaborationID: collaboration.ID,
		ApplicantID:     input.ApplicantID,
		Message:         input.Message,
	})
	if err != nil {
		return domain.Application{}, err
	}
	input.ApplicantID = normalized.ApplicantID
	input.Message = normalized.Message

	if input.ApplicantID == collaboration.CreatorID {
		return domain.Application{}, apperrors.WithMetadata(
			apperrors.CodeApplicationCallerNotAllowed,
			"creator cannot apply to their own collaboration",
			map[string]string{"CollaborationID": collaboration.ID},
		)
	}
	if collaboration.Status != domain.StatusOpen && collaboration.Status != domain.StatusInProgress {
		return domain.Application{}, apperrors.WithMetadata(
			apperrors.CodeCollabClosed,
			"collaboration is not accepting applications",
			map[string]string{"CollaborationID": collaboration.ID},
		)
	}
	if !requirement.IsOpen(collaboration.Status) {
		return domain.Application{}, apperrors.WithMetadata(
			apperrors.CodeRequirementClosed,
			"requirement is not accepting applications",
			map[string]string{"RequirementID": requirement.ID},
		)
	}

	_, err = s.store.GetActiveApplication(ctx, requirement.ID, input.ApplicantID)
	if err == nil {
		return domain.Application{}, duplicateApplication(requirement.ID)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return domain.Application{}, err
	}

	application, err := domain.CreateApplication(domain.CreateApplicationInput{
		RequirementID:   requirement.ID,
		CollaborationID: collaboration.ID,
		ApplicantID:     input.ApplicantID,
		Message:         input.Message,
	}, s.clock, s.newID)
	if err != nil {
		return domain.Application{}, err
	}

	err = s.store.PutApplication(ctx, application)
	if errors.Is(err, storage.ErrConflict) {
		// Lost a race with a concurrent submit by the same applicant.
		return domain.Application{}, duplicateApplication(requirement.ID)
	}
	if err != nil {
		return domain.Application{}, fmt.Errorf("put application: %w", err)
	}

	// A concurrent cancel or complete can close the collaboration between
	// the status check above and the insert, after its sweep has already
	// listed. Re-read and resolve the row rather than leave it live on a
	// closed collaboration.
	current, err := s.getCollaboration(ctx, collaboration.ID)
	if err != nil {
		return domain.Application{}, err
	}
	if current.Status.IsTerminal() {
		now := s.nowUTC()
		err := s.store.UpdateApplicationStatus(ctx, application.ID,
			domain.ApplicationStatusPending, domain.ApplicationStatusRejected, &now, now)
		if err != nil && !errors.Is(err, storage.ErrStaleWrite) && !errors.Is(err, storage.ErrNotFound) {
			return domain.Application{}, fmt.Errorf("resolve application on closed collaboration: %w", err)
		}
		return domain.Application{}, apperrors.WithMetadata(
			apperrors.CodeCollabClosed,
			"collaboration is not accepting applications",
			map[string]string{"CollaborationID": collaboration.ID},
		)
	}
	return application, nil
}

// ReviewApplication applies a creator's accept or reject decision to a
// pending application. Accepting claims a slot before the status commits; a
// full requirement fails the accept with no state change.
func (s *Service) ReviewApplication(ctx context.Context, input ReviewApplicationInput) (domain.Application, error) {
	if s == nil || s.store == nil {
		return domain.Application{}, ErrStoreNotConfigured
	}
	if input.Action != domain.ActionAccept && input.Action != domain.ActionReject {
		return domain.Application{}, apperrors.WithMetadata(
			apperrors.CodeApplicationInvalidTransition,
			"review action must be accept or reject",
			map[string]string{"Action": domain.ActionLabel(input.Action)},
		)
	}

	if record, err := s.replayRequest(ctx, input.RequestID, opReviewApplication); err != nil {
		return domain.Application{}, err
	} else if record != nil {
		return s.replayOutcome(ctx, *record)
	}

	application, err := s.getApplication(ctx, input.ApplicationID)
	if err != nil {
		return domain.Application{}, err
	}
	collaboration, err := s.getCollaboration(ctx, application.CollaborationID)
	if err != nil {
		return domain.Application{}, err
	}
	if err := requireCreator(collaboration, input.CallerID); err != nil {
		return domain.Application{}, err
	}
	if collaboration.Status.IsTerminal() {
		return domain.Application{}, apperrors.WithMetadata(
			apperrors.CodeCollabClosed,
			"collaboration is closed to review decisions",
			map[string]string{"CollaborationID": collaboration.ID},
		)
	}
	if !domain.CanTransition(application.Status, input.Action) {
		return domain.Application{}, invalidTransition(application.Status, input.Action)
	}

	actor := notify.Actor{Type: event.ActorTypeCreator, ID: input.CallerID}
	decided, err := s.applyReviewDecision(ctx, collaboration, application, input.Action, input.RequestID, actor)
	s.recordOutcome(ctx, input.RequestID, opReviewApplication, application.ID, err)
	if err != nil {
		return domain.Application{}, err
	}
	return decided, nil
}

// applyReviewDecision commits one accept or reject. Accept order is claim,
// then status commit: a crash in between leaves an orphaned claim the
// recovery sweep releases, never an accepted application without a slot.
func (s *Service) applyReviewDecision(ctx context.Context, collaboration domain.Collaboration, application domain.Application, action domain.Action, requestID string, actor notify.Actor) (domain.Application, error) {
	now := s.nowUTC()

	if action == domain.ActionReject {
		err := s.store.UpdateApplicationStatus(ctx, application.ID,
			domain.ApplicationStatusPending, domain.ApplicationStatusRejected, &now, now)
		if errors.Is(err, storage.ErrStaleWrite) {
			return domain.Application{}, s.staleReviewError(ctx, application.ID, action)
		}
		if err != nil {
			return domain.Application{}, fmt.Errorf("reject application: %w", err)
		}
		application.Status = domain.ApplicationStatusRejected
		application.DecidedAt = &now
		application.UpdatedAt = now
		s.notifier.Application(ctx, event.TypeApplicationRejected, application, requestID, actor)
		return application, nil
	}

	if _, err := s.ledger.TryClaimSlot(ctx, application.RequirementID, application.ID); err != nil {
		return domain.Application{}, err
	}

	err := s.store.UpdateApplicationStatus(ctx, application.ID,
		domain.ApplicationStatusPending, domain.ApplicationStatusAccepted, &now, now)
	if err != nil {
		// The claim must not outlive a failed accept.
		if releaseErr := s.ledger.ReleaseSlot(ctx, application.RequirementID, application.ID); releaseErr != nil {
			return domain.Application{}, fmt.Errorf("release claim after failed accept: %w", releaseErr)
		}
		if errors.Is(err, storage.ErrStaleWrite) {
			return domain.Application{}, s.staleReviewError(ctx, application.ID, action)
		}
		return domain.Application{}, fmt.Errorf("accept application: %w", err)
	}
	application.Status = domain.ApplicationStatusAccepted
	application.DecidedAt = &now
	application.UpdatedAt = now

	// Cancellation commits its status before sweeping, so an accept whose
	// precondition read raced the cancel can commit after the sweep already
	// finished. Re-read and undo the accept when the collaboration closed
	// underneath it.
	current, err := s.getCollaboration(ctx, collaboration.ID)
	if err != nil {
		return domain.Application{}, err
	}
	if current.Status.IsTerminal() {
		revertErr := s.store.UpdateApplicationStatus(ctx, application.ID,
			domain.ApplicationStatusAccepted, domain.ApplicationStatusWithdrawn, nil, now)
		if revertErr != nil && !errors.Is(revertErr, storage.ErrStaleWrite) {
			return domain.Application{}, fmt.Errorf("undo accept on closed collaboration: %w", revertErr)
		}
		if revertErr == nil {
			releaseErr := s.ledger.ReleaseSlot(ctx, application.RequirementID, application.ID)
			if releaseErr != nil && !errors.Is(releaseErr, storage.ErrNotFound) {
				return domain.Application{}, fmt.Errorf("release slot on closed collaboration: %w", releaseErr)
			}
		}
		return domain.Application{}, apperrors.WithMetadata(
			apperrors.CodeCollabClosed,
			"collaboration is closed to review decisions",
			map[string]string{"CollaborationID": collaboration.ID},
		)
	}

	// First accepted slot moves the collaboration into progress. A stale
	// write means a concurrent accept already did.
	if current.Status == domain.StatusOpen {
		transitionErr := s.store.UpdateCollaborationStatus(ctx, collaboration.ID,
			domain.StatusOpen, domain.StatusInProgress, now)
		if transitionErr == nil {
			moved := collaboration
			moved.Status = domain.StatusInProgress
			moved.UpdatedAt = now
			s.notifier.CollaborationStatusChanged(ctx, moved, domain.StatusOpen, requestID, actor)
		} else if !errors.Is(transitionErr, storage.ErrStaleWrite) {
			return domain.Application{}, fmt.Errorf("start collaboration: %w", transitionErr)
		}
	}

	s.notifier.Application(ctx, event.TypeApplicationAccepted, application, requestID, actor)
	if snapshot, err := s.ledger.Snapshot(ctx, application.RequirementID); err == nil && !snapshot.IsOpen {
		requirement, err := s.getRequirement(ctx, application.RequirementID)
		if err == nil {
			s.notifier.Requirement(ctx, event.TypeRequirementFilled, requirement, requestID, actor)
		}
	}
	return application, nil
}

// WithdrawApplication retracts an application. Applicants withdraw their own
// applications; the creator may withdraw an accepted application to revoke
// the admission. Withdrawing an accepted application releases its slot.
func (s *Service) WithdrawApplication(ctx context.Context, input WithdrawApplicationInput) (domain.Application, error) {
	if s == nil || s.store == nil {
		return domain.Application{}, ErrStoreNotConfigured
	}

	if record, err := s.replayRequest(ctx, input.RequestID, opWithdrawApplication); err != nil {
		return domain.Application{}, err
	} else if record != nil {
		return s.replayOutcome(ctx, *record)
	}

	application, err := s.getApplication(ctx, input.ApplicationID)
	if err != nil {
		return domain.Application{}, err
	}
	collaboration, err := s.getCollaboration(ctx, application.CollaborationID)
	if err != nil {
		return domain.Application{}, err
	}

	isApplicant := input.CallerID != "" && input.CallerID == application.ApplicantID
	isCreator := input.CallerID != "" && input.CallerID == collaboration.CreatorID
	if !isApplicant && !isCreator {
		return domain.Application{}, apperrors.WithMetadata(
			apperrors.CodeApplicationCallerNotAllowed,
			"only the applicant or the creator can withdraw an application",
			map[string]string{"ApplicationID": application.ID},
		)
	}
	// Creators decide pending applications through review, not withdrawal.
	if isCreator && !isApplicant && application.Status != domain.ApplicationStatusAccepted {
		return domain.Application{}, invalidTransition(application.Status, domain.ActionWithdraw)
	}
	if !domain.CanTransition(application.Status, domain.ActionWithdraw) {
		return domain.Application{}, invalidTransition(application.Status, domain.ActionWithdraw)
	}

	actorType := event.ActorTypeApplicant
	if isCreator && !isApplicant {
		actorType = event.ActorTypeCreator
	}
	actor := notify.Actor{Type: actorType, ID: input.CallerID}

	withdrawn, err := s.applyWithdrawal(ctx, application, input.RequestID, actor)
	s.recordOutcome(ctx, input.RequestID, opWithdrawApplication, application.ID, err)
	if err != nil {
		return domain.Application{}, err
	}
	return withdrawn, nil
}

// applyWithdrawal commits the withdrawal, then releases the slot when the
// application held one. A crash between the two leaves an orphaned claim for
// the recovery sweep, never a double-counted slot.
func (s *Service) applyWithdrawal(ctx context.Context, application domain.Application, requestID string, actor notify.Actor) (domain.Application, error) {
	now := s.nowUTC()
	from := application.Status

	err := s.store.UpdateApplicationStatus(ctx, application.ID,
		from, domain.ApplicationStatusWithdrawn, nil, now)
	if errors.Is(err, storage.ErrStaleWrite) {
		return domain.Application{}, s.staleReviewError(ctx, application.ID, domain.ActionWithdraw)
	}
	if err != nil {
		return domain.Application{}, fmt.Errorf("withdraw application: %w", err)
	}
	application.Status = domain.ApplicationStatusWithdrawn
	application.UpdatedAt = now
	s.notifier.Application(ctx, event.TypeApplicationWithdrawn, application, requestID, actor)

	if from == domain.ApplicationStatusAccepted {
		err := s.ledger.ReleaseSlot(ctx, application.RequirementID, application.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return domain.Application{}, fmt.Errorf("release withdrawn slot: %w", err)
		}
		if requirement, err := s.getRequirement(ctx, application.RequirementID); err == nil {
			s.notifier.Requirement(ctx, event.TypeRequirementReopened, requirement, requestID, actor)
		}
	}
	return application, nil
}

// ListApplications returns one page of applications for a requirement. Only
// the collaboration creator sees the applicant list.
func (s *Service) ListApplications(ctx context.Context, input ListApplicationsInput) (ApplicationPage, error) {
	if s == nil || s.store == nil {
		return ApplicationPage{}, ErrStoreNotConfigured
	}
	requirement, err := s.getRequirement(ctx, input.RequirementID)
	if err != nil {
		return ApplicationPage{}, err
	}
	collaboration, err := s.getCollaboration(ctx, requirement.CollaborationID)
	if err != nil {
		return ApplicationPage{}, err
	}
	if err := requireCreator(collaboration, input.CallerID); err != nil {
		return ApplicationPage{}, err
	}

	page, err := s.store.ListApplicationsByRequirement(ctx, requirement.ID, clampPageSize(input.PageSize), input.PageToken)
	if err != nil {
		return ApplicationPage{}, err
	}
	return ApplicationPage{
		Applications:  page.Applications,
		NextPageToken: page.NextPageToken,
	}, nil
}

// staleReviewError reports a transition that lost a concurrent update
// against the application's current status.
func (s *Service) staleReviewError(ctx context.Context, applicationID string, action domain.Action) error {
	current, err := s.getApplication(ctx, applicationID)
	if err != nil {
		return err
	}
	return invalidTransition(current.Status, action)
}

func invalidTransition(status domain.ApplicationStatus, action domain.Action) error {
	return apperrors.WithMetadata(
		apperrors.CodeApplicationInvalidTransition,
		"application action is not allowed in its current status",
		map[string]string{
			"Status": domain.ApplicationStatusLabel(status),
			"Action": domain.ActionLabel(action),
		},
	)
}

func duplicateApplication(requirementID string) error {
	return apperrors.WithMetadata(
		apperrors.CodeApplicationDuplicate,
		"applicant already has a live application for this requirement",
		map[string]string{"RequirementID": requirementID},
	)
}
