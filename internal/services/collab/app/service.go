// Package app orchestrates collaboration admission use-cases over the
// storage, ledger, and notification layers.
package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	apperrors "github.com/louisbranch/atelier.space/internal/platform/errors"
	"github.com/louisbranch/atelier.space/internal/platform/id"
	"github.com/louisbranch/atelier.space/internal/services/collab/domain"
	"github.com/louisbranch/atelier.space/internal/services/collab/ledger"
	"github.com/louisbranch/atelier.space/internal/services/collab/notify"
	"github.com/louisbranch/atelier.space/internal/services/collab/storage"
)

// ErrStoreNotConfigured indicates the service is missing persistence wiring.
var ErrStoreNotConfigured = errors.New("collab store is not configured")

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Store is the combined persistence boundary the service operates on.
type Store interface {
	storage.CollaborationStore
	storage.RequirementStore
	storage.ApplicationStore
	storage.IdempotencyStore
}

// RequirementView is a requirement with its derived admission state.
type RequirementView struct {
	domain.Requirement
	IsOpen bool
}

// CollaborationView is a collaboration with its requirements.
type CollaborationView struct {
	Collaboration domain.Collaboration
	Requirements  []RequirementView
}

// CollaborationPage is a paged creator listing view.
type CollaborationPage struct {
	Collaborations []domain.Collaboration
	NextPageToken  string
}

// ApplicationPage is a paged application listing view.
type ApplicationPage struct {
	Applications  []domain.Application
	NextPageToken string
}

// Service orchestrates collaboration and application lifecycle behavior.
type Service struct {
	store    Store
	ledger   *ledger.Ledger
	notifier *notify.Notifier
	clock    func() time.Time
	newID    func() (string, error)
}

// NewService constructs collaboration admission use-cases.
func NewService(store Store, slotLedger *ledger.Ledger, notifier *notify.Notifier, clock func() time.Time, newID func() (string, error)) *Service {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	return &Service{
		store:    store,
		ledger:   slotLedger,
		notifier: notifier,
		clock:    clock,
		newID:    newID,
	}
}

func (s *Service) nowUTC() time.Time {
	return s.clock().UTC()
}

func clampPageSize(pageSize int) int {
	if pageSize <= 0 {
		return defaultPageSize
	}
	if pageSize > maxPageSize {
		return maxPageSize
	}
	return pageSize
}

// notFound maps a missing record to the shared NOT_FOUND code.
func notFound(resource, id string) error {
	return apperrors.WithMetadata(
		apperrors.CodeNotFound,
		resource+" not found",
		map[string]string{"Resource": resource, "ID": id},
	)
}

func (s *Service) getCollaboration(ctx context.Context, collaborationID string) (domain.Collaboration, error) {
	collaboration, err := s.store.GetCollaboration(ctx, collaborationID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Collaboration{}, notFound("collaboration", collaborationID)
	}
	return collaboration, err
}

func (s *Service) getRequirement(ctx context.Context, requirementID string) (domain.Requirement, error) {
	requirement, err := s.store.GetRequirement(ctx, requirementID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Requirement{}, notFound("requirement", requirementID)
	}
	return requirement, err
}

func (s *Service) getApplication(ctx context.Context, applicationID string) (domain.Application, error) {
	application, err := s.store.GetApplication(ctx, applicationID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Application{}, notFound("application", applicationID)
	}
	return application, err
}

// requireCreator checks that the caller owns the collaboration.
func requireCreator(collaboration domain.Collaboration, callerID string) error {
	if strings.TrimSpace(callerID) == "" || callerID != collaboration.CreatorID {
		return apperrors.WithMetadata(
			apperrors.CodeCollabCallerNotCreator,
			"caller is not the collaboration creator",
			map[string]string{"CollaborationID": collaboration.ID},
		)
	}
	return nil
}

// Mutating operations recorded for idempotent replay.
const (
	opSubmitApplication     = "submit_application"
	opReviewApplication     = "review_application"
	opWithdrawApplication   = "withdraw_application"
	opCreateCollaboration   = "create_collaboration"
	opPublishCollaboration  = "publish_collaboration"
	opCompleteCollaboration = "complete_collaboration"
	opCancelCollaboration   = "cancel_collaboration"
)

// replayRequest returns the recorded outcome for a request ID, or nil when
// the request is new. A request ID reused across operations is rejected.
func (s *Service) replayRequest(ctx context.Context, requestID, operation string) (*storage.IdempotencyRecord, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, nil
	}
	record, err := s.store.GetIdempotencyRecord(ctx, requestID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if record.Operation != operation {
		return nil, apperrors.WithMetadata(
			apperrors.CodeRequestIDReused,
			"request id was recorded for a different operation",
			map[string]string{"RequestID": requestID, "Operation": record.Operation},
		)
	}
	return &record, nil
}

// replayOutcome reconstructs the result of a previously recorded application
// request.
func (s *Service) replayOutcome(ctx context.Context, record storage.IdempotencyRecord) (domain.Application, error) {
	if record.OutcomeCode != "" {
		return domain.Application{}, replayedError(record)
	}
	return s.getApplication(ctx, record.ApplicationID)
}

// replayCollaborationOutcome reconstructs the result of a previously recorded
// collaboration request.
func (s *Service) replayCollaborationOutcome(ctx context.Context, record storage.IdempotencyRecord) (CollaborationView, error) {
	if record.OutcomeCode != "" {
		return CollaborationView{}, replayedError(record)
	}
	return s.GetCollaboration(ctx, record.CollaborationID)
}

func replayedError(record storage.IdempotencyRecord) error {
	return apperrors.WithMetadata(
		apperrors.Code(record.OutcomeCode),
		"replayed outcome for request "+record.RequestID,
		map[string]string{"RequestID": record.RequestID},
	)
}

// recordOutcome persists the outcome of a mutating application request.
func (s *Service) recordOutcome(ctx context.Context, requestID, operation, applicationID string, outcome error) {
	s.putOutcome(ctx, storage.IdempotencyRecord{
		RequestID:     requestID,
		Operation:     operation,
		ApplicationID: applicationID,
	}, outcome)
}

// recordCollaborationOutcome persists the outcome of a mutating collaboration
// request.
func (s *Service) recordCollaborationOutcome(ctx context.Context, requestID, operation, collaborationID string, outcome error) {
	s.putOutcome(ctx, storage.IdempotencyRecord{
		RequestID:       requestID,
		Operation:       operation,
		CollaborationID: collaborationID,
	}, outcome)
}

// putOutcome stores one request outcome for replay. Infrastructure failures
// are not recorded so a retry re-attempts them; only typed business outcomes
// replay. Failures to record are logged, not surfaced: the operation itself
// already committed.
func (s *Service) putOutcome(ctx context.Context, record storage.IdempotencyRecord, outcome error) {
	record.RequestID = strings.TrimSpace(record.RequestID)
	if record.RequestID == "" {
		return
	}
	if outcome != nil {
		code := apperrors.GetCode(outcome)
		if code == apperrors.CodeUnknown {
			return
		}
		record.OutcomeCode = string(code)
	}
	record.CreatedAt = s.nowUTC()
	if err := s.store.PutIdempotencyRecord(ctx, record); err != nil && !errors.Is(err, storage.ErrConflict) {
		log.Printf("record outcome for request %s: %v", record.RequestID, err)
	}
}
