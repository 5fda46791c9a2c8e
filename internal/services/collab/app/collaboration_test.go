package app

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/louisbranch/atelier.space/internal/platform/errors"
	"github.com/louisbranch/atelier.space/internal/services/collab/domain"
	"github.com/louisbranch/atelier.space/internal/services/collab/event"
	"github.com/louisbranch/atelier.space/internal/services/collab/ledger"
	"github.com/louisbranch/atelier.space/internal/services/collab/notify"
	"github.com/louisbranch/atelier.space/internal/services/collab/storage"
)

type testEnv struct {
	service *Service
	store   *memStore
	sink    *recordingSink
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemStore()
	sink := &recordingSink{}
	now := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	slotLedger := ledger.New(store, clock, sequenceIDs("claim"))
	notifier := notify.New(sink, clock)
	service := NewService(store, slotLedger, notifier, clock, sequenceIDs("id"))
	return &testEnv{service: service, store: store, sink: sink, now: now}
}

// createCollaboration creates a draft collaboration with one requirement.
func (env *testEnv) createCollaboration(t *testing.T, creatorID string, quantityNeeded int) CollaborationView {
	t.Helper()
	view, err := env.service.CreateCollaboration(context.Background(), CreateCollaborationInput{
		CreatorID:   creatorID,
		Title:       "Indie game soundtrack",
		Description: "Looking for collaborators",
		Requirements: []RequirementInput{
			{Role: "composer", QuantityNeeded: quantityNeeded},
		},
	})
	if err != nil {
		t.Fatalf("create collaboration: %v", err)
	}
	return view
}

// openCollaboration creates and publishes a collaboration with one requirement.
func (env *testEnv) openCollaboration(t *testing.T, creatorID string, quantityNeeded int) (string, string) {
	t.Helper()
	view := env.createCollaboration(t, creatorID, quantityNeeded)
	collaborationID := view.Collaboration.ID
	requirementID := view.Requirements[0].ID
	if _, err := env.service.PublishCollaboration(context.Background(), PublishCollaborationInput{
		CollaborationID: collaborationID,
		CallerID:        creatorID,
	}); err != nil {
		t.Fatalf("publish collaboration: %v", err)
	}
	return collaborationID, requirementID
}

// submitPending submits an application and returns its ID.
func (env *testEnv) submitPending(t *testing.T, requirementID, applicantID string) string {
	t.Helper()
	application, err := env.service.SubmitApplication(context.Background(), SubmitApplicationInput{
		RequirementID: requirementID,
		ApplicantID:   applicantID,
	})
	if err != nil {
		t.Fatalf("submit application: %v", err)
	}
	return application.ID
}

func TestCreateCollaboration(t *testing.T) {
	t.Run("creates a draft with requirements", func(t *testing.T) {
		env := newTestEnv(t)
		view := env.createCollaboration(t, "creator-1", 2)

		if view.Collaboration.Status != domain.StatusDraft {
			t.Errorf("status = %s, want DRAFT", domain.StatusLabel(view.Collaboration.Status))
		}
		if len(view.Requirements) != 1 {
			t.Fatalf("requirements = %d, want 1", len(view.Requirements))
		}
		if view.Requirements[0].QuantityNeeded != 2 || view.Requirements[0].QuantityFilled != 0 {
			t.Errorf("requirement slots = %d/%d, want 0/2",
				view.Requirements[0].QuantityFilled, view.Requirements[0].QuantityNeeded)
		}
		if view.Requirements[0].IsOpen {
			t.Error("draft requirement reported open")
		}
		if env.sink.countOf(event.TypeCollaborationCreated) != 1 {
			t.Error("expected collaboration.created event")
		}
	})

	t.Run("rejects empty title", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.CreateCollaboration(context.Background(), CreateCollaborationInput{
			CreatorID: "creator-1",
		})
		if !apperrors.IsCode(err, apperrors.CodeCollabTitleEmpty) {
			t.Fatalf("error = %v, want code %s", err, apperrors.CodeCollabTitleEmpty)
		}
	})

	t.Run("rejects invalid requirement quantity", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.CreateCollaboration(context.Background(), CreateCollaborationInput{
			CreatorID:    "creator-1",
			Title:        "Zine anthology",
			Requirements: []RequirementInput{{Role: "illustrator", QuantityNeeded: 0}},
		})
		if !apperrors.IsCode(err, apperrors.CodeRequirementInvalidQuantity) {
			t.Fatalf("error = %v, want code %s", err, apperrors.CodeRequirementInvalidQuantity)
		}
	})
}

func TestPublishCollaboration(t *testing.T) {
	t.Run("moves draft to open", func(t *testing.T) {
		env := newTestEnv(t)
		view := env.createCollaboration(t, "creator-1", 1)

		published, err := env.service.PublishCollaboration(context.Background(), PublishCollaborationInput{
			CollaborationID: view.Collaboration.ID,
			CallerID:        "creator-1",
		})
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		if published.Collaboration.Status != domain.StatusOpen {
			t.Errorf("status = %s, want OPEN", domain.StatusLabel(published.Collaboration.Status))
		}
		if !published.Requirements[0].IsOpen {
			t.Error("open requirement reported closed")
		}
		if env.sink.countOf(event.TypeCollaborationPublished) != 1 {
			t.Error("expected collaboration.published event")
		}
	})

	t.Run("requires at least one requirement", func(t *testing.T) {
		env := newTestEnv(t)
		view, err := env.service.CreateCollaboration(context.Background(), CreateCollaborationInput{
			CreatorID: "creator-1",
			Title:     "Solo zine",
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		_, err = env.service.PublishCollaboration(context.Background(), PublishCollaborationInput{
			CollaborationID: view.Collaboration.ID,
			CallerID:        "creator-1",
		})
		if !apperrors.IsCode(err, apperrors.CodeCollabNoRequirements) {
			t.Fatalf("error = %v, want code %s", err, apperrors.CodeCollabNoRequirements)
		}
	})

	t.Run("rejects non-creator", func(t *testing.T) {
		env := newTestEnv(t)
		view := env.createCollaboration(t, "creator-1", 1)
		_, err := env.service.PublishCollaboration(context.Background(), PublishCollaborationInput{
			CollaborationID: view.Collaboration.ID,
			CallerID:        "stranger",
		})
		if !apperrors.IsCode(err, apperrors.CodeCollabCallerNotCreator) {
			t.Fatalf("error = %v, want code %s", err, apperrors.CodeCollabCallerNotCreator)
		}
	})

	t.Run("rejects double publish", func(t *testing.T) {
		env := newTestEnv(t)
		collaborationID, _ := env.openCollaboration(t, "creator-1", 1)
		_, err := env.service.PublishCollaboration(context.Background(), PublishCollaborationInput{
			CollaborationID: collaborationID,
			CallerID:        "creator-1",
		})
		if !apperrors.IsCode(err, apperrors.CodeCollabInvalidStatusTransition) {
			t.Fatalf("error = %v, want code %s", err, apperrors.CodeCollabInvalidStatusTransition)
		}
	})
}

func TestCompleteCollaboration(t *testing.T) {
	env := newTestEnv(t)
	collaborationID, requirementID := env.openCollaboration(t, "creator-1", 1)

	// Completing an Open collaboration is not allowed; it must be in progress.
	_, err := env.service.CompleteCollaboration(context.Background(), CompleteCollaborationInput{
		CollaborationID: collaborationID,
		CallerID:        "creator-1",
	})
	if !apperrors.IsCode(err, apperrors.CodeCollabInvalidStatusTransition) {
		t.Fatalf("error = %v, want code %s", err, apperrors.CodeCollabInvalidStatusTransition)
	}

	applicationID := env.submitPending(t, requirementID, "user-2")
	if _, err := env.service.ReviewApplication(context.Background(), ReviewApplicationInput{
		ApplicationID: applicationID,
		CallerID:      "creator-1",
		Action:        domain.ActionAccept,
	}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	view, err := env.service.CompleteCollaboration(context.Background(), CompleteCollaborationInput{
		CollaborationID: collaborationID,
		CallerID:        "creator-1",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if view.Collaboration.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", domain.StatusLabel(view.Collaboration.Status))
	}
	if env.sink.countOf(event.TypeCollaborationCompleted) != 1 {
		t.Error("expected collaboration.completed event")
	}
}

func TestCancelCollaboration(t *testing.T) {
	t.Run("sweeps live applications and releases slots", func(t *testing.T) {
		env := newTestEnv(t)
		collaborationID, requirementID := env.openCollaboration(t, "creator-1", 2)

		acceptedID := env.submitPending(t, requirementID, "user-2")
		if _, err := env.service.ReviewApplication(context.Background(), ReviewApplicationInput{
			ApplicationID: acceptedID,
			CallerID:      "creator-1",
			Action:        domain.ActionAccept,
		}); err != nil {
			t.Fatalf("accept: %v", err)
		}
		pendingID := env.submitPending(t, requirementID, "user-3")

		view, err := env.service.CancelCollaboration(context.Background(), CancelCollaborationInput{
			CollaborationID: collaborationID,
			CallerID:        "creator-1",
		})
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if view.Collaboration.Status != domain.StatusCancelled {
			t.Errorf("status = %s, want CANCELLED", domain.StatusLabel(view.Collaboration.Status))
		}

		accepted, err := env.store.GetApplication(context.Background(), acceptedID)
		if err != nil {
			t.Fatalf("get accepted: %v", err)
		}
		if accepted.Status != domain.ApplicationStatusWithdrawn {
			t.Errorf("accepted application status = %s, want WITHDRAWN", domain.ApplicationStatusLabel(accepted.Status))
		}
		pending, err := env.store.GetApplication(context.Background(), pendingID)
		if err != nil {
			t.Fatalf("get pending: %v", err)
		}
		if pending.Status != domain.ApplicationStatusRejected {
			t.Errorf("pending application status = %s, want REJECTED", domain.ApplicationStatusLabel(pending.Status))
		}

		requirement, err := env.store.GetRequirement(context.Background(), requirementID)
		if err != nil {
			t.Fatalf("get requirement: %v", err)
		}
		if requirement.QuantityFilled != 0 {
			t.Errorf("quantity filled = %d, want 0 after release", requirement.QuantityFilled)
		}
		if env.sink.countOf(event.TypeCollaborationCancelled) != 1 {
			t.Errorf("collaboration.cancelled events = %d, want 1",
				env.sink.countOf(event.TypeCollaborationCancelled))
		}
	})

	t.Run("withdraws an application accepted during the sweep", func(t *testing.T) {
		env := newTestEnv(t)
		collaborationID, requirementID := env.openCollaboration(t, "creator-1", 1)
		applicationID := env.submitPending(t, requirementID, "user-2")

		// A concurrent accept that passed its checks before the cancel commit
		// lands between the sweep's listing and its guarded reject. The stale
		// reject must not strand the accepted application with its slot.
		promoted := false
		env.store.beforeUpdateApplicationStatus = func(id string, _, to domain.ApplicationStatus) {
			if promoted || id != applicationID || to != domain.ApplicationStatusRejected {
				return
			}
			promoted = true
			claimed, err := env.store.ClaimSlot(context.Background(), storage.SlotClaim{
				Token:         "claim-race",
				RequirementID: requirementID,
				ApplicationID: applicationID,
				CreatedAt:     env.now,
			})
			if err != nil || !claimed {
				t.Fatalf("claim slot: claimed=%v err=%v", claimed, err)
			}
			if err := env.store.UpdateApplicationStatus(context.Background(), applicationID,
				domain.ApplicationStatusPending, domain.ApplicationStatusAccepted, &env.now, env.now); err != nil {
				t.Fatalf("promote application: %v", err)
			}
		}

		if _, err := env.service.CancelCollaboration(context.Background(), CancelCollaborationInput{
			CollaborationID: collaborationID,
			CallerID:        "creator-1",
		}); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if !promoted {
			t.Fatal("sweep never attempted the pending reject")
		}

		application, err := env.store.GetApplication(context.Background(), applicationID)
		if err != nil {
			t.Fatalf("get application: %v", err)
		}
		if application.Status != domain.ApplicationStatusWithdrawn {
			t.Errorf("application status = %s, want WITHDRAWN", domain.ApplicationStatusLabel(application.Status))
		}
		requirement, err := env.store.GetRequirement(context.Background(), requirementID)
		if err != nil {
			t.Fatalf("get requirement: %v", err)
		}
		if requirement.QuantityFilled != 0 {
			t.Errorf("quantity filled = %d, want 0 after release", requirement.QuantityFilled)
		}
		if got := env.store.claimCount(); got != 0 {
			t.Errorf("claim rows = %d, want 0", got)
		}
	})

	t.Run("rejects cancelling a completed collaboration", func(t *testing.T) {
		env := newTestEnv(t)
		collaborationID, requirementID := env.openCollaboration(t, "creator-1", 1)
		applicationID := env.submitPending(t, requirementID, "user-2")
		if _, err := env.service.ReviewApplication(context.Background(), ReviewApplicationInput{
			ApplicationID: applicationID,
			CallerID:      "creator-1",
			Action:        domain.ActionAccept,
		}); err != nil {
			t.Fatalf("accept: %v", err)
		}
		if _, err := env.service.CompleteCollaboration(context.Background(), CompleteCollaborationInput{
			CollaborationID: collaborationID,
			CallerID:        "creator-1",
		}); err != nil {
			t.Fatalf("complete: %v", err)
		}

		_, err := env.service.CancelCollaboration(context.Background(), CancelCollaborationInput{
			CollaborationID: collaborationID,
			CallerID:        "creator-1",
		})
		if !apperrors.IsCode(err, apperrors.CodeCollabInvalidStatusTransition) {
			t.Fatalf("error = %v, want code %s", err, apperrors.CodeCollabInvalidStatusTransition)
		}
	})
}

func TestCollaborationIdempotency(t *testing.T) {
	t.Run("create replays the original collaboration", func(t *testing.T) {
		env := newTestEnv(t)
		input := CreateCollaborationInput{
			CreatorID:    "creator-1",
			Title:        "Indie game soundtrack",
			Requirements: []RequirementInput{{Role: "composer", QuantityNeeded: 1}},
			RequestID:    "req-create-1",
		}
		first, err := env.service.CreateCollaboration(context.Background(), input)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		retry, err := env.service.CreateCollaboration(context.Background(), input)
		if err != nil {
			t.Fatalf("retry: %v", err)
		}
		if retry.Collaboration.ID != first.Collaboration.ID {
			t.Errorf("retry created %s, want original %s", retry.Collaboration.ID, first.Collaboration.ID)
		}

		page, err := env.service.ListCollaborations(context.Background(), ListCollaborationsInput{
			CreatorID: "creator-1",
			PageSize:  10,
		})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(page.Collaborations) != 1 {
			t.Fatalf("collaborations = %d, want 1", len(page.Collaborations))
		}
		if env.sink.countOf(event.TypeCollaborationCreated) != 1 {
			t.Error("retry emitted a second created event")
		}
	})

	t.Run("publish replay does not repeat the transition", func(t *testing.T) {
		env := newTestEnv(t)
		view := env.createCollaboration(t, "creator-1", 1)
		input := PublishCollaborationInput{
			CollaborationID: view.Collaboration.ID,
			CallerID:        "creator-1",
			RequestID:       "req-publish-1",
		}
		if _, err := env.service.PublishCollaboration(context.Background(), input); err != nil {
			t.Fatalf("publish: %v", err)
		}
		replayed, err := env.service.PublishCollaboration(context.Background(), input)
		if err != nil {
			t.Fatalf("replayed publish: %v", err)
		}
		if replayed.Collaboration.Status != domain.StatusOpen {
			t.Errorf("status = %s, want OPEN", domain.StatusLabel(replayed.Collaboration.Status))
		}
		if env.sink.countOf(event.TypeCollaborationPublished) != 1 {
			t.Error("retry emitted a second published event")
		}
	})

	t.Run("cancel replay does not repeat the cascade", func(t *testing.T) {
		env := newTestEnv(t)
		collaborationID, requirementID := env.openCollaboration(t, "creator-1", 1)
		env.submitPending(t, requirementID, "user-2")

		input := CancelCollaborationInput{
			CollaborationID: collaborationID,
			CallerID:        "creator-1",
			RequestID:       "req-cancel-1",
		}
		if _, err := env.service.CancelCollaboration(context.Background(), input); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		replayed, err := env.service.CancelCollaboration(context.Background(), input)
		if err != nil {
			t.Fatalf("replayed cancel: %v", err)
		}
		if replayed.Collaboration.Status != domain.StatusCancelled {
			t.Errorf("status = %s, want CANCELLED", domain.StatusLabel(replayed.Collaboration.Status))
		}
		if env.sink.countOf(event.TypeApplicationRejected) != 1 {
			t.Error("retry swept the applications again")
		}
		if env.sink.countOf(event.TypeCollaborationCancelled) != 1 {
			t.Error("retry emitted a second cancelled event")
		}
	})

	t.Run("rejects a request id reused across operations", func(t *testing.T) {
		env := newTestEnv(t)
		view, err := env.service.CreateCollaboration(context.Background(), CreateCollaborationInput{
			CreatorID:    "creator-1",
			Title:        "Zine anthology",
			Requirements: []RequirementInput{{Role: "illustrator", QuantityNeeded: 1}},
			RequestID:    "req-shared",
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		_, err = env.service.CancelCollaboration(context.Background(), CancelCollaborationInput{
			CollaborationID: view.Collaboration.ID,
			CallerID:        "creator-1",
			RequestID:       "req-shared",
		})
		if !apperrors.IsCode(err, apperrors.CodeRequestIDReused) {
			t.Fatalf("error = %v, want code %s", err, apperrors.CodeRequestIDReused)
		}
	})
}

func TestAddRequirement(t *testing.T) {
	env := newTestEnv(t)
	collaborationID, _ := env.openCollaboration(t, "creator-1", 1)

	view, err := env.service.AddRequirement(context.Background(), AddRequirementInput{
		CollaborationID: collaborationID,
		CallerID:        "creator-1",
		Role:            "narrative designer",
		QuantityNeeded:  1,
	})
	if err != nil {
		t.Fatalf("add requirement: %v", err)
	}
	if !view.IsOpen {
		t.Error("new requirement on open collaboration reported closed")
	}

	// Requirement edits stop once the collaboration is in progress.
	applicationID := env.submitPending(t, view.ID, "user-2")
	if _, err := env.service.ReviewApplication(context.Background(), ReviewApplicationInput{
		ApplicationID: applicationID,
		CallerID:      "creator-1",
		Action:        domain.ActionAccept,
	}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, err = env.service.AddRequirement(context.Background(), AddRequirementInput{
		CollaborationID: collaborationID,
		CallerID:        "creator-1",
		Role:            "late addition",
		QuantityNeeded:  1,
	})
	if !apperrors.IsCode(err, apperrors.CodeCollabClosed) {
		t.Fatalf("error = %v, want code %s", err, apperrors.CodeCollabClosed)
	}
}

func TestRemoveRequirement(t *testing.T) {
	env := newTestEnv(t)
	view := env.createCollaboration(t, "creator-1", 1)
	collaborationID := view.Collaboration.ID
	requirementID := view.Requirements[0].ID

	extra, err := env.service.AddRequirement(context.Background(), AddRequirementInput{
		CollaborationID: collaborationID,
		CallerID:        "creator-1",
		Role:            "mixer",
		QuantityNeeded:  1,
	})
	if err != nil {
		t.Fatalf("add requirement: %v", err)
	}

	if err := env.service.RemoveRequirement(context.Background(), RemoveRequirementInput{
		RequirementID: extra.ID,
		CallerID:      "creator-1",
	}); err != nil {
		t.Fatalf("remove requirement: %v", err)
	}

	// A requirement with a pending application cannot be removed.
	if _, err := env.service.PublishCollaboration(context.Background(), PublishCollaborationInput{
		CollaborationID: collaborationID,
		CallerID:        "creator-1",
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	env.submitPending(t, requirementID, "user-2")
	err = env.service.RemoveRequirement(context.Background(), RemoveRequirementInput{
		RequirementID: requirementID,
		CallerID:      "creator-1",
	})
	if !apperrors.IsCode(err, apperrors.CodeRequirementInUse) {
		t.Fatalf("error = %v, want code %s", err, apperrors.CodeRequirementInUse)
	}
}

func TestListCollaborations(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.createCollaboration(t, "creator-1", 1)
	}
	env.createCollaboration(t, "creator-2", 1)

	page, err := env.service.ListCollaborations(context.Background(), ListCollaborationsInput{
		CreatorID: "creator-1",
		PageSize:  2,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Collaborations) != 2 {
		t.Fatalf("first page size = %d, want 2", len(page.Collaborations))
	}
	if page.NextPageToken == "" {
		t.Fatal("expected next page token")
	}

	rest, err := env.service.ListCollaborations(context.Background(), ListCollaborationsInput{
		CreatorID: "creator-1",
		PageSize:  2,
		PageToken: page.NextPageToken,
	})
	if err != nil {
		t.Fatalf("list rest: %v", err)
	}
	if len(rest.Collaborations) != 1 {
		t.Fatalf("second page size = %d, want 1", len(rest.Collaborations))
	}
	if rest.NextPageToken != "" {
		t.Errorf("unexpected next page token %q", rest.NextPageToken)
	}
}
