package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/louisbranch/atelier.space/internal/services/collab/domain"
	"github.com/louisbranch/atelier.space/internal/services/collab/event"
	"github.com/louisbranch/atelier.space/internal/services/collab/storage"
)

// memStore is an in-memory implementation of the service and ledger storage
// contracts, mirroring the sqlite store's conditional-write semantics.
type memStore struct {
	mu             sync.Mutex
	collaborations map[string]domain.Collaboration
	requirements   map[string]domain.Requirement
	applications   map[string]domain.Application
	claims         map[string]storage.SlotClaim
	records        map[string]storage.IdempotencyRecord

	// Interleaving hooks, invoked before the store takes its lock so a hook
	// can issue store calls of its own. Tests use them to land a concurrent
	// write at a precise point inside an operation.
	beforeUpdateApplicationStatus func(id string, from, to domain.ApplicationStatus)
	beforePutApplication          func()
	beforeClaimSlot               func()
}

func newMemStore() *memStore {
	return &memStore{
		collaborations: make(map[string]domain.Collaboration),
		requirements:   make(map[string]domain.Requirement),
		applications:   make(map[string]domain.Application),
		claims:         make(map[string]storage.SlotClaim),
		records:        make(map[string]storage.IdempotencyRecord),
	}
}

func (m *memStore) PutCollaboration(_ context.Context, collaboration domain.Collaboration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collaborations[collaboration.ID] = collaboration
	return nil
}

func (m *memStore) GetCollaboration(_ context.Context, id string) (domain.Collaboration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	collaboration, ok := m.collaborations[id]
	if !ok {
		return domain.Collaboration{}, storage.ErrNotFound
	}
	return collaboration, nil
}

func (m *memStore) UpdateCollaborationStatus(_ context.Context, id string, from, to domain.Status, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	collaboration, ok := m.collaborations[id]
	if !ok {
		return storage.ErrNotFound
	}
	if collaboration.Status != from {
		return storage.ErrStaleWrite
	}
	collaboration.Status = to
	collaboration.UpdatedAt = updatedAt
	m.collaborations[id] = collaboration
	return nil
}

func (m *memStore) ListCollaborationsByCreator(_ context.Context, creatorID string, pageSize int, pageToken string) (storage.CollaborationPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.Collaboration
	for _, collaboration := range m.collaborations {
		if collaboration.CreatorID == creatorID && collaboration.ID > pageToken {
			all = append(all, collaboration)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	page := storage.CollaborationPage{}
	for _, collaboration := range all {
		if len(page.Collaborations) == pageSize {
			page.NextPageToken = page.Collaborations[pageSize-1].ID
			break
		}
		page.Collaborations = append(page.Collaborations, collaboration)
	}
	return page, nil
}

func (m *memStore) PutRequirement(_ context.Context, requirement domain.Requirement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requirements[requirement.ID] = requirement
	return nil
}

func (m *memStore) GetRequirement(_ context.Context, id string) (domain.Requirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	requirement, ok := m.requirements[id]
	if !ok {
		return domain.Requirement{}, storage.ErrNotFound
	}
	return requirement, nil
}

func (m *memStore) ListRequirements(_ context.Context, collaborationID string) ([]domain.Requirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var requirements []domain.Requirement
	for _, requirement := range m.requirements {
		if requirement.CollaborationID == collaborationID {
			requirements = append(requirements, requirement)
		}
	}
	sort.Slice(requirements, func(i, j int) bool {
		if requirements[i].CreatedAt.Equal(requirements[j].CreatedAt) {
			return requirements[i].ID < requirements[j].ID
		}
		return requirements[i].CreatedAt.Before(requirements[j].CreatedAt)
	})
	return requirements, nil
}

func (m *memStore) DeleteRequirement(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	requirement, ok := m.requirements[id]
	if !ok {
		return storage.ErrNotFound
	}
	if requirement.QuantityFilled > 0 {
		return storage.ErrConflict
	}
	for _, application := range m.applications {
		if application.RequirementID == id && application.Status == domain.ApplicationStatusPending {
			return storage.ErrConflict
		}
	}
	delete(m.requirements, id)
	return nil
}

func (m *memStore) PutApplication(_ context.Context, application domain.Application) error {
	if m.beforePutApplication != nil {
		m.beforePutApplication()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.applications {
		if existing.RequirementID == application.RequirementID &&
			existing.ApplicantID == application.ApplicantID &&
			(existing.Status == domain.ApplicationStatusPending || existing.Status == domain.ApplicationStatusAccepted) {
			return storage.ErrConflict
		}
	}
	m.applications[application.ID] = application
	return nil
}

func (m *memStore) GetApplication(_ context.Context, id string) (domain.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	application, ok := m.applications[id]
	if !ok {
		return domain.Application{}, storage.ErrNotFound
	}
	return application, nil
}

func (m *memStore) GetActiveApplication(_ context.Context, requirementID, applicantID string) (domain.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, application := range m.applications {
		if application.RequirementID == requirementID &&
			application.ApplicantID == applicantID &&
			(application.Status == domain.ApplicationStatusPending || application.Status == domain.ApplicationStatusAccepted) {
			return application, nil
		}
	}
	return domain.Application{}, storage.ErrNotFound
}

func (m *memStore) UpdateApplicationStatus(_ context.Context, id string, from, to domain.ApplicationStatus, decidedAt *time.Time, updatedAt time.Time) error {
	if m.beforeUpdateApplicationStatus != nil {
		m.beforeUpdateApplicationStatus(id, from, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	application, ok := m.applications[id]
	if !ok {
		return storage.ErrNotFound
	}
	if application.Status != from {
		return storage.ErrStaleWrite
	}
	application.Status = to
	if decidedAt != nil {
		decided := *decidedAt
		application.DecidedAt = &decided
	}
	application.UpdatedAt = updatedAt
	m.applications[id] = application
	return nil
}

func (m *memStore) ListApplicationsByRequirement(_ context.Context, requirementID string, pageSize int, pageToken string) (storage.ApplicationPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.Application
	for _, application := range m.applications {
		if application.RequirementID == requirementID && application.ID > pageToken {
			all = append(all, application)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	page := storage.ApplicationPage{}
	for _, application := range all {
		if len(page.Applications) == pageSize {
			page.NextPageToken = page.Applications[pageSize-1].ID
			break
		}
		page.Applications = append(page.Applications, application)
	}
	return page, nil
}

func (m *memStore) ListApplicationsByCollaboration(_ context.Context, collaborationID string, statuses []domain.ApplicationStatus) ([]domain.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[domain.ApplicationStatus]bool, len(statuses))
	for _, status := range statuses {
		wanted[status] = true
	}
	var applications []domain.Application
	for _, application := range m.applications {
		if application.CollaborationID == collaborationID && wanted[application.Status] {
			applications = append(applications, application)
		}
	}
	sort.Slice(applications, func(i, j int) bool { return applications[i].ID < applications[j].ID })
	return applications, nil
}

func (m *memStore) ClaimSlot(_ context.Context, claim storage.SlotClaim) (bool, error) {
	if m.beforeClaimSlot != nil {
		m.beforeClaimSlot()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	requirement, ok := m.requirements[claim.RequirementID]
	if !ok {
		return false, storage.ErrNotFound
	}
	if requirement.QuantityFilled >= requirement.QuantityNeeded {
		return false, nil
	}
	requirement.QuantityFilled++
	requirement.UpdatedAt = claim.CreatedAt
	m.requirements[claim.RequirementID] = requirement
	m.claims[claim.ApplicationID] = claim
	return true, nil
}

func (m *memStore) ReleaseSlot(_ context.Context, requirementID, applicationID string, releasedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[applicationID]; !ok {
		return storage.ErrNotFound
	}
	delete(m.claims, applicationID)
	requirement, ok := m.requirements[requirementID]
	if !ok {
		return storage.ErrNotFound
	}
	if requirement.QuantityFilled == 0 {
		return storage.ErrNoFilledSlots
	}
	requirement.QuantityFilled--
	requirement.UpdatedAt = releasedAt
	m.requirements[requirementID] = requirement
	return nil
}

func (m *memStore) ListOrphanedClaims(_ context.Context, cutoff time.Time) ([]storage.SlotClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var claims []storage.SlotClaim
	for _, claim := range m.claims {
		application, ok := m.applications[claim.ApplicationID]
		if ok && application.Status == domain.ApplicationStatusAccepted {
			continue
		}
		if claim.CreatedAt.Before(cutoff) {
			claims = append(claims, claim)
		}
	}
	return claims, nil
}

func (m *memStore) claimCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.claims)
}

func (m *memStore) GetIdempotencyRecord(_ context.Context, requestID string) (storage.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[requestID]
	if !ok {
		return storage.IdempotencyRecord{}, storage.ErrNotFound
	}
	return record, nil
}

func (m *memStore) PutIdempotencyRecord(_ context.Context, record storage.IdempotencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.RequestID]; ok {
		return storage.ErrConflict
	}
	m.records[record.RequestID] = record
	return nil
}

// recordingSink captures emitted events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recordingSink) Emit(_ context.Context, ev event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) typesSeen() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]event.Type, 0, len(r.events))
	for _, ev := range r.events {
		types = append(types, ev.Type)
	}
	return types
}

func (r *recordingSink) countOf(eventType event.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, ev := range r.events {
		if ev.Type == eventType {
			count++
		}
	}
	return count
}

// sequenceIDs returns a deterministic, concurrency-safe ID generator.
func sequenceIDs(prefix string) func() (string, error) {
	var mu sync.Mutex
	next := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("%s-%d", prefix, next), nil
	}
}
