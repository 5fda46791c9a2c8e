// Package ledger owns the authoritative slot counts for requirements.
//
// The ledger is the only writer of a requirement's quantity_filled. Claims
// and releases for the same requirement are serialized by a per-requirement
// mutex, and the store's conditional update acts as a second fence, so the
// invariant 0 <= quantity_filled <= quantity_needed holds under arbitrary
// concurrent operations. Unrelated requirements proceed fully in parallel.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/atelier.space/internal/platform/errors"
	"github.com/louisbranch/atelier.space/internal/platform/id"
	"github.com/louisbranch/atelier.space/internal/services/collab/domain"
	"github.com/louisbranch/atelier.space/internal/services/collab/storage"
)

// ErrStoreNotConfigured indicates the ledger is missing persistence wiring.
var ErrStoreNotConfigured = errors.New("ledger store is not configured")

// Store is the ledger persistence boundary.
type Store interface {
	ClaimSlot(ctx context.Context, claim storage.SlotClaim) (bool, error)
	ReleaseSlot(ctx context.Context, requirementID, applicationID string, releasedAt time.Time) error
	ListOrphanedClaims(ctx context.Context, cutoff time.Time) ([]storage.SlotClaim, error)
	GetRequirement(ctx context.Context, id string) (domain.Requirement, error)
}

// ClaimToken identifies one slot reservation.
type ClaimToken string

// Snapshot is a consistent read of a requirement's fill state. It may be
// slightly stale relative to in-flight claims but never reflects a state
// that violates the slot invariant.
type Snapshot struct {
	QuantityNeeded int
	QuantityFilled int
	IsOpen         bool
}

// Ledger serializes slot claims and releases per requirement.
type Ledger struct {
	store Store
	clock func() time.Time
	newID func() (string, error)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Ledger backed by the given store.
func New(store Store, clock func() time.Time, newID func() (string, error)) *Ledger {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	return &Ledger{
		store: store,
		clock: clock,
		newID: newID,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the serialization unit for one requirement. Locks are
// created on first use and retained for the life of the process.
func (l *Ledger) lockFor(requirementID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[requirementID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[requirementID] = lock
	}
	return lock
}

// TryClaimSlot atomically reserves one slot for an application. When the
// requirement is full it returns a REQUIREMENT_SLOTS_FULL error carrying the
// current fill counts and no state changes. Two concurrent claims racing for
// the last slot resolve to exactly one success.
func (l *Ledger) TryClaimSlot(ctx context.Context, requirementID, applicationID string) (ClaimToken, error) {
	if l == nil || l.store == nil {
		return "", ErrStoreNotConfigured
	}
	requirementID = strings.TrimSpace(requirementID)
	if requirementID == "" {
		return "", domain.ErrEmptyRequirementID
	}
	applicationID = strings.TrimSpace(applicationID)
	if applicationID == "" {
		return "", fmt.Errorf("application id is required")
	}

	token, err := l.newID()
	if err != nil {
		return "", fmt.Errorf("generate claim token: %w", err)
	}

	lock := l.lockFor(requirementID)
	lock.Lock()
	defer lock.Unlock()

	claimed, err := l.store.ClaimSlot(ctx, storage.SlotClaim{
		Token:         token,
		RequirementID: requirementID,
		ApplicationID: applicationID,
		CreatedAt:     l.clock().UTC(),
	})
	if err != nil {
		return "", err
	}
	if !claimed {
		return "", l.slotsFullError(ctx, requirementID)
	}
	return ClaimToken(token), nil
}

// ReleaseSlot returns an application's claimed slot to the requirement.
// Releasing when no slot is filled fails with REQUIREMENT_NO_FILLED_SLOTS;
// releasing an application that holds no claim returns storage.ErrNotFound.
func (l *Ledger) ReleaseSlot(ctx context.Context, requirementID, applicationID string) error {
	if l == nil || l.store == nil {
		return ErrStoreNotConfigured
	}
	requirementID = strings.TrimSpace(requirementID)
	if requirementID == "" {
		return domain.ErrEmptyRequirementID
	}
	applicationID = strings.TrimSpace(applicationID)
	if applicationID == "" {
		return fmt.Errorf("application id is required")
	}

	lock := l.lockFor(requirementID)
	lock.Lock()
	defer lock.Unlock()

	err := l.store.ReleaseSlot(ctx, requirementID, applicationID, l.clock().UTC())
	if errors.Is(err, storage.ErrNoFilledSlots) {
		return apperrors.WithMetadata(
			apperrors.CodeRequirementNoFilledSlots,
			"requirement has no filled slots to release",
			map[string]string{"RequirementID": requirementID},
		)
	}
	return err
}

// Snapshot returns the requirement's current fill state.
func (l *Ledger) Snapshot(ctx context.Context, requirementID string) (Snapshot, error) {
	if l == nil || l.store == nil {
		return Snapshot{}, ErrStoreNotConfigured
	}
	requirement, err := l.store.GetRequirement(ctx, requirementID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		QuantityNeeded: requirement.QuantityNeeded,
		QuantityFilled: requirement.QuantityFilled,
		IsOpen:         requirement.QuantityFilled < requirement.QuantityNeeded,
	}, nil
}

// ReleaseOrphanedClaims releases claims older than the grace window whose
// application never committed to Accepted (crash between the claim and the
// application status write). Returns the number of claims released.
func (l *Ledger) ReleaseOrphanedClaims(ctx context.Context, grace time.Duration) (int, error) {
	if l == nil || l.store == nil {
		return 0, ErrStoreNotConfigured
	}
	cutoff := l.clock().UTC().Add(-grace)
	claims, err := l.store.ListOrphanedClaims(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, claim := range claims {
		err := l.ReleaseSlot(ctx, claim.RequirementID, claim.ApplicationID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// Released concurrently; nothing leaked.
				continue
			}
			return released, fmt.Errorf("release orphaned claim %s: %w", claim.Token, err)
		}
		released++
	}
	return released, nil
}

func (l *Ledger) slotsFullError(ctx context.Context, requirementID string) error {
	metadata := map[string]string{"RequirementID": requirementID}
	if requirement, err := l.store.GetRequirement(ctx, requirementID); err == nil {
		metadata["QuantityNeeded"] = strconv.Itoa(requirement.QuantityNeeded)
		metadata["QuantityFilled"] = strconv.Itoa(requirement.QuantityFilled)
	}
	return apperrors.WithMetadata(
		apperrors.CodeRequirementSlotsFull,
		"requirement has no open slots",
		metadata,
	)
}
