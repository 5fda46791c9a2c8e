package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/atelier.space/internal/services/collab/domain"
	"github.com/louisbranch/atelier.space/internal/services/collab/storage"
)

// ClaimSlot atomically increments quantity_filled when capacity remains and
// records the claim row, in one transaction. Returns false with no mutation
// when the requirement is full.
func (s *Store) ClaimSlot(ctx context.Context, claim storage.SlotClaim) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	token := strings.TrimSpace(claim.Token)
	requirementID := strings.TrimSpace(claim.RequirementID)
	applicationID := strings.TrimSpace(claim.ApplicationID)
	if token == "" || requirementID == "" || applicationID == "" {
		return false, fmt.Errorf("claim token, requirement id, and application id are required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin claim slot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(
		ctx,
		`UPDATE requirements
		    SET quantity_filled = quantity_filled + 1, updated_at = ?
		  WHERE id = ? AND quantity_filled < quantity_needed`,
		toMillis(claim.CreatedAt),
		requirementID,
	)
	if err != nil {
		return false, fmt.Errorf("claim slot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim slot: %w", err)
	}
	if affected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM requirements WHERE id = ?`, requirementID).Scan(&exists)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return false, storage.ErrNotFound
			}
			return false, fmt.Errorf("claim slot: %w", err)
		}
		return false, nil
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO slot_claims (token, requirement_id, application_id, created_at)
		 VALUES (?, ?, ?, ?)`,
		token,
		requirementID,
		applicationID,
		toMillis(claim.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, storage.ErrConflict
		}
		return false, fmt.Errorf("record slot claim: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit claim slot: %w", err)
	}
	return true, nil
}

// ReleaseSlot removes the claim held for an application and decrements
// quantity_filled, in one transaction.
func (s *Store) ReleaseSlot(ctx context.Context, requirementID, applicationID string, releasedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	requirementID = strings.TrimSpace(requirementID)
	applicationID = strings.TrimSpace(applicationID)
	if requirementID == "" || applicationID == "" {
		return fmt.Errorf("requirement id and application id are required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin release slot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(
		ctx,
		`DELETE FROM slot_claims WHERE requirement_id = ? AND application_id = ?`,
		requirementID,
		applicationID,
	)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	result, err = tx.ExecContext(
		ctx,
		`UPDATE requirements
		    SET quantity_filled = quantity_filled - 1, updated_at = ?
		  WHERE id = ? AND quantity_filled > 0`,
		toMillis(releasedAt),
		requirementID,
	)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	affected, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	if affected == 0 {
		return storage.ErrNoFilledSlots
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit release slot: %w", err)
	}
	return nil
}

// ListOrphanedClaims returns claims created before the cutoff whose
// application never reached Accepted.
func (s *Store) ListOrphanedClaims(ctx context.Context, cutoff time.Time) ([]storage.SlotClaim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT c.token, c.requirement_id, c.application_id, c.created_at
		   FROM slot_claims c
		   JOIN applications a ON a.id = c.application_id
		  WHERE a.status != ? AND c.created_at < ?
		  ORDER BY c.created_at ASC`,
		domain.ApplicationStatusLabel(domain.ApplicationStatusAccepted),
		toMillis(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("list orphaned claims: %w", err)
	}
	defer rows.Close()

	var claims []storage.SlotClaim
	for rows.Next() {
		var claim storage.SlotClaim
		var createdAt int64
		if err := rows.Scan(&claim.Token, &claim.RequirementID, &claim.ApplicationID, &createdAt); err != nil {
			return nil, fmt.Errorf("list orphaned claims: %w", err)
		}
		claim.CreatedAt = fromMillis(createdAt)
		claims = append(claims, claim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orphaned claims: %w", err)
	}
	return claims, nil
}

// GetIdempotencyRecord returns the recorded outcome for a request ID.
func (s *Store) GetIdempotencyRecord(ctx context.Context, requestID string) (storage.IdempotencyRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.IdempotencyRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.IdempotencyRecord{}, fmt.Errorf("storage is not configured")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return storage.IdempotencyRecord{}, fmt.Errorf("request id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT request_id, operation, application_id, collaboration_id, outcome_code, created_at
		   FROM idempotency_records
		  WHERE request_id = ?`,
		requestID,
	)
	var record storage.IdempotencyRecord
	var createdAt int64
	err := row.Scan(&record.RequestID, &record.Operation, &record.ApplicationID, &record.CollaborationID, &record.OutcomeCode, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.IdempotencyRecord{}, storage.ErrNotFound
		}
		return storage.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

// PutIdempotencyRecord inserts one request outcome record.
func (s *Store) PutIdempotencyRecord(ctx context.Context, record storage.IdempotencyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	requestID := strings.TrimSpace(record.RequestID)
	if requestID == "" {
		return fmt.Errorf("request id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO idempotency_records (request_id, operation, application_id, collaboration_id, outcome_code, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		requestID,
		record.Operation,
		record.ApplicationID,
		record.CollaborationID,
		record.OutcomeCode,
		toMillis(record.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("put idempotency record: %w", err)
	}
	return nil
}
