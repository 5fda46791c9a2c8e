// Package sqlite provides a SQLite-backed collab storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/atelier.space/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/atelier.space/internal/services/collab/domain"
	"github.com/louisbranch/atelier.space/internal/services/collab/storage"
	"github.com/louisbranch/atelier.space/internal/services/collab/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists collab admission state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a collab SQLite store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutCollaboration inserts one collaboration record.
func (s *Store) PutCollaboration(ctx context.Context, collaboration domain.Collaboration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	collaborationID := strings.TrimSpace(collaboration.ID)
	if collaborationID == "" {
		return fmt.Errorf("collaboration id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO collaborations (
		   id, creator_id, title, description, status, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		collaborationID,
		collaboration.CreatorID,
		collaboration.Title,
		collaboration.Description,
		domain.StatusLabel(collaboration.Status),
		toMillis(collaboration.CreatedAt),
		toMillis(collaboration.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("put collaboration: %w", err)
	}
	return nil
}

// GetCollaboration returns one collaboration by ID.
func (s *Store) GetCollaboration(ctx context.Context, id string) (domain.Collaboration, error) {
	if err := ctx.Err(); err != nil {
		return domain.Collaboration{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Collaboration{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Collaboration{}, fmt.Errorf("collaboration id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, creator_id, title, description, status, created_at, updated_at
		   FROM collaborations
		  WHERE id = ?`,
		id,
	)
	return scanCollaboration(row)
}

// UpdateCollaborationStatus conditionally moves a collaboration between statuses.
func (s *Store) UpdateCollaborationStatus(ctx context.Context, id string, from, to domain.Status, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("collaboration id is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE collaborations
		    SET status = ?, updated_at = ?
		  WHERE id = ? AND status = ?`,
		domain.StatusLabel(to),
		toMillis(updatedAt),
		id,
		domain.StatusLabel(from),
	)
	if err != nil {
		return fmt.Errorf("update collaboration status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update collaboration status: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetCollaboration(ctx, id); getErr != nil {
			return getErr
		}
		return storage.ErrStaleWrite
	}
	return nil
}

// ListCollaborationsByCreator returns one page of a creator's collaborations.
func (s *Store) ListCollaborationsByCreator(ctx context.Context, creatorID string, pageSize int, pageToken string) (storage.CollaborationPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.CollaborationPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.CollaborationPage{}, fmt.Errorf("storage is not configured")
	}
	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return storage.CollaborationPage{}, fmt.Errorf("creator id is required")
	}
	if pageSize <= 0 {
		return storage.CollaborationPage{}, fmt.Errorf("page size must be greater than zero")
	}
	pageToken = strings.TrimSpace(pageToken)

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, creator_id, title, description, status, created_at, updated_at
		   FROM collaborations
		  WHERE creator_id = ? AND id > ?
		  ORDER BY id ASC
		  LIMIT ?`,
		creatorID,
		pageToken,
		pageSize+1,
	)
	if err != nil {
		return storage.CollaborationPage{}, fmt.Errorf("list collaborations: %w", err)
	}
	defer rows.Close()

	page := storage.CollaborationPage{
		Collaborations: make([]domain.Collaboration, 0, pageSize),
	}
	for rows.Next() {
		collaboration, err := scanCollaboration(rows)
		if err != nil {
			return storage.CollaborationPage{}, fmt.Errorf("list collaborations: %w", err)
		}
		page.Collaborations = append(page.Collaborations, collaboration)
	}
	if err := rows.Err(); err != nil {
		return storage.CollaborationPage{}, fmt.Errorf("list collaborations: %w", err)
	}
	if len(page.Collaborations) > pageSize {
		page.NextPageToken = page.Collaborations[pageSize-1].ID
		page.Collaborations = page.Collaborations[:pageSize]
	}
	return page, nil
}

// PutRequirement inserts one requirement record.
func (s *Store) PutRequirement(ctx context.Context, requirement domain.Requirement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	requirementID := strings.TrimSpace(requirement.ID)
	if requirementID == "" {
		return fmt.Errorf("requirement id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO requirements (
		   id, collaboration_id, role, quantity_needed, quantity_filled, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		requirementID,
		requirement.CollaborationID,
		requirement.Role,
		requirement.QuantityNeeded,
		requirement.QuantityFilled,
		toMillis(requirement.CreatedAt),
		toMillis(requirement.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("put requirement: %w", err)
	}
	return nil
}

// GetRequirement returns one requirement by ID.
func (s *Store) GetRequirement(ctx context.Context, id string) (domain.Requirement, error) {
	if err := ctx.Err(); err != nil {
		return domain.Requirement{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Requirement{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Requirement{}, fmt.Errorf("requirement id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, collaboration_id, role, quantity_needed, quantity_filled, created_at, updated_at
		   FROM requirements
		  WHERE id = ?`,
		id,
	)
	return scanRequirement(row)
}

// ListRequirements returns all requirements for a collaboration in creation order.
func (s *Store) ListRequirements(ctx context.Context, collaborationID string) ([]domain.Requirement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	collaborationID = strings.TrimSpace(collaborationID)
	if collaborationID == "" {
		return nil, fmt.Errorf("collaboration id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, collaboration_id, role, quantity_needed, quantity_filled, created_at, updated_at
		   FROM requirements
		  WHERE collaboration_id = ?
		  ORDER BY created_at ASC, id ASC`,
		collaborationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list requirements: %w", err)
	}
	defer rows.Close()

	var requirements []domain.Requirement
	for rows.Next() {
		requirement, err := scanRequirement(rows)
		if err != nil {
			return nil, fmt.Errorf("list requirements: %w", err)
		}
		requirements = append(requirements, requirement)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list requirements: %w", err)
	}
	return requirements, nil
}

// DeleteRequirement removes a requirement with no filled slots and no pending applications.
func (s *Store) DeleteRequirement(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("requirement id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete requirement: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var quantityFilled int
	err = tx.QueryRowContext(ctx, `SELECT quantity_filled FROM requirements WHERE id = ?`, id).Scan(&quantityFilled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("delete requirement: %w", err)
	}
	if quantityFilled > 0 {
		return storage.ErrConflict
	}

	var pending int
	err = tx.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM applications WHERE requirement_id = ? AND status = ?`,
		id,
		domain.ApplicationStatusLabel(domain.ApplicationStatusPending),
	).Scan(&pending)
	if err != nil {
		return fmt.Errorf("delete requirement: %w", err)
	}
	if pending > 0 {
		return storage.ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM requirements WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete requirement: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete requirement: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollaboration(row rowScanner) (domain.Collaboration, error) {
	var collaboration domain.Collaboration
	var statusLabel string
	var createdAt int64
	var updatedAt int64
	err := row.Scan(
		&collaboration.ID,
		&collaboration.CreatorID,
		&collaboration.Title,
		&collaboration.Description,
		&statusLabel,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Collaboration{}, storage.ErrNotFound
		}
		return domain.Collaboration{}, fmt.Errorf("scan collaboration: %w", err)
	}
	collaboration.Status = domain.StatusFromLabel(statusLabel)
	collaboration.CreatedAt = fromMillis(createdAt)
	collaboration.UpdatedAt = fromMillis(updatedAt)
	return collaboration, nil
}

func scanRequirement(row rowScanner) (domain.Requirement, error) {
	var requirement domain.Requirement
	var createdAt int64
	var updatedAt int64
	err := row.Scan(
		&requirement.ID,
		&requirement.CollaborationID,
		&requirement.Role,
		&requirement.QuantityNeeded,
		&requirement.QuantityFilled,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Requirement{}, storage.ErrNotFound
		}
		return domain.Requirement{}, fmt.Errorf("scan requirement: %w", err)
	}
	requirement.CreatedAt = fromMillis(createdAt)
	requirement.UpdatedAt = fromMillis(updatedAt)
	return requirement, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var (
	_ storage.CollaborationStore = (*Store)(nil)
	_ storage.RequirementStore   = (*Store)(nil)
	_ storage.ApplicationStore   = (*Store)(nil)
	_ storage.LedgerStore        = (*Store)(nil)
	_ storage.IdempotencyStore   = (*Store)(nil)
)
