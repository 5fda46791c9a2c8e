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

// PutApplication inserts one application record. The partial unique index on
// (requirement_id, applicant_id) for live statuses turns a double-apply into
// storage.ErrConflict.
func (s *Store) PutApplication(ctx context.Context, application domain.Application) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	applicationID := strings.TrimSpace(application.ID)
	if applicationID == "" {
		return fmt.Errorf("application id is required")
	}

	var decidedAt any
	if application.DecidedAt != nil {
		decidedAt = toMillis(*application.DecidedAt)
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO applications (
		   id, requirement_id, collaboration_id, applicant_id, message,
		   status, submitted_at, decided_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		applicationID,
		application.RequirementID,
		application.CollaborationID,
		application.ApplicantID,
		application.Message,
		domain.ApplicationStatusLabel(application.Status),
		toMillis(application.SubmittedAt),
		decidedAt,
		toMillis(application.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("put application: %w", err)
	}
	return nil
}

// GetApplication returns one application by ID.
func (s *Store) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	if err := ctx.Err(); err != nil {
		return domain.Application{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Application{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Application{}, fmt.Errorf("application id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, requirement_id, collaboration_id, applicant_id, message,
		        status, submitted_at, decided_at, updated_at
		   FROM applications
		  WHERE id = ?`,
		id,
	)
	return scanApplication(row)
}

// GetActiveApplication returns the Pending or Accepted application an
// applicant holds for a requirement.
func (s *Store) GetActiveApplication(ctx context.Context, requirementID, applicantID string) (domain.Application, error) {
	if err := ctx.Err(); err != nil {
		return domain.Application{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Application{}, fmt.Errorf("storage is not configured")
	}
	requirementID = strings.TrimSpace(requirementID)
	applicantID = strings.TrimSpace(applicantID)
	if requirementID == "" || applicantID == "" {
		return domain.Application{}, fmt.Errorf("requirement id and applicant id are required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, requirement_id, collaboration_id, applicant_id, message,
		        status, submitted_at, decided_at, updated_at
		   FROM applications
		  WHERE requirement_id = ? AND applicant_id = ? AND status IN (?, ?)`,
		requirementID,
		applicantID,
		domain.ApplicationStatusLabel(domain.ApplicationStatusPending),
		domain.ApplicationStatusLabel(domain.ApplicationStatusAccepted),
	)
	return scanApplication(row)
}

// UpdateApplicationStatus conditionally moves an application between statuses.
func (s *Store) UpdateApplicationStatus(ctx context.Context, id string, from, to domain.ApplicationStatus, decidedAt *time.Time, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("application id is required")
	}

	var decidedAtValue any
	if decidedAt != nil {
		decidedAtValue = toMillis(*decidedAt)
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE applications
		    SET status = ?, decided_at = COALESCE(?, decided_at), updated_at = ?
		  WHERE id = ? AND status = ?`,
		domain.ApplicationStatusLabel(to),
		decidedAtValue,
		toMillis(updatedAt),
		id,
		domain.ApplicationStatusLabel(from),
	)
	if err != nil {
		return fmt.Errorf("update application status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update application status: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetApplication(ctx, id); getErr != nil {
			return getErr
		}
		return storage.ErrStaleWrite
	}
	return nil
}

// ListApplicationsByRequirement returns one page of applications for a requirement.
func (s *Store) ListApplicationsByRequirement(ctx context.Context, requirementID string, pageSize int, pageToken string) (storage.ApplicationPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.ApplicationPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ApplicationPage{}, fmt.Errorf("storage is not configured")
	}
	requirementID = strings.TrimSpace(requirementID)
	if requirementID == "" {
		return storage.ApplicationPage{}, fmt.Errorf("requirement id is required")
	}
	if pageSize <= 0 {
		return storage.ApplicationPage{}, fmt.Errorf("page size must be greater than zero")
	}
	pageToken = strings.TrimSpace(pageToken)

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, requirement_id, collaboration_id, applicant_id, message,
		        status, submitted_at, decided_at, updated_at
		   FROM applications
		  WHERE requirement_id = ? AND id > ?
		  ORDER BY id ASC
		  LIMIT ?`,
		requirementID,
		pageToken,
		pageSize+1,
	)
	if err != nil {
		return storage.ApplicationPage{}, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	page := storage.ApplicationPage{
		Applications: make([]domain.Application, 0, pageSize),
	}
	for rows.Next() {
		application, err := scanApplication(rows)
		if err != nil {
			return storage.ApplicationPage{}, fmt.Errorf("list applications: %w", err)
		}
		page.Applications = append(page.Applications, application)
	}
	if err := rows.Err(); err != nil {
		return storage.ApplicationPage{}, fmt.Errorf("list applications: %w", err)
	}
	if len(page.Applications) > pageSize {
		page.NextPageToken = page.Applications[pageSize-1].ID
		page.Applications = page.Applications[:pageSize]
	}
	return page, nil
}

// ListApplicationsByCollaboration returns all applications for a
// collaboration in the given statuses.
func (s *Store) ListApplicationsByCollaboration(ctx context.Context, collaborationID string, statuses []domain.ApplicationStatus) ([]domain.Application, error) {
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
	if len(statuses) == 0 {
		return nil, fmt.Errorf("at least one status is required")
	}

	placeholders := make([]string, 0, len(statuses))
	args := make([]any, 0, len(statuses)+1)
	args = append(args, collaborationID)
	for _, status := range statuses {
		placeholders = append(placeholders, "?")
		args = append(args, domain.ApplicationStatusLabel(status))
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, requirement_id, collaboration_id, applicant_id, message,
		        status, submitted_at, decided_at, updated_at
		   FROM applications
		  WHERE collaboration_id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)
		  ORDER BY id ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list applications by collaboration: %w", err)
	}
	defer rows.Close()

	var applications []domain.Application
	for rows.Next() {
		application, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("list applications by collaboration: %w", err)
		}
		applications = append(applications, application)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list applications by collaboration: %w", err)
	}
	return applications, nil
}

func scanApplication(row rowScanner) (domain.Application, error) {
	var application domain.Application
	var statusLabel string
	var submittedAt int64
	var decidedAt sql.NullInt64
	var updatedAt int64
	err := row.Scan(
		&application.ID,
		&application.RequirementID,
		&application.CollaborationID,
		&application.ApplicantID,
		&application.Message,
		&statusLabel,
		&submittedAt,
		&decidedAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Application{}, storage.ErrNotFound
		}
		return domain.Application{}, fmt.Errorf("scan application: %w", err)
	}
	application.Status = domain.ApplicationStatusFromLabel(statusLabel)
	application.SubmittedAt = fromMillis(submittedAt)
	if decidedAt.Valid {
		decided := fromMillis(decidedAt.Int64)
		application.DecidedAt = &decided
	}
	application.UpdatedAt = fromMillis(updatedAt)
	return application, nil
}
