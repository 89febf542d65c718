package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/request-engine/internal/domain"
)

// ActivityRepository stores the immutable update and comment feeds of a request.
type ActivityRepository interface {
	Insert(ctx context.Context, entry *domain.ActivityEntry) error
	ListUpdates(ctx context.Context, requestID string) ([]domain.ActivityEntry, error)
	ListComments(ctx context.Context, requestID string) ([]domain.ActivityEntry, error)
}

type activityRepository struct {
	pool *pgxpool.Pool
}

// NewActivityRepository builds repository.
func NewActivityRepository(pool *pgxpool.Pool) ActivityRepository {
	return &activityRepository{pool: pool}
}

func (r *activityRepository) Insert(ctx context.Context, entry *domain.ActivityEntry) error {
	switch {
	case entry.Kind == domain.ActivityUpdate && entry.Update != nil:
		const query = `
            INSERT INTO request_updates (id, request_id, author_id, update_type, title, content, old_status, new_status, created_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
		_, err := r.pool.Exec(ctx, query,
			entry.ID,
			entry.RequestID,
			entry.AuthorID,
			entry.Update.Type,
			entry.Update.Title,
			entry.Update.Content,
			entry.Update.OldStatus,
			entry.Update.NewStatus,
			entry.CreatedAt,
		)
		return err
	case entry.Kind == domain.ActivityComment && entry.Comment != nil:
		const query = `
            INSERT INTO request_comments (id, request_id, author_id, content, is_internal, created_at)
            VALUES ($1,$2,$3,$4,$5,$6)`
		_, err := r.pool.Exec(ctx, query,
			entry.ID,
			entry.RequestID,
			entry.AuthorID,
			entry.Comment.Content,
			entry.Comment.IsInternal,
			entry.CreatedAt,
		)
		return err
	}
	return fmt.Errorf("activity entry %s: kind %q without payload", entry.ID, entry.Kind)
}

func (r *activityRepository) ListUpdates(ctx context.Context, requestID string) ([]domain.ActivityEntry, error) {
	const query = `
        SELECT id, request_id, author_id, update_type, title, content, old_status, new_status, created_at
        FROM request_updates WHERE request_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ActivityEntry
	for rows.Next() {
		entry := domain.ActivityEntry{Kind: domain.ActivityUpdate, Update: &domain.Update{}}
		if err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.AuthorID,
			&entry.Update.Type,
			&entry.Update.Title,
			&entry.Update.Content,
			&entry.Update.OldStatus,
			&entry.Update.NewStatus,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (r *activityRepository) ListComments(ctx context.Context, requestID string) ([]domain.ActivityEntry, error) {
	const query = `
        SELECT id, request_id, author_id, content, is_internal, created_at
        FROM request_comments WHERE request_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ActivityEntry
	for rows.Next() {
		entry := domain.ActivityEntry{Kind: domain.ActivityComment, Comment: &domain.Comment{}}
		if err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.AuthorID,
			&entry.Comment.Content,
			&entry.Comment.IsInternal,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
