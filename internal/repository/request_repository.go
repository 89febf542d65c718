package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/request-engine/internal/domain"
)

// RequestRepository persists requests. Every state change is a single
// conditional write; escalation tickets are created and removed in the same
// transaction as the change that requires it.
type RequestRepository interface {
	Create(ctx context.Context, req *domain.Request) error
	GetByID(ctx context.Context, id string) (*domain.Request, error)
	// Assign moves a submitted request to under_review with the given pool
	// and registers its escalation ticket.
	Assign(ctx context.Context, requestID string, ruleID string, pool domain.UserSet, ticket *domain.EscalationTicket) (*domain.Request, error)
	// Accept claims the request for userID. Losers get *domain.AlreadyAcceptedError.
	Accept(ctx context.Context, requestID, userID string, now time.Time) (*domain.Request, error)
	// Complete finishes an in_progress request. changed is false when the
	// acceptor repeats the call on an already completed request.
	Complete(ctx context.Context, requestID, userID, notes string, now time.Time) (req *domain.Request, changed bool, err error)
	// Cancel cancels a non-terminal request and returns it with its prior state.
	Cancel(ctx context.Context, requestID string, now time.Time) (*domain.Request, *domain.Request, error)
	// Workloads returns, per user, requests under review offered to them
	// (pending) and requests in progress accepted by them (active).
	Workloads(ctx context.Context, orgID string, userIDs []string) (map[string]domain.Workload, error)
	// AssignmentStats summarizes requests whose first assigned update falls
	// in [since, until).
	AssignmentStats(ctx context.Context, orgID string, since, until time.Time) (domain.AssignmentStats, error)
}

type requestRepository struct {
	pool *pgxpool.Pool
}

// NewRequestRepository instantiates the repository.
func NewRequestRepository(pool *pgxpool.Pool) RequestRepository {
	return &requestRepository{pool: pool}
}

const requestColumns = `id, organization_id, request_type_id, requested_by, title, description, priority, form_data,
        status, assigned_to, matched_rule_id, accepted_by, accepted_at, completed_at, completion_notes,
        cancelled_at, created_at, updated_at`

func (r *requestRepository) Create(ctx context.Context, req *domain.Request) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	formData, err := json.Marshal(nonNilMap(req.FormData))
	if err != nil {
		return fmt.Errorf("encode form_data: %w", err)
	}
	const query = `
        INSERT INTO requests (id, organization_id, request_type_id, requested_by, title, description, priority,
            form_data, status, assigned_to, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)`
	_, err = r.pool.Exec(ctx, query,
		req.ID,
		req.OrganizationID,
		req.RequestTypeID,
		req.RequestedBy,
		req.Title,
		req.Description,
		req.Priority,
		formData,
		req.Status,
		req.AssignedTo.Strings(),
		req.CreatedAt,
	)
	return err
}

func (r *requestRepository) GetByID(ctx context.Context, id string) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id=$1`
	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return req, nil
}

func (r *requestRepository) Assign(ctx context.Context, requestID string, ruleID string, pool domain.UserSet, ticket *domain.EscalationTicket) (*domain.Request, error) {
	var out *domain.Request
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
            UPDATE requests
            SET status='under_review', assigned_to=$2, matched_rule_id=$3, updated_at=$4
            WHERE id=$1 AND status='submitted'
            RETURNING ` + requestColumns
		req, err := scanRequest(tx.QueryRow(ctx, query, requestID, pool.Strings(), ruleID, ticket.UpdatedAt))
		if errors.Is(err, pgx.ErrNoRows) {
			return r.classify(ctx, tx, requestID, domain.StatusUnderReview, "")
		}
		if err != nil {
			return err
		}
		if err := insertTicket(ctx, tx, ticket); err != nil {
			return err
		}
		out = req
		return nil
	})
	return out, err
}

func (r *requestRepository) Accept(ctx context.Context, requestID, userID string, now time.Time) (*domain.Request, error) {
	var out *domain.Request
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
            UPDATE requests
            SET status='in_progress', accepted_by=$2, accepted_at=$3, updated_at=$3
            WHERE id=$1 AND status='under_review' AND accepted_by IS NULL AND $2 = ANY(assigned_to)
            RETURNING ` + requestColumns
		req, err := scanRequest(tx.QueryRow(ctx, query, requestID, userID, now))
		if errors.Is(err, pgx.ErrNoRows) {
			return r.classify(ctx, tx, requestID, domain.StatusInProgress, userID)
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM escalation_tickets WHERE request_id=$1`, requestID); err != nil {
			return err
		}
		out = req
		return nil
	})
	return out, err
}

func (r *requestRepository) Complete(ctx context.Context, requestID, userID, notes string, now time.Time) (*domain.Request, bool, error) {
	var out *domain.Request
	changed := false
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
            UPDATE requests
            SET status='completed', completed_at=$3, completion_notes=$4, updated_at=$3
            WHERE id=$1 AND status='in_progress' AND accepted_by=$2
            RETURNING ` + requestColumns
		req, err := scanRequest(tx.QueryRow(ctx, query, requestID, userID, now, notes))
		if errors.Is(err, pgx.ErrNoRows) {
			current, err := r.lockedGet(ctx, tx, requestID)
			if err != nil {
				return err
			}
			if current.Status == domain.StatusCompleted && current.Acceptor() == userID {
				out = current
				return nil
			}
			if current.Status == domain.StatusInProgress {
				return domain.ErrNotAcceptor
			}
			return &domain.InvalidTransitionError{From: current.Status, To: domain.StatusCompleted}
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM escalation_tickets WHERE request_id=$1`, requestID); err != nil {
			return err
		}
		out = req
		changed = true
		return nil
	})
	return out, changed, err
}

func (r *requestRepository) Cancel(ctx context.Context, requestID string, now time.Time) (*domain.Request, *domain.Request, error) {
	var before, after *domain.Request
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		current, err := r.lockedGet(ctx, tx, requestID)
		if err != nil {
			return err
		}
		next := current.Clone()
		if err := next.Transition(domain.StatusCancelled, "", now); err != nil {
			return err
		}
		const query = `
            UPDATE requests
            SET status='cancelled', accepted_by=NULL, accepted_at=NULL, cancelled_at=$2, updated_at=$2
            WHERE id=$1`
		if _, err := tx.Exec(ctx, query, requestID, now); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM escalation_tickets WHERE request_id=$1`, requestID); err != nil {
			return err
		}
		before, after = current, next
		return nil
	})
	return before, after, err
}

func (r *requestRepository) Workloads(ctx context.Context, orgID string, userIDs []string) (map[string]domain.Workload, error) {
	const query = `
        SELECT u.id,
               COUNT(rq.id) FILTER (WHERE rq.status='under_review'),
               COUNT(rq.id) FILTER (WHERE rq.status='in_progress')
        FROM UNNEST($2::text[]) AS u(id)
        LEFT JOIN requests rq ON rq.organization_id=$1 AND (
            (rq.status='under_review' AND u.id = ANY(rq.assigned_to))
            OR (rq.status='in_progress' AND rq.accepted_by = u.id))
        GROUP BY u.id`
	rows, err := r.pool.Query(ctx, query, orgID, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	workloads := make(map[string]domain.Workload, len(userIDs))
	for rows.Next() {
		var id string
		var w domain.Workload
		if err := rows.Scan(&id, &w.Pending, &w.Active); err != nil {
			return nil, err
		}
		workloads[id] = w
	}
	return workloads, rows.Err()
}

func (r *requestRepository) AssignmentStats(ctx context.Context, orgID string, since, until time.Time) (domain.AssignmentStats, error) {
	const query = `
        SELECT rq.id, MIN(u.created_at) AS assigned_at, rq.accepted_at, COALESCE(m.job_role, '')
        FROM requests rq
        JOIN request_updates u ON u.request_id = rq.id AND u.update_type = 'assigned'
        LEFT JOIN members m ON m.id = rq.accepted_by
        WHERE rq.organization_id=$1
        GROUP BY rq.id, rq.accepted_at, m.job_role
        HAVING MIN(u.created_at) >= $2 AND MIN(u.created_at) < $3`
	rows, err := r.pool.Query(ctx, query, orgID, since, until)
	if err != nil {
		return domain.AssignmentStats{}, err
	}
	defer rows.Close()

	var records []domain.AssignmentRecord
	for rows.Next() {
		var rec domain.AssignmentRecord
		if err := rows.Scan(&rec.RequestID, &rec.AssignedAt, &rec.AcceptedAt, &rec.JobRole); err != nil {
			return domain.AssignmentStats{}, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return domain.AssignmentStats{}, err
	}
	return domain.SummarizeAssignments(records, since, until), nil
}

func (r *requestRepository) lockedGet(ctx context.Context, tx pgx.Tx, requestID string) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id=$1 FOR UPDATE`
	req, err := scanRequest(tx.QueryRow(ctx, query, requestID))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return req, nil
}

// classify explains why a conditional write touched no row.
func (r *requestRepository) classify(ctx context.Context, tx pgx.Tx, requestID string, target domain.RequestStatus, userID string) error {
	current, err := r.lockedGet(ctx, tx, requestID)
	if err != nil {
		return err
	}
	if target == domain.StatusInProgress {
		if by := current.Acceptor(); by != "" {
			return &domain.AlreadyAcceptedError{By: by}
		}
		if current.Status == domain.StatusUnderReview && !current.AssignedTo.Contains(userID) {
			return domain.ErrNotEligible
		}
	}
	return &domain.InvalidTransitionError{From: current.Status, To: target}
}

func scanRequest(row pgx.Row) (*domain.Request, error) {
	var req domain.Request
	var formData []byte
	var assigned []string
	if err := row.Scan(
		&req.ID,
		&req.OrganizationID,
		&req.RequestTypeID,
		&req.RequestedBy,
		&req.Title,
		&req.Description,
		&req.Priority,
		&formData,
		&req.Status,
		&assigned,
		&req.MatchedRuleID,
		&req.AcceptedBy,
		&req.AcceptedAt,
		&req.CompletedAt,
		&req.CompletionNotes,
		&req.CancelledAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(formData) > 0 {
		if err := json.Unmarshal(formData, &req.FormData); err != nil {
			return nil, fmt.Errorf("decode form_data of request %s: %w", req.ID, err)
		}
	}
	req.AssignedTo = domain.NewUserSet(assigned...)
	return &req, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
