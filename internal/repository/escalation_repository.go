package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/request-engine/internal/domain"
)

// AdvanceInput describes the move of a ticket to its next escalation level.
type AdvanceInput struct {
	FromLevel   int
	ToLevel     int
	DeadlineAt  time.Time
	TargetRoles []domain.OrgRole
	Candidates  domain.UserSet
	Now         time.Time
}

// EscalationTicketRepository stores escalation deadlines.
type EscalationTicketRepository interface {
	Get(ctx context.Context, requestID string) (*domain.EscalationTicket, error)
	// ListDue returns non-exhausted tickets whose deadline has passed, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.EscalationTicket, error)
	// Advance moves the ticket from in.FromLevel to in.ToLevel and merges the
	// candidates into the request pool. It returns the users that were added.
	// domain.ErrClaimConflict means another worker advanced or removed the ticket.
	Advance(ctx context.Context, requestID string, in AdvanceInput) ([]string, error)
	// MarkExhausted flags the ticket at fromLevel as having no levels left.
	MarkExhausted(ctx context.Context, requestID string, fromLevel int, now time.Time) error
	// Claim leases the ticket to owner until now+ttl if it is free or expired.
	Claim(ctx context.Context, requestID, owner string, now time.Time, ttl time.Duration) (bool, error)
	Release(ctx context.Context, requestID, owner string) error
}

type escalationRepository struct {
	pool *pgxpool.Pool
}

// NewEscalationTicketRepository builds repository.
func NewEscalationTicketRepository(pool *pgxpool.Pool) EscalationTicketRepository {
	return &escalationRepository{pool: pool}
}

const ticketColumns = `request_id, organization_id, rule_id, current_level, deadline_at, target_roles, exhausted,
        claimed_by, claimed_until, created_at, updated_at`

func insertTicket(ctx context.Context, tx pgx.Tx, t *domain.EscalationTicket) error {
	const query = `
        INSERT INTO escalation_tickets (request_id, organization_id, rule_id, current_level, deadline_at, target_roles,
            exhausted, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (request_id) DO UPDATE
        SET rule_id=EXCLUDED.rule_id, current_level=EXCLUDED.current_level, deadline_at=EXCLUDED.deadline_at,
            target_roles=EXCLUDED.target_roles, exhausted=EXCLUDED.exhausted, updated_at=EXCLUDED.updated_at`
	_, err := tx.Exec(ctx, query,
		t.RequestID,
		t.OrganizationID,
		t.RuleID,
		t.CurrentLevel,
		t.DeadlineAt,
		rolesToStrings(t.TargetRoles),
		t.Exhausted,
		t.CreatedAt,
		t.UpdatedAt,
	)
	return err
}

func (r *escalationRepository) Get(ctx context.Context, requestID string) (*domain.EscalationTicket, error) {
	query := `SELECT ` + ticketColumns + ` FROM escalation_tickets WHERE request_id=$1`
	t, err := scanTicket(r.pool.QueryRow(ctx, query, requestID))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return t, nil
}

func (r *escalationRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.EscalationTicket, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + ticketColumns + `
        FROM escalation_tickets
        WHERE NOT exhausted AND deadline_at <= $1
        ORDER BY deadline_at ASC, request_id ASC
        LIMIT $2`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.EscalationTicket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (r *escalationRepository) Advance(ctx context.Context, requestID string, in AdvanceInput) ([]string, error) {
	var added []string
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		// lock order matches Accept: request row first, then ticket
		var assigned []string
		err := tx.QueryRow(ctx,
			`SELECT assigned_to FROM requests WHERE id=$1 AND status='under_review' FOR UPDATE`, requestID,
		).Scan(&assigned)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrClaimConflict
		}
		if err != nil {
			return err
		}

		cmd, err := tx.Exec(ctx, `
            UPDATE escalation_tickets
            SET current_level=$3, deadline_at=$4, target_roles=$5, claimed_by=NULL, claimed_until=NULL, updated_at=$6
            WHERE request_id=$1 AND current_level=$2 AND NOT exhausted`,
			requestID, in.FromLevel, in.ToLevel, in.DeadlineAt, rolesToStrings(in.TargetRoles), in.Now)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return domain.ErrClaimConflict
		}

		merged, newUsers := domain.NewUserSet(assigned...).Union(in.Candidates)
		if len(newUsers) > 0 {
			if _, err := tx.Exec(ctx,
				`UPDATE requests SET assigned_to=$2, updated_at=$3 WHERE id=$1`,
				requestID, merged.Strings(), in.Now,
			); err != nil {
				return err
			}
		}
		added = newUsers
		return nil
	})
	return added, err
}

func (r *escalationRepository) MarkExhausted(ctx context.Context, requestID string, fromLevel int, now time.Time) error {
	cmd, err := r.pool.Exec(ctx, `
        UPDATE escalation_tickets
        SET exhausted=TRUE, claimed_by=NULL, claimed_until=NULL, updated_at=$3
        WHERE request_id=$1 AND current_level=$2 AND NOT exhausted`,
		requestID, fromLevel, now)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrClaimConflict
	}
	return nil
}

func (r *escalationRepository) Claim(ctx context.Context, requestID, owner string, now time.Time, ttl time.Duration) (bool, error) {
	cmd, err := r.pool.Exec(ctx, `
        UPDATE escalation_tickets
        SET claimed_by=$2, claimed_until=$4
        WHERE request_id=$1 AND (claimed_until IS NULL OR claimed_until < $3 OR claimed_by=$2)`,
		requestID, owner, now, now.Add(ttl))
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *escalationRepository) Release(ctx context.Context, requestID, owner string) error {
	_, err := r.pool.Exec(ctx, `
        UPDATE escalation_tickets SET claimed_by=NULL, claimed_until=NULL
        WHERE request_id=$1 AND claimed_by=$2`,
		requestID, owner)
	return err
}

func scanTicket(row pgx.Row) (*domain.EscalationTicket, error) {
	var t domain.EscalationTicket
	var roles []string
	if err := row.Scan(
		&t.RequestID,
		&t.OrganizationID,
		&t.RuleID,
		&t.CurrentLevel,
		&t.DeadlineAt,
		&roles,
		&t.Exhausted,
		&t.ClaimedBy,
		&t.ClaimedUntil,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.TargetRoles = stringsToRoles(roles)
	return &t, nil
}
