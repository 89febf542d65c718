package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/request-engine/internal/domain"
)

// MemberRepository handles persistence for organization members.
type MemberRepository interface {
	Create(ctx context.Context, member *domain.Member) error
	GetByID(ctx context.Context, id string) (*domain.Member, error)
	GetByEmail(ctx context.Context, email string) (*domain.Member, error)
	ListByRoles(ctx context.Context, orgID string, roles []domain.OrgRole) ([]domain.Member, error)
	ListByJobRoles(ctx context.Context, orgID string, jobRoles []string) ([]domain.Member, error)
	ListByTeams(ctx context.Context, orgID string, teamIDs []string) ([]domain.Member, error)
}

type memberRepository struct {
	pool *pgxpool.Pool
}

// NewMemberRepository instantiates the repository.
func NewMemberRepository(pool *pgxpool.Pool) MemberRepository {
	return &memberRepository{pool: pool}
}

const memberColumns = `m.id, m.organization_id, m.name, m.email, m.password_hash, m.role, m.job_role, m.expertise_tags, m.location, m.active_flag, m.created_at, m.updated_at`

func (r *memberRepository) Create(ctx context.Context, member *domain.Member) error {
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	const query = `
        INSERT INTO members (id, organization_id, name, email, password_hash, role, job_role,
                             expertise_tags, location, active_flag)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		member.ID,
		member.OrganizationID,
		member.Name,
		member.Email,
		member.PasswordHash,
		member.Role,
		member.JobRole,
		nonNilStrings(member.ExpertiseTags),
		member.Location,
		member.Active,
	).Scan(&member.CreatedAt, &member.UpdatedAt)
}

func (r *memberRepository) GetByID(ctx context.Context, id string) (*domain.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members m WHERE m.id=$1`
	member, err := scanMember(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return member, nil
}

func (r *memberRepository) GetByEmail(ctx context.Context, email string) (*domain.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members m WHERE m.email=$1`
	member, err := scanMember(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return member, nil
}

func (r *memberRepository) ListByRoles(ctx context.Context, orgID string, roles []domain.OrgRole) ([]domain.Member, error) {
	query := `
        SELECT ` + memberColumns + `
        FROM members m
        WHERE m.organization_id=$1 AND m.active_flag AND m.role = ANY($2)
        ORDER BY m.created_at, m.id`
	return r.list(ctx, query, orgID, rolesToStrings(roles))
}

func (r *memberRepository) ListByJobRoles(ctx context.Context, orgID string, jobRoles []string) ([]domain.Member, error) {
	query := `
        SELECT ` + memberColumns + `
        FROM members m
        WHERE m.organization_id=$1 AND m.active_flag AND m.job_role = ANY($2)
        ORDER BY m.created_at, m.id`
	return r.list(ctx, query, orgID, jobRoles)
}

func (r *memberRepository) ListByTeams(ctx context.Context, orgID string, teamIDs []string) ([]domain.Member, error) {
	query := `
        SELECT DISTINCT ON (m.created_at, m.id) ` + memberColumns + `
        FROM members m
        JOIN team_members tm ON tm.member_id = m.id
        JOIN teams t ON t.id = tm.team_id AND t.is_active
        WHERE m.organization_id=$1 AND m.active_flag AND tm.team_id = ANY($2)
        ORDER BY m.created_at, m.id`
	return r.list(ctx, query, orgID, teamIDs)
}

func (r *memberRepository) list(ctx context.Context, query string, args ...any) ([]domain.Member, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *member)
	}
	return result, rows.Err()
}

func scanMember(row pgx.Row) (*domain.Member, error) {
	var member domain.Member
	if err := row.Scan(
		&member.ID,
		&member.OrganizationID,
		&member.Name,
		&member.Email,
		&member.PasswordHash,
		&member.Role,
		&member.JobRole,
		&member.ExpertiseTags,
		&member.Location,
		&member.Active,
		&member.CreatedAt,
		&member.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &member, nil
}
