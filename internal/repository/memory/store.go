// Package memory is a mutex-guarded implementation of the repository
// interfaces. It backs `serve --memory` and the engine tests and follows the
// same conditional-write semantics as the Postgres implementation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/repository"
)

// Store holds all in-memory state.
type Store struct {
	mu          sync.Mutex
	members     map[string]domain.Member
	memberOrder []string
	teams       map[string]domain.Team
	teamMembers map[string]map[string]struct{}
	rules       map[string]domain.AssignmentRule
	requests    map[string]*domain.Request
	tickets     map[string]*domain.EscalationTicket
	updates     map[string][]domain.ActivityEntry
	comments    map[string][]domain.ActivityEntry
}

// New creates an empty store.
func New() *Store {
	return &Store{
		members:     make(map[string]domain.Member),
		teams:       make(map[string]domain.Team),
		teamMembers: make(map[string]map[string]struct{}),
		rules:       make(map[string]domain.AssignmentRule),
		requests:    make(map[string]*domain.Request),
		tickets:     make(map[string]*domain.EscalationTicket),
		updates:     make(map[string][]domain.ActivityEntry),
		comments:    make(map[string][]domain.ActivityEntry),
	}
}

func (s *Store) Members() repository.MemberRepository { return memberRepo{s} }

func (s *Store) Teams() repository.TeamRepository { return teamRepo{s} }

func (s *Store) Rules() repository.RuleRepository { return ruleRepo{s} }

func (s *Store) Requests() repository.RequestRepository { return requestRepo{s} }

func (s *Store) Tickets() repository.EscalationTicketRepository { return ticketRepo{s} }

func (s *Store) Activity() repository.ActivityRepository { return activityRepo{s} }

// PutRule stores a rule as given, without renumbering priorities.
func (s *Store) PutRule(rule domain.AssignmentRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	s.rules[rule.ID] = rule
}

type memberRepo struct{ s *Store }

func (r memberRepo) Create(_ context.Context, member *domain.Member) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	if _, exists := r.s.members[member.ID]; exists {
		return fmt.Errorf("member %s already exists", member.ID)
	}
	now := time.Now()
	member.CreatedAt, member.UpdatedAt = now, now
	stored := *member
	stored.ExpertiseTags = append([]string(nil), member.ExpertiseTags...)
	r.s.members[member.ID] = stored
	r.s.memberOrder = append(r.s.memberOrder, member.ID)
	return nil
}

func (r memberRepo) GetByID(_ context.Context, id string) (*domain.Member, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.members[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &m, nil
}

func (r memberRepo) GetByEmail(_ context.Context, email string) (*domain.Member, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range r.s.memberOrder {
		if m := r.s.members[id]; m.Email == email {
			return &m, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r memberRepo) ListByRoles(_ context.Context, orgID string, roles []domain.OrgRole) ([]domain.Member, error) {
	want := make(map[domain.OrgRole]bool, len(roles))
	for _, role := range roles {
		want[role] = true
	}
	return r.filter(orgID, func(m domain.Member) bool { return want[m.Role] }), nil
}

func (r memberRepo) ListByJobRoles(_ context.Context, orgID string, jobRoles []string) ([]domain.Member, error) {
	want := make(map[string]bool, len(jobRoles))
	for _, jr := range jobRoles {
		want[jr] = true
	}
	return r.filter(orgID, func(m domain.Member) bool { return want[m.JobRole] }), nil
}

func (r memberRepo) ListByTeams(_ context.Context, orgID string, teamIDs []string) ([]domain.Member, error) {
	r.s.mu.Lock()
	inTeam := make(map[string]bool)
	for _, teamID := range teamIDs {
		if team, ok := r.s.teams[teamID]; !ok || !team.IsActive {
			continue
		}
		for memberID := range r.s.teamMembers[teamID] {
			inTeam[memberID] = true
		}
	}
	r.s.mu.Unlock()
	return r.filter(orgID, func(m domain.Member) bool { return inTeam[m.ID] }), nil
}

func (r memberRepo) filter(orgID string, keep func(domain.Member) bool) []domain.Member {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Member
	for _, id := range r.s.memberOrder {
		m := r.s.members[id]
		if m.OrganizationID == orgID && m.Active && keep(m) {
			out = append(out, m)
		}
	}
	return out
}

type teamRepo struct{ s *Store }

func (r teamRepo) Create(_ context.Context, team *domain.Team) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if team.ID == "" {
		team.ID = uuid.NewString()
	}
	now := time.Now()
	team.CreatedAt, team.UpdatedAt = now, now
	r.s.teams[team.ID] = *team
	return nil
}

func (r teamRepo) Update(_ context.Context, team *domain.Team) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.teams[team.ID]; !ok {
		return domain.ErrNotFound
	}
	team.UpdatedAt = time.Now()
	r.s.teams[team.ID] = *team
	return nil
}

func (r teamRepo) GetByID(_ context.Context, id string) (*domain.Team, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.teams[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (r teamRepo) AddMember(_ context.Context, teamID, memberID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.teams[teamID]; !ok {
		return domain.ErrNotFound
	}
	if r.s.teamMembers[teamID] == nil {
		r.s.teamMembers[teamID] = make(map[string]struct{})
	}
	r.s.teamMembers[teamID][memberID] = struct{}{}
	return nil
}

type ruleRepo struct{ s *Store }

func (r ruleRepo) GetActiveRules(_ context.Context, orgID, requestTypeID string) ([]domain.AssignmentRule, error) {
	return r.list(orgID, requestTypeID, true), nil
}

func (r ruleRepo) ListByRequestType(_ context.Context, orgID, requestTypeID string) ([]domain.AssignmentRule, error) {
	return r.list(orgID, requestTypeID, false), nil
}

func (r ruleRepo) list(orgID, requestTypeID string, activeOnly bool) []domain.AssignmentRule {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.AssignmentRule
	for _, rule := range r.s.rules {
		if rule.OrganizationID != orgID || rule.RequestTypeID != requestTypeID {
			continue
		}
		if activeOnly && !rule.IsActive {
			continue
		}
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriorityOrder != out[j].PriorityOrder {
			return out[i].PriorityOrder < out[j].PriorityOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r ruleRepo) GetByID(_ context.Context, id string) (*domain.AssignmentRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rule, ok := r.s.rules[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rule, nil
}

func (r ruleRepo) Create(_ context.Context, rule *domain.AssignmentRule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	maxOrder := 0
	for _, existing := range r.s.rules {
		if existing.OrganizationID == rule.OrganizationID && existing.RequestTypeID == rule.RequestTypeID && existing.PriorityOrder > maxOrder {
			maxOrder = existing.PriorityOrder
		}
	}
	now := time.Now()
	rule.PriorityOrder = maxOrder + 1
	rule.CreatedAt, rule.UpdatedAt = now, now
	r.s.rules[rule.ID] = *rule
	return nil
}

func (r ruleRepo) Update(_ context.Context, rule *domain.AssignmentRule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.rules[rule.ID]
	if !ok {
		return domain.ErrNotFound
	}
	rule.OrganizationID = existing.OrganizationID
	rule.RequestTypeID = existing.RequestTypeID
	rule.PriorityOrder = existing.PriorityOrder
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	r.s.rules[rule.ID] = *rule
	return nil
}

func (r ruleRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	deleted, ok := r.s.rules[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(r.s.rules, id)
	for key, rule := range r.s.rules {
		if rule.OrganizationID == deleted.OrganizationID && rule.RequestTypeID == deleted.RequestTypeID && rule.PriorityOrder > deleted.PriorityOrder {
			rule.PriorityOrder--
			r.s.rules[key] = rule
		}
	}
	return nil
}

func (r ruleRepo) Reorder(_ context.Context, orgID, requestTypeID string, ids []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, rule := range r.s.rules {
		if rule.OrganizationID == orgID && rule.RequestTypeID == requestTypeID {
			count++
		}
	}
	if count != len(ids) {
		return fmt.Errorf("%w: reorder lists %d of %d rules", domain.ErrInvalidRule, len(ids), count)
	}
	for _, id := range ids {
		rule, ok := r.s.rules[id]
		if !ok || rule.OrganizationID != orgID || rule.RequestTypeID != requestTypeID {
			return fmt.Errorf("%w: rule %s does not belong to request type %s", domain.ErrInvalidRule, id, requestTypeID)
		}
	}
	for i, id := range ids {
		rule := r.s.rules[id]
		rule.PriorityOrder = i + 1
		r.s.rules[id] = rule
	}
	return nil
}

type requestRepo struct{ s *Store }

func (r requestRepo) Create(_ context.Context, req *domain.Request) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if _, exists := r.s.requests[req.ID]; exists {
		return fmt.Errorf("request %s already exists", req.ID)
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = req.CreatedAt
	}
	r.s.requests[req.ID] = req.Clone()
	return nil
}

func (r requestRepo) GetByID(_ context.Context, id string) (*domain.Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return req.Clone(), nil
}

func (r requestRepo) Assign(_ context.Context, requestID string, ruleID string, pool domain.UserSet, ticket *domain.EscalationTicket) (*domain.Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[requestID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if err := req.Transition(domain.StatusUnderReview, "", ticket.UpdatedAt); err != nil {
		return nil, err
	}
	req.AssignedTo = pool.Clone()
	req.MatchedRuleID = &ruleID
	t := *ticket
	t.TargetRoles = append([]domain.OrgRole(nil), ticket.TargetRoles...)
	r.s.tickets[requestID] = &t
	return req.Clone(), nil
}

func (r requestRepo) Accept(_ context.Context, requestID, userID string, now time.Time) (*domain.Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[requestID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if by := req.Acceptor(); by != "" {
		return nil, &domain.AlreadyAcceptedError{By: by}
	}
	if req.Status != domain.StatusUnderReview {
		return nil, &domain.InvalidTransitionError{From: req.Status, To: domain.StatusInProgress}
	}
	if !req.AssignedTo.Contains(userID) {
		return nil, domain.ErrNotEligible
	}
	if err := req.Transition(domain.StatusInProgress, userID, now); err != nil {
		return nil, err
	}
	delete(r.s.tickets, requestID)
	return req.Clone(), nil
}

func (r requestRepo) Complete(_ context.Context, requestID, userID, notes string, now time.Time) (*domain.Request, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[requestID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if req.Status == domain.StatusCompleted && req.Acceptor() == userID {
		return req.Clone(), false, nil
	}
	if req.Status == domain.StatusInProgress && req.Acceptor() != userID {
		return nil, false, domain.ErrNotAcceptor
	}
	if err := req.Transition(domain.StatusCompleted, userID, now); err != nil {
		return nil, false, err
	}
	req.CompletionNotes = notes
	delete(r.s.tickets, requestID)
	return req.Clone(), true, nil
}

func (r requestRepo) Cancel(_ context.Context, requestID string, now time.Time) (*domain.Request, *domain.Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[requestID]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	before := req.Clone()
	if err := req.Transition(domain.StatusCancelled, "", now); err != nil {
		return nil, nil, err
	}
	delete(r.s.tickets, requestID)
	return before, req.Clone(), nil
}

func (r requestRepo) Workloads(_ context.Context, orgID string, userIDs []string) (map[string]domain.Workload, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	workloads := make(map[string]domain.Workload, len(userIDs))
	for _, id := range userIDs {
		workloads[id] = domain.Workload{}
	}
	for _, req := range r.s.requests {
		if req.OrganizationID != orgID {
			continue
		}
		for _, id := range userIDs {
			w := workloads[id]
			switch {
			case req.Status == domain.StatusUnderReview && req.AssignedTo.Contains(id):
				w.Pending++
			case req.Status == domain.StatusInProgress && req.Acceptor() == id:
				w.Active++
			}
			workloads[id] = w
		}
	}
	return workloads, nil
}

func (r requestRepo) AssignmentStats(_ context.Context, orgID string, since, until time.Time) (domain.AssignmentStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var records []domain.AssignmentRecord
	for id, req := range r.s.requests {
		if req.OrganizationID != orgID {
			continue
		}
		var assignedAt time.Time
		for _, e := range r.s.updates[id] {
			if e.Update.Type != domain.UpdateAssigned {
				continue
			}
			if assignedAt.IsZero() || e.CreatedAt.Before(assignedAt) {
				assignedAt = e.CreatedAt
			}
		}
		if assignedAt.IsZero() {
			continue
		}
		rec := domain.AssignmentRecord{RequestID: id, AssignedAt: assignedAt, AcceptedAt: req.AcceptedAt}
		if acceptor, ok := r.s.members[req.Acceptor()]; ok {
			rec.JobRole = acceptor.JobRole
		}
		records = append(records, rec)
	}
	return domain.SummarizeAssignments(records, since, until), nil
}

type ticketRepo struct{ s *Store }

func (r ticketRepo) Get(_ context.Context, requestID string) (*domain.EscalationTicket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tickets[requestID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r ticketRepo) ListDue(_ context.Context, now time.Time, limit int) ([]domain.EscalationTicket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.EscalationTicket
	for _, t := range r.s.tickets {
		if t.Due(now) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DeadlineAt.Equal(out[j].DeadlineAt) {
			return out[i].DeadlineAt.Before(out[j].DeadlineAt)
		}
		return out[i].RequestID < out[j].RequestID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r ticketRepo) Advance(_ context.Context, requestID string, in repository.AdvanceInput) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[requestID]
	if !ok || req.Status != domain.StatusUnderReview {
		return nil, domain.ErrClaimConflict
	}
	t, ok := r.s.tickets[requestID]
	if !ok || t.Exhausted || t.CurrentLevel != in.FromLevel {
		return nil, domain.ErrClaimConflict
	}
	t.CurrentLevel = in.ToLevel
	t.DeadlineAt = in.DeadlineAt
	t.TargetRoles = append([]domain.OrgRole(nil), in.TargetRoles...)
	t.ClaimedBy, t.ClaimedUntil = nil, nil
	t.UpdatedAt = in.Now

	merged, added := req.AssignedTo.Union(in.Candidates)
	if len(added) > 0 {
		req.AssignedTo = merged
		req.UpdatedAt = in.Now
	}
	return added, nil
}

func (r ticketRepo) MarkExhausted(_ context.Context, requestID string, fromLevel int, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tickets[requestID]
	if !ok || t.Exhausted || t.CurrentLevel != fromLevel {
		return domain.ErrClaimConflict
	}
	t.Exhausted = true
	t.ClaimedBy, t.ClaimedUntil = nil, nil
	t.UpdatedAt = now
	return nil
}

func (r ticketRepo) Claim(_ context.Context, requestID, owner string, now time.Time, ttl time.Duration) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tickets[requestID]
	if !ok {
		return false, nil
	}
	if t.ClaimedBy != nil && *t.ClaimedBy != owner && t.ClaimedUntil != nil && !t.ClaimedUntil.Before(now) {
		return false, nil
	}
	until := now.Add(ttl)
	t.ClaimedBy = &owner
	t.ClaimedUntil = &until
	return true, nil
}

func (r ticketRepo) Release(_ context.Context, requestID, owner string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.tickets[requestID]; ok && t.ClaimedBy != nil && *t.ClaimedBy == owner {
		t.ClaimedBy, t.ClaimedUntil = nil, nil
	}
	return nil
}

type activityRepo struct{ s *Store }

func (r activityRepo) Insert(_ context.Context, entry *domain.ActivityEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.requests[entry.RequestID]; !ok {
		return domain.ErrNotFound
	}
	switch {
	case entry.Kind == domain.ActivityUpdate && entry.Update != nil:
		r.s.updates[entry.RequestID] = append(r.s.updates[entry.RequestID], *entry)
	case entry.Kind == domain.ActivityComment && entry.Comment != nil:
		r.s.comments[entry.RequestID] = append(r.s.comments[entry.RequestID], *entry)
	default:
		return fmt.Errorf("activity entry %s: kind %q without payload", entry.ID, entry.Kind)
	}
	return nil
}

func (r activityRepo) ListUpdates(_ context.Context, requestID string) ([]domain.ActivityEntry, error) {
	return r.list(r.s.updates, requestID), nil
}

func (r activityRepo) ListComments(_ context.Context, requestID string) ([]domain.ActivityEntry, error) {
	return r.list(r.s.comments, requestID), nil
}

func (r activityRepo) list(src map[string][]domain.ActivityEntry, requestID string) []domain.ActivityEntry {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := append([]domain.ActivityEntry(nil), src[requestID]...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
