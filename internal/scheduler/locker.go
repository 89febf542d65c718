package scheduler

import (
	"context"
	"time"

	"github.com/spec-kit/request-engine/internal/repository"
)

// Locker hands out short-lived named claims shared by scheduler instances.
type Locker interface {
	Claim(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) error
}

// TicketLocker leases tickets through their claimed_by/claimed_until columns.
// It is used when no Redis is configured.
type TicketLocker struct {
	tickets repository.EscalationTicketRepository
	now     func() time.Time
}

// NewTicketLocker builds a locker over the ticket repository.
func NewTicketLocker(tickets repository.EscalationTicketRepository, now func() time.Time) *TicketLocker {
	if now == nil {
		now = time.Now
	}
	return &TicketLocker{tickets: tickets, now: now}
}

// Claim leases ticket name to owner.
func (l *TicketLocker) Claim(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	return l.tickets.Claim(ctx, name, owner, l.now(), ttl)
}

// Release clears the lease if owner still holds it.
func (l *TicketLocker) Release(ctx context.Context, name, owner string) error {
	return l.tickets.Release(ctx, name, owner)
}
