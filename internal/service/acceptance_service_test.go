package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/request-engine/internal/domain"
)

func TestAcceptFirstWinsAndPrunesOthers(t *testing.T) {
	f := newFixture(t)
	requester := f.addMember(t, "requester", domain.RoleUser, "")
	f.addMember(t, "alice", domain.RoleManager, "")
	f.addMember(t, "bob", domain.RoleManager, "")
	f.putRule(roleRule("managers", 1, domain.RoleManager))
	req := f.submit(t, requester, domain.PriorityHigh)
	ctx := context.Background()

	accepted, err := f.acceptance.Accept(ctx, req.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, accepted.Status)
	assert.Equal(t, "alice", accepted.Acceptor())
	assert.Equal(t, []string{"bob"}, f.notifier.accepted[req.ID])

	_, err = f.acceptance.Accept(ctx, req.ID, "bob")
	var already *domain.AlreadyAcceptedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, "alice", already.By)

	_, err = f.store.Tickets().Get(ctx, req.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "accepting removes the escalation ticket")
}

func TestAcceptRejectsOutsiders(t *testing.T) {
	f := newFixture(t)
	requester := f.addMember(t, "requester", domain.RoleUser, "")
	f.addMember(t, "alice", domain.RoleManager, "")
	f.putRule(roleRule("managers", 1, domain.RoleManager))
	req := f.submit(t, requester, domain.PriorityHigh)

	_, err := f.acceptance.Accept(context.Background(), req.ID, "requester")
	assert.ErrorIs(t, err, domain.ErrNotEligible)

	_, err = f.acceptance.Accept(context.Background(), "missing", "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAcceptUnassignedRequestIsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	requester := f.addMember(t, "requester", domain.RoleUser, "")
	req := f.submit(t, requester, domain.PriorityHigh)

	_, err := f.acceptance.Accept(context.Background(), req.ID, "anyone")
	var invalid *domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, domain.StatusSubmitted, invalid.From)
}

func TestConcurrentAcceptHasExactlyOneWinner(t *testing.T) {
	f := newFixture(t)
	requester := f.addMember(t, "requester", domain.RoleUser, "")
	const contenders = 50
	for i := 0; i < contenders; i++ {
		f.addMember(t, fmt.Sprintf("mgr-%02d", i), domain.RoleManager, "")
	}
	f.putRule(roleRule("managers", 1, domain.RoleManager))
	req := f.submit(t, requester, domain.PriorityUrgent)
	require.Len(t, req.AssignedTo, contenders)

	results := make([]error, contenders)
	var wg conc.WaitGroup
	for i := 0; i < contenders; i++ {
		i := i
		wg.Go(func() {
			_, results[i] = f.acceptance.Accept(context.Background(), req.ID, fmt.Sprintf("mgr-%02d", i))
		})
	}
	wg.Wait()

	stored, err := f.store.Requests().GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	winner := stored.Acceptor()
	require.NotEmpty(t, winner)

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		var already *domain.AlreadyAcceptedError
		require.True(t, errors.As(err, &already), "unexpected error %v", err)
		assert.Equal(t, winner, already.By)
	}
	assert.Equal(t, 1, wins)
}

func TestCompleteIsIdempotentForAcceptor(t *testing.T) {
	f := newFixture(t)
	requester := f.addMember(t, "requester", domain.RoleUser, "")
	f.addMember(t, "alice", domain.RoleManager, "")
	f.addMember(t, "bob", domain.RoleManager, "")
	f.putRule(roleRule("managers", 1, domain.RoleManager))
	req := f.submit(t, requester, domain.PriorityMedium)
	ctx := context.Background()

	_, err := f.acceptance.Complete(ctx, req.ID, "alice", "done")
	var invalid *domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid, "completing before accept")

	_, err = f.acceptance.Accept(ctx, req.ID, "alice")
	require.NoError(t, err)

	_, err = f.acceptance.Complete(ctx, req.ID, "bob", "")
	assert.ErrorIs(t, err, domain.ErrNotAcceptor)

	done, err := f.acceptance.Complete(ctx, req.ID, "alice", "replaced the disk")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, "replaced the disk", done.CompletionNotes)

	again, err := f.acceptance.Complete(ctx, req.ID, "alice", "other notes")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, again.Status)
	assert.Equal(t, "replaced the disk", again.CompletionNotes)
	assert.Equal(t, []string{req.ID}, f.notifier.completed)

	updates, err := f.store.Activity().ListUpdates(ctx, req.ID)
	require.NoError(t, err)
	var completions int
	for _, u := range updates {
		if u.Update.Type == domain.UpdateCompleted {
			completions++
		}
	}
	assert.Equal(t, 1, completions)
}
