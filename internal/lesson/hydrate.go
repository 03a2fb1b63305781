package lesson

import (
	"context"

	"github.com/roach88/progsync/internal/failsafe"
	"github.com/roach88/progsync/internal/localstore"
	"github.com/roach88/progsync/internal/model"
	"github.com/roach88/progsync/internal/remote"
)

// StoreSource reads one user's completion records from the local store.
type StoreSource struct {
	Store  localstore.Store
	UserID string
}

// Completions implements CompletionSource. Corrupt records are returned
// together with the error.
func (s StoreSource) Completions(week int) ([]model.SectionCompletionRecord, error) {
	return localstore.ListCompletions(s.Store, s.UserID, week)
}

// ReadSections implements ReadingSource.
func (s StoreSource) ReadSections(week int) ([]int, error) {
	return localstore.ListRead(s.Store, s.UserID, week)
}

// MarkRead implements ReadingSource.
func (s StoreSource) MarkRead(week, section int) error {
	_, err := localstore.MarkRead(s.Store, s.UserID, week, section)
	return err
}

// HydrateRemote merges the sections the remote service knows to be
// submitted. The call is raced against EnrollmentRaceTimeout and stops on
// Teardown; a timeout or remote failure leaves the controller unchanged.
// Returns how many sections were newly recorded.
func (c *Controller) HydrateRemote(ctx context.Context, svc remote.Service, clock failsafe.Clock, userID string) int {
	if userID == "" {
		return 0
	}
	ctx, stop := failsafe.Join(ctx, c.ctx)
	defer stop()

	out := failsafe.Race(ctx, clock, failsafe.EnrollmentRaceTimeout, func(ctx context.Context) ([]int, error) {
		return svc.ListActivityResponses(ctx, userID, c.lesson.WeekNumber)
	})
	switch {
	case ctx.Err() != nil:
		return 0
	case out.TimedOut:
		c.logger.Debug("remote completion list timed out", "error", model.NewTimeoutError("lesson.hydrate"))
		return 0
	case out.Err != nil:
		c.logger.Warn("remote completion list failed", "error", model.NewRemoteError("lesson.hydrate", out.Err))
		return 0
	}

	added := c.Hydrate(out.Value)
	if added > 0 {
		c.logger.Info("hydrated completions from remote", "added", added)
	}
	return added
}
