package session

import (
	"errors"
	"time"

	"github.com/roach88/progsync/internal/failsafe"
	"github.com/roach88/progsync/internal/localstore"
	"github.com/roach88/progsync/internal/model"
)

// deadlineFunc returns the deadline for the next remote race.
type deadlineFunc func() time.Duration

// raceDeadline is the deadline outside any enclosing budget.
func raceDeadline() time.Duration {
	return failsafe.EnrollmentRaceTimeout
}

// within caps every race at what is left of budget since start.
func within(c failsafe.Clock, start time.Time, budget time.Duration) deadlineFunc {
	return func() time.Duration {
		return min(failsafe.EnrollmentRaceTimeout, failsafe.Remaining(c, start, budget))
	}
}

// loadCache reads the cached enrollment. Corrupt entries are discarded by
// the store and logged here.
func (s *Session) loadCache() *model.Enrollment {
	cached, err := localstore.LoadEnrollment(s.store)
	if err != nil {
		s.logger.Warn("enrollment cache unusable", "error", err)
		return nil
	}
	return cached
}

// bootstrap resolves identity against BootstrapTimeout and routes to the
// background refresh (cache for the same user) or the foreground check.
func (s *Session) bootstrap(gen uint64, start time.Time, cached *model.Enrollment) {
	out := failsafe.Race(s.ctx, s.clock, failsafe.BootstrapTimeout, s.remote.GetSession)

	switch {
	case s.ctx.Err() != nil:
		return
	case out.TimedOut:
		s.logger.Debug("session check timed out", "error", model.NewTimeoutError("session.bootstrap"))
		s.transition(gen, model.StateNoSession)
		return
	case out.Err != nil:
		s.logger.Warn("session check failed", "error", model.NewRemoteError("session.bootstrap", out.Err))
		if cached == nil {
			s.transition(gen, model.StateNoSession)
		}
		return
	case out.Value == nil || out.Value.UserID == "":
		s.logger.Info("no authenticated session", "error", model.ErrAuthSessionMissing)
		s.transition(gen, model.StateNoSession)
		return
	}

	id := *out.Value
	if !s.setIdentity(gen, id) {
		return
	}
	s.logger.Info("identity resolved", "user_id", id.UserID, "cached", cached != nil)

	if cached != nil && cached.UserID == id.UserID {
		s.startRefresh(gen, id.UserID)
		return
	}

	if cached != nil {
		s.logger.Info("discarding enrollment cache of another user", "cached_user_id", cached.UserID)
		if err := localstore.ClearEnrollment(s.store); err != nil {
			s.logger.Warn("clear enrollment cache failed", "error", err)
		}
		s.mu.Lock()
		if gen == s.gen {
			s.enrollment = nil
		}
		s.mu.Unlock()
		s.transition(gen, model.StateChecking)
	}

	_, err := s.reconcile(s.ctx, gen, id.UserID, within(s.clock, start, failsafe.BootstrapTimeout))
	if err != nil && !errors.Is(err, s.ctx.Err()) {
		s.logger.Warn("bootstrap reconcile failed", "error", err)
	}
}
