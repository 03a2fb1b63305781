package session

import (
	"context"
	"time"

	"github.com/roach88/progsync/internal/failsafe"
	"github.com/roach88/progsync/internal/localstore"
	"github.com/roach88/progsync/internal/model"
)

// Reconcile returns the active enrollment for userID, merging the cache with
// the remote copy.
//
// A cached enrollment for the same user is returned at once and refreshed in
// the background. Otherwise the remote is raced against
// EnrollmentRaceTimeout; when it has nothing (or does not answer) a default
// enrollment is created, and if that fails too a local-only enrollment is
// used. The session ends in ready (or needs_onboarding) on every path.
//
// The only error besides ctx cancellation is ErrAuthSessionMissing for an
// empty userID, which also moves the session to the error state.
func (s *Session) Reconcile(ctx context.Context, userID string) (model.Enrollment, error) {
	return s.reconcile(ctx, s.generation(), userID, raceDeadline)
}

func (s *Session) reconcile(ctx context.Context, gen uint64, userID string, deadline deadlineFunc) (model.Enrollment, error) {
	if userID == "" {
		s.transition(gen, model.StateError)
		return model.Enrollment{}, model.ErrAuthSessionMissing
	}

	cached := s.loadCache()
	if cached != nil && cached.UserID == userID {
		s.adopt(gen, *cached)
		s.startRefresh(gen, userID)
		return *cached, nil
	}
	if cached != nil {
		s.logger.Info("discarding enrollment cache of another user", "cached_user_id", cached.UserID)
		if err := localstore.ClearEnrollment(s.store); err != nil {
			s.logger.Warn("clear enrollment cache failed", "error", err)
		}
	}

	fetch := failsafe.Race(ctx, s.clock, deadline(), func(ctx context.Context) (*model.Enrollment, error) {
		return s.remote.GetActiveEnrollment(ctx, userID)
	})
	switch {
	case ctx.Err() != nil:
		return model.Enrollment{}, ctx.Err()
	case fetch.TimedOut:
		s.logger.Debug("enrollment fetch timed out", "error", model.NewTimeoutError("enrollment.fetch"))
	case fetch.Err != nil:
		s.logger.Warn("enrollment fetch failed", "error", model.NewRemoteError("enrollment.fetch", fetch.Err))
	case fetch.Value != nil:
		e := s.remoteEnrollment(*fetch.Value, userID)
		s.cache(e)
		s.adopt(gen, e)
		return e, nil
	}

	s.transition(gen, model.StateNeedsEnrollment)
	e, err := s.create(ctx, userID, deadline())
	if err != nil {
		return model.Enrollment{}, err
	}
	s.cache(e)
	s.adopt(gen, e)
	return e, nil
}

// create makes a default enrollment remotely, falling back to a local-only
// one when the remote fails or the deadline passes.
func (s *Session) create(ctx context.Context, userID string, deadline time.Duration) (model.Enrollment, error) {
	out := failsafe.Race(ctx, s.clock, deadline, func(ctx context.Context) (*model.Enrollment, error) {
		return s.remote.CreateEnrollment(ctx, model.DefaultProgram, model.DefaultTrackLevel, model.DefaultLocale)
	})
	switch {
	case ctx.Err() != nil:
		return model.Enrollment{}, ctx.Err()
	case out.TimedOut:
		s.logger.Debug("enrollment create timed out", "error", model.NewTimeoutError("enrollment.create"))
	case out.Err != nil:
		s.logger.Warn("enrollment create failed", "error", model.NewRemoteError("enrollment.create", out.Err))
	case out.Value == nil:
		s.logger.Warn("enrollment create returned nothing")
	default:
		e := s.remoteEnrollment(*out.Value, userID)
		s.logger.Info("enrollment created", "enrollment_id", e.ID)
		return e, nil
	}

	e := model.Enrollment{
		ID:         s.ids.Generate(),
		UserID:     userID,
		Program:    model.DefaultProgram,
		TrackLevel: model.DefaultTrackLevel,
		Locale:     model.DefaultLocale,
		CreatedAt:  s.clock.Now(),
		LocalOnly:  true,
	}.Normalize()
	s.logger.Info("using local-only enrollment", "enrollment_id", e.ID)
	return e, nil
}

// remoteEnrollment fills the user id when the remote omits it.
func (s *Session) remoteEnrollment(e model.Enrollment, userID string) model.Enrollment {
	if e.UserID == "" {
		e.UserID = userID
	}
	e.LocalOnly = false
	return e.Normalize()
}

// cache writes e to the local store. Failures only cost durability.
func (s *Session) cache(e model.Enrollment) {
	changed, err := localstore.SaveEnrollment(s.store, e)
	if err != nil {
		s.logger.Warn("write enrollment cache failed", "error", err)
		return
	}
	if changed {
		s.logger.Debug("enrollment cache written", "enrollment_id", e.ID)
	}
}

// startRefresh runs a background refresh for userID. Concurrent refreshes
// for the same user share one pass.
func (s *Session) startRefresh(gen uint64, userID string) {
	s.tasks.Go(func() {
		_, _, _ = s.refresh.Do(userID, func() (any, error) {
			s.refreshCache(gen, userID)
			return nil, nil
		})
	})
}

// refreshCache overwrites the cache with the remote record of the same
// user. A remote that has nothing never clears the cache; a local-only
// cached enrollment is created remotely instead.
func (s *Session) refreshCache(gen uint64, userID string) {
	out := failsafe.Race(s.ctx, s.clock, failsafe.EnrollmentRaceTimeout, func(ctx context.Context) (*model.Enrollment, error) {
		return s.remote.GetActiveEnrollment(ctx, userID)
	})
	switch {
	case s.ctx.Err() != nil:
		return
	case out.TimedOut:
		s.logger.Debug("background enrollment refresh timed out", "error", model.NewTimeoutError("enrollment.refresh"))
		return
	case out.Err != nil:
		s.logger.Warn("background enrollment refresh failed", "error", model.NewRemoteError("enrollment.refresh", out.Err))
		return
	case out.Value != nil:
		if out.Value.UserID != "" && out.Value.UserID != userID {
			s.logger.Warn("remote enrollment belongs to another user", "user_id", out.Value.UserID)
			return
		}
		s.replaceActive(gen, s.remoteEnrollment(*out.Value, userID))
		return
	}

	cached := s.loadCache()
	if cached == nil || cached.UserID != userID || !cached.LocalOnly {
		return
	}
	created := failsafe.Race(s.ctx, s.clock, failsafe.EnrollmentRaceTimeout, func(ctx context.Context) (*model.Enrollment, error) {
		return s.remote.CreateEnrollment(ctx, cached.Program, cached.TrackLevel, cached.Locale)
	})
	switch {
	case s.ctx.Err() != nil:
	case created.TimedOut:
		s.logger.Debug("enrollment promotion timed out", "error", model.NewTimeoutError("enrollment.promote"))
	case created.Err != nil || created.Value == nil:
		s.logger.Warn("enrollment promotion failed", "error", model.NewRemoteError("enrollment.promote", created.Err))
	default:
		e := s.remoteEnrollment(*created.Value, userID)
		s.logger.Info("local-only enrollment promoted", "local_id", cached.ID, "enrollment_id", e.ID)
		s.replaceActive(gen, e)
	}
}

// replaceActive caches e and swaps it in as the active enrollment without
// changing the application state. Dropped when gen is stale.
func (s *Session) replaceActive(gen uint64, e model.Enrollment) {
	s.mu.Lock()
	stale := gen != s.gen || s.closed
	s.mu.Unlock()
	if stale {
		return
	}

	s.cache(e)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.gen {
		s.enrollment = &e
	}
}
