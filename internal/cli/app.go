package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/progsync/internal/config"
	"github.com/roach88/progsync/internal/lesson"
	"github.com/roach88/progsync/internal/localstore"
	"github.com/roach88/progsync/internal/model"
	"github.com/roach88/progsync/internal/remote"
	"github.com/roach88/progsync/internal/session"
)

// RemoteFactory builds the remote service for cfg. The returned func
// releases it.
type RemoteFactory func(cfg *config.Config) (remote.Service, func(), error)

// settleTimeout bounds how long a command waits for the session to leave
// its transient states.
const settleTimeout = 10 * time.Second

// settledStates are the states a command acts on.
var settledStates = []model.AppState{
	model.StateReady,
	model.StateNeedsOnboarding,
	model.StateNoSession,
	model.StateError,
}

func dialRemote(cfg *config.Config) (remote.Service, func(), error) {
	if cfg.Remote.URL == "" {
		return nil, nil, errors.New("remote.url is not set (use --remote-url or PROGSYNC_REMOTE_URL)")
	}
	opts := []remote.ClientOption{remote.WithRequestTimeout(cfg.Remote.RequestTimeout)}
	if cfg.Remote.AccessToken != "" {
		opts = append(opts, remote.WithAccessToken(cfg.Remote.AccessToken))
	}
	c := remote.NewClient(cfg.Remote.URL, cfg.Remote.APIKey, opts...)
	return c, c.Close, nil
}

// app is the engine wired for one command invocation.
type app struct {
	opts    *RootOptions
	store   localstore.Store
	remote  remote.Service
	session *session.Session
	closers []func()
}

// openApp opens the store and remote and builds an unstarted session.
func openApp(opts *RootOptions, onboarding bool) (*app, error) {
	cfg := opts.Config
	st, err := localstore.Open(cfg.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	a := &app{opts: opts, store: st}
	a.closers = append(a.closers, func() {
		if err := st.Close(); err != nil {
			opts.Logger.Error("error closing store", "error", err)
		}
	})

	svc, release, err := opts.NewRemote(cfg)
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to configure remote", err)
	}
	a.remote = svc
	a.closers = append(a.closers, release)

	a.session = session.New(st, svc,
		session.WithClock(opts.Clock),
		session.WithLogger(opts.Logger),
		session.WithOnboarding(cfg.Onboarding || onboarding),
	)
	a.closers = append(a.closers, a.session.Teardown)
	return a, nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// start boots the session and waits until it settles.
func (a *app) start(ctx context.Context) (model.AppState, error) {
	if err := a.session.Init(ctx); err != nil {
		return model.StateChecking, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	return a.session.WaitFor(waitCtx, settledStates...)
}

// requireReady starts the session and fails unless it is ready.
func (a *app) requireReady(ctx context.Context, out *OutputFormatter) error {
	state, err := a.start(ctx)
	if err != nil {
		return out.Fail(ExitFailure, CodeInternal, fmt.Errorf("session did not settle (state %s): %w", state, err))
	}
	switch state {
	case model.StateReady:
		return nil
	case model.StateNeedsOnboarding:
		return out.Fail(ExitFailure, CodeOnboarding, errors.New("onboarding not completed; run progsync onboard"))
	default:
		return out.Fail(ExitFailure, CodeNoSession, model.ErrAuthSessionMissing)
	}
}

// userID is the identity's user, falling back to the cached enrollment's.
func (a *app) userID() string {
	if id := a.session.Identity(); id != nil {
		return id.UserID
	}
	if e := a.session.Enrollment(); e != nil {
		return e.UserID
	}
	return ""
}

// lesson builds a controller for week, seeded from the local store and
// hydrated from the remote.
func (a *app) lesson(ctx context.Context, out *OutputFormatter, week int) (*lesson.Controller, error) {
	cat, err := lesson.LoadCatalog(a.opts.Config.CatalogPath)
	if err != nil {
		return nil, out.Fail(ExitCommandError, CodeCatalog, err)
	}
	inst, ok := cat.Lesson(week)
	if !ok {
		return nil, out.Fail(ExitFailure, CodeUnknownWeek, fmt.Errorf("week %d is not in %s", week, a.opts.Config.CatalogPath))
	}

	user := a.userID()
	ctrl := lesson.NewController(inst, lesson.StoreSource{Store: a.store, UserID: user},
		lesson.WithLogger(a.opts.Logger),
	)
	if n := ctrl.HydrateRemote(ctx, a.remote, a.opts.Clock, user); n > 0 {
		out.VerboseLog("hydrated %d section(s) from remote", n)
	}
	return ctrl, nil
}
