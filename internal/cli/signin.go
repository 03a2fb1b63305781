package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/progsync/internal/model"
)

// signInPoll is how often signin checks whether the session adopted the
// new identity.
const signInPoll = 10 * time.Millisecond

// NewSignInCommand creates the signin command.
func NewSignInCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "signin [token]",
		Short: "Sign in with an access token and resolve the enrollment",
		Long: `Start the session, hand the access token to the remote service and wait
for the session to resolve the signed-in user's enrollment. The token
defaults to --token. Later commands need the same token to reach the
remote service; the enrollment is cached locally either way.

Example:
  progsync signin "$TOKEN"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := rootOpts.Config.Remote.AccessToken
			if len(args) == 1 {
				token = args[0]
			}
			return runSignIn(cmd, rootOpts, token)
		},
	}
}

func runSignIn(cmd *cobra.Command, opts *RootOptions, token string) error {
	out := opts.formatter(cmd)
	if token == "" {
		return out.Fail(ExitCommandError, CodeConfig, errors.New("no token: pass it as an argument or use --token"))
	}

	a, err := openApp(opts, false)
	if err != nil {
		return err
	}
	defer a.Close()

	auth, ok := a.remote.(authenticator)
	if !ok {
		return out.Fail(ExitCommandError, CodeConfig, errors.New("remote service does not support sign-in"))
	}

	ctx := cmd.Context()
	if _, err := a.start(ctx); err != nil {
		out.VerboseLog("session did not settle before sign-in: %v", err)
	}

	id, err := auth.SignIn(ctx, token)
	if err != nil {
		return out.Fail(ExitFailure, CodeNoSession, fmt.Errorf("sign in: %w", err))
	}

	waitCtx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	if err := a.waitSignedIn(waitCtx, id.UserID); err != nil {
		return out.Fail(ExitFailure, CodeInternal, fmt.Errorf("session did not adopt %s (state %s): %w", id.UserID, a.session.State(), err))
	}
	return out.Success(a.status())
}

// waitSignedIn blocks until the session has settled on an enrollment of
// userID. The SIGNED_IN event is handled on the remote's event goroutine.
func (a *app) waitSignedIn(ctx context.Context, userID string) error {
	ticker := time.NewTicker(signInPoll)
	defer ticker.Stop()
	for {
		switch a.session.State() {
		case model.StateReady, model.StateNeedsOnboarding:
			if e := a.session.Enrollment(); e != nil && e.UserID == userID {
				return nil
			}
		case model.StateError:
			return model.ErrAuthSessionMissing
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
