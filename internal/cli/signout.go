package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/progsync/internal/model"
)

// authenticator is implemented by remote services that hold a session
// token and publish auth events.
type authenticator interface {
	SignIn(ctx context.Context, token string) (*model.Identity, error)
	SignOut()
}

type signOutView struct {
	SignedOut bool `json:"signed_out"`
}

func (signOutView) String() string { return "signed out" }

// NewSignOutCommand creates the signout command.
func NewSignOutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Forget the session and clear the cached enrollment",
		Long: `Remove the cached enrollment from the local store. Completion records are
kept; they belong to the user and are picked up again on the next sign-in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			a.session.SignOut()
			// The session is not started here, so the remote's SIGNED_OUT
			// event has no subscriber; this only drops the remote's token.
			if auth, ok := a.remote.(authenticator); ok {
				auth.SignOut()
			}
			return out.Success(signOutView{SignedOut: true})
		},
	}
}
