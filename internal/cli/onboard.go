package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/progsync/internal/model"
)

// NewOnboardCommand creates the onboard command.
func NewOnboardCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Mark onboarding as completed for the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			a, err := openApp(rootOpts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			state, err := a.start(cmd.Context())
			if err != nil {
				return out.Fail(ExitFailure, CodeInternal, err)
			}
			switch state {
			case model.StateNeedsOnboarding:
				if err := a.session.CompleteOnboarding(); err != nil {
					return out.Fail(ExitFailure, ErrorCode(err), err)
				}
			case model.StateReady:
				out.VerboseLog("already onboarded")
			default:
				return out.Fail(ExitFailure, CodeNoSession, model.ErrAuthSessionMissing)
			}
			return out.Success(a.status())
		},
	}
}
