package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/progsync/internal/model"
)

// statusView is the session snapshot printed by status and onboard.
type statusView struct {
	State      model.AppState    `json:"state"`
	Identity   *model.Identity   `json:"identity,omitempty"`
	Enrollment *model.Enrollment `json:"enrollment,omitempty"`
}

func (v statusView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "state: %s", v.State)
	if v.Identity != nil {
		fmt.Fprintf(&b, "\nuser: %s <%s>", v.Identity.UserID, v.Identity.Email)
	}
	if e := v.Enrollment; e != nil {
		fmt.Fprintf(&b, "\nenrollment: %s %s/%s/%s", e.ID, e.Program, e.TrackLevel, e.Locale)
		if e.LocalOnly {
			b.WriteString(" (local only)")
		}
	}
	return b.String()
}

func (a *app) status() statusView {
	return statusView{
		State:      a.session.State(),
		Identity:   a.session.Identity(),
		Enrollment: a.session.Enrollment(),
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Boot the session and print its state",
		Long: `Boot the session from the local cache, resolve the identity and reconcile
the enrollment, then print the settled state.

Example:
  progsync status
  progsync status --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.start(cmd.Context()); err != nil {
				out.VerboseLog("session did not settle: %v", err)
			}
			return out.Success(a.status())
		},
	}
}
