package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/progsync/internal/model"
)

// NewAdvanceCommand creates the advance command.
func NewAdvanceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <week> <section>",
		Short: "Mark a section as read and move past it",
		Long: `Advance past a section. A reading section is completed and the flag is
kept in the local store, which unlocks the section after it. A section
with an activity can only be advanced once its response was submitted.

Example:
  progsync advance 2 0`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdvance(cmd, rootOpts, args[0], args[1])
		},
	}
}

func runAdvance(cmd *cobra.Command, opts *RootOptions, weekArg, sectionArg string) error {
	out := opts.formatter(cmd)
	week, err := parseIndex("week", weekArg)
	if err != nil {
		return out.Fail(ExitCommandError, CodeInternal, err)
	}
	section, err := parseIndex("section", sectionArg)
	if err != nil {
		return out.Fail(ExitCommandError, CodeInternal, err)
	}

	a, err := openApp(opts, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.requireReady(ctx, out); err != nil {
		return err
	}
	ctrl, err := a.lesson(ctx, out, week)
	if err != nil {
		return err
	}
	defer ctrl.Teardown()

	if !ctrl.Select(section) {
		return out.Fail(ExitFailure, CodeLocked, &model.SyncError{
			Code:    model.ErrCodeSectionLocked,
			Op:      "advance",
			Message: fmt.Sprintf("section %d is locked", section),
		})
	}
	if !ctrl.Advance() && ctrl.State(section) != model.SectionCompleted {
		return out.Fail(ExitFailure, CodeLocked, &model.SyncError{
			Code:    model.ErrCodeSectionLocked,
			Op:      "advance",
			Message: fmt.Sprintf("section %d needs its activity submitted first", section),
		})
	}

	v, err := newLessonView(ctrl)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to render lesson", err)
	}
	return out.Success(v)
}
