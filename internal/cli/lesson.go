package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/progsync/internal/lesson"
	"github.com/roach88/progsync/internal/model"
)

// LessonOptions holds flags for the lesson command.
type LessonOptions struct {
	*RootOptions
	Resume int
}

type sectionView struct {
	Index     int                `json:"index"`
	Title     string             `json:"title"`
	State     model.SectionState `json:"state"`
	Activity  bool               `json:"requires_activity"`
	Submitted bool               `json:"submitted"`
}

type lessonView struct {
	Week     int           `json:"week"`
	Program  string        `json:"program"`
	Title    string        `json:"title"`
	Current  int           `json:"current"`
	Finished bool          `json:"finished"`
	Sections []sectionView `json:"sections"`

	rendered string
}

func (v lessonView) String() string { return v.rendered }

func newLessonView(ctrl *lesson.Controller) (lessonView, error) {
	var b strings.Builder
	if err := ctrl.Render(&b); err != nil {
		return lessonView{}, err
	}
	l := ctrl.Lesson()
	v := lessonView{
		Week:     l.WeekNumber,
		Program:  l.ProgramID,
		Title:    l.Title,
		Current:  ctrl.Current(),
		Finished: ctrl.Finished(),
		rendered: strings.TrimSuffix(b.String(), "\n"),
	}
	states := ctrl.States()
	for _, sec := range l.Sections {
		v.Sections = append(v.Sections, sectionView{
			Index:     sec.Index,
			Title:     sec.Title,
			State:     states[sec.Index],
			Activity:  sec.RequiresActivity,
			Submitted: ctrl.Submitted(sec.Index),
		})
	}
	return v, nil
}

// NewLessonCommand creates the lesson command.
func NewLessonCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LessonOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "lesson <week>",
		Short: "Show the section states of a lesson",
		Long: `Load a week from the catalog, apply the completion records from the local
store and the remote service, and print every section's state.

Example:
  progsync lesson 1
  progsync lesson 1 --resume 2 --catalog lessons.cue`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLesson(cmd, opts, args[0])
		},
	}

	cmd.Flags().IntVar(&opts.Resume, "resume", -1, "section to resume at")

	return cmd
}

func runLesson(cmd *cobra.Command, opts *LessonOptions, weekArg string) error {
	out := opts.formatter(cmd)
	week, err := parseIndex("week", weekArg)
	if err != nil {
		return out.Fail(ExitCommandError, CodeInternal, err)
	}

	a, err := openApp(opts.RootOptions, false)
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

	if opts.Resume >= 0 {
		ctrl.Resume(opts.Resume)
	}
	v, err := newLessonView(ctrl)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to render lesson", err)
	}
	return out.Success(v)
}

func parseIndex(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", name, s)
	}
	return n, nil
}
