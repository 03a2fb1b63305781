package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/progsync/internal/activity"
	"github.com/roach88/progsync/internal/failsafe"
	"github.com/roach88/progsync/internal/model"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Text string
	File string
}

type submitView struct {
	Week       int              `json:"week"`
	Section    int              `json:"section"`
	Status     activity.Status  `json:"status"`
	Durability model.Durability `json:"durability"`
	TimedOut   bool             `json:"timed_out"`
	Finished   bool             `json:"lesson_finished"`
}

func (v submitView) String() string {
	s := fmt.Sprintf("week %d section %d %s (%s)", v.Week, v.Section, v.Status, v.Durability)
	if v.Finished {
		s += "\nlesson finished"
	}
	return s
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <week> <section>",
		Short: "Submit an activity response",
		Long: `Submit a response for a section's activity. The response is saved locally
first and the section completes within five seconds even when the remote
service does not answer.

The response is read from --text, from --file, or from stdin.

Example:
  progsync submit 1 0 --file answer.txt
  echo "..." | progsync submit 1 1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.Text, "text", "", "response text")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read the response from a file (- for stdin)")
	cmd.MarkFlagsMutuallyExclusive("text", "file")

	return cmd
}

func runSubmit(cmd *cobra.Command, opts *SubmitOptions, weekArg, sectionArg string) error {
	out := opts.formatter(cmd)
	week, err := parseIndex("week", weekArg)
	if err != nil {
		return out.Fail(ExitCommandError, CodeInternal, err)
	}
	section, err := parseIndex("section", sectionArg)
	if err != nil {
		return out.Fail(ExitCommandError, CodeInternal, err)
	}
	text, err := readResponse(cmd, opts)
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

	// The detached remote write of a timed-out submission is not awaited.
	p := activity.New(ctrl, a.store, a.remote, a.session,
		activity.WithClock(opts.Clock),
		activity.WithLogger(opts.Logger),
	)
	res, err := p.Submit(ctx, section, text)
	if err != nil {
		if model.IsRejection(err) {
			return out.Fail(ExitFailure, ErrorCode(err), err)
		}
		return out.Fail(ExitFailure, CodeInternal, err)
	}

	if res.TimedOut {
		out.VerboseLog("remote did not answer within %s; the response is kept locally", failsafe.SubmissionTimeout)
	}

	return out.Success(submitView{
		Week:       week,
		Section:    section,
		Status:     res.Status,
		Durability: res.Durability,
		TimedOut:   res.TimedOut,
		Finished:   ctrl.Finished(),
	})
}

func readResponse(cmd *cobra.Command, opts *SubmitOptions) (string, error) {
	if opts.Text != "" {
		return opts.Text, nil
	}
	var r io.Reader = cmd.InOrStdin()
	if opts.File != "" && opts.File != "-" {
		f, err := os.Open(opts.File)
		if err != nil {
			return "", fmt.Errorf("open response file: %w", err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if len(data) == 0 {
		return "", errors.New("empty response: use --text, --file or stdin")
	}
	return string(data), nil
}
