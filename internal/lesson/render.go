package lesson

import (
	"fmt"
	"io"
	"strings"
)

// Render writes a plain-text snapshot of the lesson: one line per section
// with its state, the current pointer and the submitted flag.
func (c *Controller) Render(w io.Writer) error {
	c.mu.Lock()
	states := c.statesLocked()
	current := c.current
	finished := c.finished
	recorded := make(map[int]bool, len(c.recorded))
	for i, ok := range c.recorded {
		recorded[i] = ok
	}
	c.mu.Unlock()

	l := c.lesson
	if err := writeLine(w, "week %d  %s  %s", l.WeekNumber, l.ProgramID, l.Title); err != nil {
		return err
	}
	for i, sec := range l.Sections {
		pointer := " "
		if i == current {
			pointer = ">"
		}
		kind := "read"
		if sec.RequiresActivity {
			kind = "activity"
			if recorded[i] {
				kind = "submitted"
			}
		}
		if err := writeLine(w, "%s %d %-9s %-9s %s", pointer, sec.Index, states[i], kind, sec.Title); err != nil {
			return err
		}
	}
	return writeLine(w, "finished: %t", finished)
}

func writeLine(w io.Writer, format string, args ...any) error {
	line := strings.TrimRight(fmt.Sprintf(format, args...), " ")
	_, err := io.WriteString(w, line+"\n")
	return err
}
