package lesson

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func assertRender(t *testing.T, name string, c *Controller) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, c.Render(&buf))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, buf.Bytes())
}

func TestRender_Fresh(t *testing.T) {
	c := NewController(threeSectionLesson(), nil)
	assertRender(t, "render_fresh", c)
}

func TestRender_InProgress(t *testing.T) {
	c := NewController(threeSectionLesson(), nil)
	c.MarkCompleted(0)
	c.Select(1)
	assertRender(t, "render_in_progress", c)
}

func TestRender_Finished(t *testing.T) {
	c := NewController(threeSectionLesson(), nil)
	c.MarkCompleted(0)
	c.MarkCompleted(1)
	c.Select(2)
	c.Advance()
	assertRender(t, "render_finished", c)
}
