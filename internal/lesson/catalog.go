package lesson

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/progsync/internal/model"
)

//go:embed catalog.cue
var catalogSchema string

// Catalog is the set of lessons of one program.
type Catalog struct {
	Program string                 `json:"program,omitempty" yaml:"program,omitempty"`
	Lessons []model.LessonInstance `json:"lessons" yaml:"lessons"`
}

// Lesson returns the lesson of the given week.
func (c *Catalog) Lesson(week int) (model.LessonInstance, bool) {
	for _, l := range c.Lessons {
		if l.WeekNumber == week {
			return l, true
		}
	}
	return model.LessonInstance{}, false
}

// CatalogError reports an invalid lesson catalog.
type CatalogError struct {
	Path    string
	Field   string
	Message string
}

func (e *CatalogError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// LoadCatalog reads a lesson catalog from a .yaml, .yml or .cue file.
//
// CUE files are unified with the embedded catalog schema before decoding.
// Both formats must list each lesson's sections in order with contiguous
// indices starting at 0, and week numbers must be unique. Lessons are
// returned sorted by week; a missing program_id inherits the catalog's
// program (default COLLEGE).
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var cat Catalog
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cat); err != nil {
			return nil, &CatalogError{Path: path, Message: err.Error()}
		}
	case ".cue":
		if err := decodeCUE(path, data, &cat); err != nil {
			return nil, err
		}
	default:
		return nil, &CatalogError{Path: path, Message: fmt.Sprintf("unsupported catalog format %q", ext)}
	}

	if err := cat.normalize(path); err != nil {
		return nil, err
	}
	return &cat, nil
}

func decodeCUE(path string, data []byte, cat *Catalog) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(catalogSchema, cue.Filename("catalog.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile catalog schema: %w", err)
	}

	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return &CatalogError{Path: path, Message: cueMessage(err)}
	}
	v = schema.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return &CatalogError{Path: path, Message: cueMessage(err)}
	}
	if err := v.Decode(cat); err != nil {
		return &CatalogError{Path: path, Message: cueMessage(err)}
	}
	return nil
}

// cueMessage flattens a CUE error list into its first message.
func cueMessage(err error) string {
	var ce cueerrors.Error
	if errors.As(err, &ce) {
		format, args := ce.Msg()
		msg := fmt.Sprintf(format, args...)
		if p := ce.Path(); len(p) > 0 {
			msg = fmt.Sprintf("%s: %s", strings.Join(p, "."), msg)
		}
		return msg
	}
	return err.Error()
}

// normalize applies defaults and checks section ordering.
func (c *Catalog) normalize(path string) error {
	if c.Program == "" {
		c.Program = model.DefaultProgram
	}
	if len(c.Lessons) == 0 {
		return &CatalogError{Path: path, Field: "lessons", Message: "no lessons defined"}
	}

	seen := make(map[int]bool, len(c.Lessons))
	for li := range c.Lessons {
		l := &c.Lessons[li]
		field := fmt.Sprintf("lessons[%d]", li)
		if l.WeekNumber < 1 {
			return &CatalogError{Path: path, Field: field + ".week_number", Message: "must be at least 1"}
		}
		if seen[l.WeekNumber] {
			return &CatalogError{Path: path, Field: field + ".week_number", Message: fmt.Sprintf("week %d defined twice", l.WeekNumber)}
		}
		seen[l.WeekNumber] = true
		if l.ProgramID == "" {
			l.ProgramID = c.Program
		}
		if len(l.Sections) == 0 {
			return &CatalogError{Path: path, Field: field + ".sections", Message: "at least one section is required"}
		}
		for si, s := range l.Sections {
			if s.Index != si {
				return &CatalogError{
					Path:    path,
					Field:   fmt.Sprintf("%s.sections[%d].index", field, si),
					Message: fmt.Sprintf("expected index %d, got %d", si, s.Index),
				}
			}
		}
	}

	slices.SortFunc(c.Lessons, func(a, b model.LessonInstance) int {
		return a.WeekNumber - b.WeekNumber
	})
	return nil
}
