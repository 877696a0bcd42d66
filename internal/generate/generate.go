// Package generate creates question instances from templates: it picks a
// variation, bakes the per-variation attachments, and records the new
// instance row.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/openassess/openassess/internal/annotate"
	"github.com/openassess/openassess/internal/model"
	"github.com/openassess/openassess/internal/render"
)

// Source is the slice of the store the generator reads and writes.
type Source interface {
	Template(id int64) (model.QTemplate, error)
	Variation(qtID int64, variation, version int) (model.Variation, error)
	VariationCount(qtID int64, version int) (int, error)
	TemplateAttachment(qtID int64, name string, version int) (*model.Attachment, error)
	QuestionAttachment(qtID int64, variation int, name string, version int) (*model.Attachment, error)
	PutQuestionAttachment(qtID int64, variation int, name, mimetype string, data []byte, version int) error
	CreateQuestion(q model.Question) (int64, error)
	PositionTemplates(examID int64, position int) ([]int64, error)
	AssignExamQuestion(examID, student int64, position int, questionID int64) error
}

// Generator builds question instances.
type Generator struct {
	data Source
	// pick returns a uniform int in [0, n). Swappable so tests can pin
	// the variation choice.
	pick func(n int) int
}

func New(data Source) *Generator {
	return &Generator{data: data, pick: rand.IntN}
}

// ExamQuestion generates an instance for one exam position: a template is
// picked at random from the position's alternatives and the new instance is
// bound to that slot.
func (g *Generator) ExamQuestion(ctx context.Context, examID, student int64, position int) (int64, error) {
	qtIDs, err := g.data.PositionTemplates(examID, position)
	if err != nil {
		return 0, fmt.Errorf("exam %d position %d templates: %w", examID, position, err)
	}
	if len(qtIDs) == 0 {
		slog.Warn("exam position has no templates", "exam", examID, "position", position)
		return 0, fmt.Errorf("exam %d position %d has no templates", examID, position)
	}
	qtID := qtIDs[g.pick(len(qtIDs))]
	qid, err := g.Question(ctx, qtID, student, examID)
	if err != nil {
		return 0, err
	}
	if err := g.data.AssignExamQuestion(examID, student, position, qid); err != nil {
		return 0, fmt.Errorf("assign question %d to exam %d position %d: %w", qid, examID, position, err)
	}
	return qid, nil
}

// Question generates a fresh instance of a template for a student, picking
// a random variation at the current template version. Pass examID 0 for
// practice.
func (g *Generator) Question(ctx context.Context, qtID, student, examID int64) (int64, error) {
	qt, err := g.data.Template(qtID)
	if err != nil {
		return 0, fmt.Errorf("generate from template %d: %w", qtID, err)
	}
	count, err := g.data.VariationCount(qtID, qt.Version)
	if err != nil {
		return 0, fmt.Errorf("generate from template %d: %w", qtID, err)
	}
	if count == 0 {
		slog.Warn("template has no variations", "qtid", qtID, "version", qt.Version)
		return 0, fmt.Errorf("template %d has no variations", qtID)
	}
	return g.fromVariation(ctx, qt, student, examID, g.pick(count)+1)
}

// fromVariation creates the instance row for one specific variation, baking
// the per-variation image and html attachments first if this is the first
// instance of that (variation, version) pair.
func (g *Generator) fromVariation(ctx context.Context, qt model.QTemplate, student, examID int64, variation int) (int64, error) {
	qvars, err := g.data.Variation(qt.ID, variation, qt.Version)
	if err != nil {
		return 0, fmt.Errorf("template %d variation %d: %w", qt.ID, variation, err)
	}
	if qvars == nil {
		slog.Warn("generating with no variation data", "qtid", qt.ID, "variation", variation)
		qvars = model.Variation{}
	}

	if err := g.bakeImage(qt, variation, qvars); err != nil {
		return 0, err
	}
	if err := g.bakeHTML(ctx, qt, variation, qvars); err != nil {
		return 0, err
	}

	qid, err := g.data.CreateQuestion(model.Question{
		QTemplate: qt.ID,
		Name:      qt.Title,
		Student:   student,
		Status:    model.QStatusUnseen,
		Variation: variation,
		Version:   qt.Version,
		Exam:      examID,
	})
	if err != nil {
		return 0, fmt.Errorf("create instance of template %d: %w", qt.ID, err)
	}
	return qid, nil
}

// bakeImage writes the annotated per-variation image.gif unless one already
// exists for this (variation, version). Annotation trouble falls back to
// the plain base image so the question still renders.
func (g *Generator) bakeImage(qt model.QTemplate, variation int, qvars model.Variation) error {
	existing, err := g.data.QuestionAttachment(qt.ID, variation, model.AttImage, qt.Version)
	if err != nil {
		return fmt.Errorf("check baked image for template %d: %w", qt.ID, err)
	}
	if existing != nil {
		return nil
	}
	base, err := g.data.TemplateAttachment(qt.ID, model.AttImage, qt.Version)
	if err != nil {
		return fmt.Errorf("load base image for template %d: %w", qt.ID, err)
	}
	if base == nil {
		return nil
	}

	data := base.Data
	if marks := annotate.FromVariation(qvars); len(marks) > 0 {
		annotated, err := annotate.Annotate(base.Data, marks)
		if err != nil {
			slog.Warn("image annotation failed, using base image",
				"qtid", qt.ID, "variation", variation, "error", err)
		} else {
			data = annotated
		}
	}
	if err := g.data.PutQuestionAttachment(qt.ID, variation, model.AttImage, "image/gif", data, qt.Version); err != nil {
		return fmt.Errorf("save baked image for template %d: %w", qt.ID, err)
	}
	return nil
}

// bakeHTML expands the template body against the variation and stores it as
// the instance-level qtemplate.html, unless already baked.
func (g *Generator) bakeHTML(ctx context.Context, qt model.QTemplate, variation int, qvars model.Variation) error {
	existing, err := g.data.QuestionAttachment(qt.ID, variation, model.AttQTemplateHTML, qt.Version)
	if err != nil {
		return fmt.Errorf("check baked html for template %d: %w", qt.ID, err)
	}
	if existing != nil {
		return nil
	}
	src, err := g.data.TemplateAttachment(qt.ID, model.AttQTemplateHTML, qt.Version)
	if err != nil {
		return fmt.Errorf("load template html for template %d: %w", qt.ID, err)
	}
	if src == nil {
		slog.Warn("template has no html body", "qtid", qt.ID, "version", qt.Version)
		return nil
	}
	html := render.Instantiate(ctx, qvars, src.Data)
	if err := g.data.PutQuestionAttachment(qt.ID, variation, model.AttQTemplateHTML, "text/html", html, qt.Version); err != nil {
		return fmt.Errorf("save baked html for template %d: %w", qt.ID, err)
	}
	return nil
}
