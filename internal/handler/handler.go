package handler

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openassess/openassess/internal/assess"
	"github.com/openassess/openassess/internal/i18n"
	"github.com/openassess/openassess/internal/mark"
	"github.com/openassess/openassess/internal/model"
	"github.com/openassess/openassess/internal/render"
	"github.com/openassess/openassess/internal/results"
	"github.com/openassess/openassess/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
//
// Authentication lives in front of this service; the student identity
// arrives in the X-Student-ID header set by the gateway.
type Handler struct {
	store   *store.Store
	assess  *assess.Assessor
	results *results.Renderer
}

// New creates a new Handler.
func New(s *store.Store, a *assess.Assessor, res *results.Renderer) *Handler {
	return &Handler{store: s, assess: a, results: res}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/practice/{qtID}", h.handlePracticeQuestion)
	r.Post("/practice/{qtID}", h.handlePracticeSubmit)
	r.Get("/embed/{embedID}", h.handleEmbeddedPractice)

	r.Post("/exam/{examID}/start", h.handleExamStart)
	r.Get("/exam/{examID}/question/{position}", h.handleExamQuestion)
	r.Post("/exam/{examID}/answer", h.handleExamAnswer)
	r.Post("/exam/{examID}/submit", h.handleExamSubmit)
	r.Get("/exam/{examID}/review", h.handleExamReview)

	r.Get("/att/qatt/{qtID}/{version}/{variation}/{name}", h.handleQuestionAttachment)
	r.Get("/att/qtatt/{qtID}/{version}/{variation}/{name}", h.handleTemplateAttachment)

	r.Post("/admin/exam/{examID}/remark/{student}", h.handleRemark)
	r.Post("/admin/exam/{examID}/unsubmit/{student}", h.handleUnsubmit)
	r.Get("/admin/exam/{examID}/duration/{student}", h.handleExamDuration)
	r.Post("/admin/template/{qtID}", h.handleTemplateUpdate)
}

func student(r *http.Request) (int64, error) {
	raw := r.Header.Get("X-Student-ID")
	if raw == "" {
		raw = r.URL.Query().Get("student")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("missing or invalid student id")
	}
	return id, nil
}

func urlID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func writeHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(body)); err != nil {
		slog.Error("write response", "error", err)
	}
}

var reAnswerField = regexp.MustCompile(`^Q_([0-9]+)_ANS_([0-9]+)$`)

// answerFields decodes the posted form into per-question, per-part answers.
// Field names follow the Q_<qid>_ANS_<part> convention the renderer emits.
func answerFields(form url.Values) map[int64]map[int]string {
	answers := map[int64]map[int]string{}
	for field, values := range form {
		m := reAnswerField.FindStringSubmatch(field)
		if m == nil || len(values) == 0 {
			continue
		}
		qid, err1 := strconv.ParseInt(m[1], 10, 64)
		part, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			continue
		}
		if answers[qid] == nil {
			answers[qid] = map[int]string{}
		}
		answers[qid][part] = values[0]
	}
	return answers
}

func (h *Handler) handlePracticeQuestion(w http.ResponseWriter, r *http.Request) {
	sid, err := student(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	qtID, err := urlID(r, "qtID")
	if err != nil {
		http.Error(w, "invalid template ID", http.StatusBadRequest)
		return
	}
	h.servePracticeQuestion(w, r, sid, qtID)
}

// handleEmbeddedPractice serves a practice question looked up by the
// external embedding key, for templates placed in outside course pages.
func (h *Handler) handleEmbeddedPractice(w http.ResponseWriter, r *http.Request) {
	sid, err := student(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	qt, err := h.store.TemplateByEmbedID(chi.URLParam(r, "embedID"))
	if errors.Is(err, sql.ErrNoRows) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.servePracticeQuestion(w, r, sid, qt.ID)
}

func (h *Handler) servePracticeQuestion(w http.ResponseWriter, r *http.Request, sid, qtID int64) {
	qid, err := h.assess.PracticeQuestion(r.Context(), sid, qtID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	body, err := render.Question(h.store, qid, false)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeHTML(w, body)
}

func (h *Handler) handlePracticeSubmit(w http.ResponseWriter, r *http.Request) {
	sid, err := student(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	qtID, err := urlID(r, "qtID")
	if err != nil {
		http.Error(w, "invalid template ID", http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	qid, err := h.assess.PracticeQuestion(r.Context(), sid, qtID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	res, err := h.assess.MarkPractice(r.Context(), qid, answerFields(r.PostForm)[qid])
	if err != nil {
		if errors.Is(err, mark.ErrMarker) {
			h.questionBroken(w, r, qid, err)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	body, err := h.results.Render(r.Context(), qid, res)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeHTML(w, body)
}

func (h *Handler) handleExamStart(w http.ResponseWriter, r *http.Request) {
	sid, err := student(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	examID, err := urlID(r, "examID")
	if err != nil {
		http.Error(w, "invalid exam ID", http.StatusBadRequest)
		return
	}
	deadline, err := h.assess.StartExam(examID, sid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"exam":%d,"deadline":%q}`, examID, deadline.Format("2006-01-02T15:04:05Z07:00"))
}

func (h *Handler) handleExamQuestion(w http.ResponseWriter, r *http.Request) {
	sid, err := student(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	examID, err := urlID(r, "examID")
	if err != nil {
		http.Error(w, "invalid exam ID", http.StatusBadRequest)
		return
	}
	position, err := strconv.Atoi(chi.URLParam(r, "position"))
	if err != nil || position < 1 {
		http.Error(w, "invalid position", http.StatusBadRequest)
		return
	}

	// Submitted attempts render read-only.
	done, err := h.store.IsDoneBy(examID, sid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	qid, err := h.assess.ExamQuestion(r.Context(), examID, sid, position)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	body, err := render.Question(h.store, qid, done)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeHTML(w, body)
}

// handleExamAnswer is the auto-save endpoint: posted answers are recorded
// as guesses without marking anything.
func (h *Handler) handleExamAnswer(w http.ResponseWriter, r *http.Request) {
	sid, err := student(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	examID, err := urlID(r, "examID")
	if err != nil {
		http.Error(w, "invalid exam ID", http.StatusBadRequest)
		return
	}
	done, err := h.store.IsDoneBy(examID, sid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if done {
		http.Error(w, "exam already submitted", http.StatusConflict)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.saveAnswers(examID, sid, answerFields(r.PostForm)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// saveAnswers records guesses, accepting only answers for questions that
// belong to this student's attempt.
func (h *Handler) saveAnswers(examID, sid int64, answers map[int64]map[int]string) error {
	for qid, parts := range answers {
		q, err := h.store.Question(qid)
		if err != nil {
			return fmt.Errorf("look up question %d: %w", qid, err)
		}
		if q.Student != sid || q.Exam != examID {
			slog.Warn("answer posted for someone else's question",
				"question", qid, "student", sid, "exam", examID)
			continue
		}
		for part, value := range parts {
			if err := h.store.SaveGuess(qid, part, value); err != nil {
				return fmt.Errorf("save guess for question %d: %w", qid, err)
			}
		}
	}
	return nil
}

func (h *Handler) handleExamSubmit(w http.ResponseWriter, r *http.Request) {
	sid, err := student(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	examID, err := urlID(r, "examID")
	if err != nil {
		http.Error(w, "invalid exam ID", http.StatusBadRequest)
		return
	}
	done, err := h.store.IsDoneBy(examID, sid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if done {
		http.Error(w, "exam already submitted", http.StatusConflict)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.saveAnswers(examID, sid, answerFields(r.PostForm)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if _, err := h.assess.MarkExam(r.Context(), examID, sid); err != nil {
		if errors.Is(err, mark.ErrMarker) {
			slog.Error("exam marking aborted", "exam", examID, "student", sid, "error", err)
			if serr := h.store.SetUserExamStatus(examID, sid, model.ExamBroken); serr != nil {
				slog.Error("set broken status", "exam", examID, "error", serr)
			}
			http.Error(w, i18n.T(r.Context(), "results.question.broken"), http.StatusInternalServerError)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/exam/%d/review", examID), http.StatusSeeOther)
}

func (h *Handler) handleExamReview(w http.ResponseWriter, r *http.Request) {
	sid, err := student(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	examID, err := urlID(r, "examID")
	if err != nil {
		http.Error(w, "invalid exam ID", http.StatusBadRequest)
		return
	}
	review, err := h.assess.Review(r.Context(), examID, sid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	for _, rq := range review {
		fmt.Fprintf(w, "<h3>%d.</h3>\n%s\n", rq.Position, rq.HTML)
	}
}

func (h *Handler) attachmentParams(r *http.Request) (qtID int64, version, variation int, name string, err error) {
	qtID, err = urlID(r, "qtID")
	if err != nil {
		return 0, 0, 0, "", fmt.Errorf("invalid template ID")
	}
	version, err = strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		return 0, 0, 0, "", fmt.Errorf("invalid version")
	}
	variation, err = strconv.Atoi(chi.URLParam(r, "variation"))
	if err != nil {
		return 0, 0, 0, "", fmt.Errorf("invalid variation")
	}
	return qtID, version, variation, chi.URLParam(r, "name"), nil
}

func (h *Handler) handleQuestionAttachment(w http.ResponseWriter, r *http.Request) {
	qtID, version, variation, name, err := h.attachmentParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	att, err := h.store.ResolveAttachment(qtID, variation, version, name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	serveAttachment(w, r, att)
}

func (h *Handler) handleTemplateAttachment(w http.ResponseWriter, r *http.Request) {
	qtID, version, _, name, err := h.attachmentParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	att, err := h.store.TemplateAttachment(qtID, name, version)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	serveAttachment(w, r, att)
}

func serveAttachment(w http.ResponseWriter, r *http.Request, att *model.Attachment) {
	if att == nil {
		http.NotFound(w, r)
		return
	}
	mimetype := att.MimeType
	if mimetype == "" {
		mimetype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimetype)
	if _, err := w.Write(att.Data); err != nil {
		slog.Error("write attachment", "name", att.Name, "error", err)
	}
}

func (h *Handler) handleRemark(w http.ResponseWriter, r *http.Request) {
	examID, err := urlID(r, "examID")
	if err != nil {
		http.Error(w, "invalid exam ID", http.StatusBadRequest)
		return
	}
	sid, err := urlID(r, "student")
	if err != nil {
		http.Error(w, "invalid student ID", http.StatusBadRequest)
		return
	}
	total, err := h.assess.RemarkExam(r.Context(), examID, sid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"exam":%d,"student":%d,"score":%g}`, examID, sid, total)
}

func (h *Handler) handleUnsubmit(w http.ResponseWriter, r *http.Request) {
	examID, err := urlID(r, "examID")
	if err != nil {
		http.Error(w, "invalid exam ID", http.StatusBadRequest)
		return
	}
	sid, err := urlID(r, "student")
	if err != nil {
		http.Error(w, "invalid student ID", http.StatusBadRequest)
		return
	}
	if err := h.assess.Unsubmit(examID, sid); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleExamDuration(w http.ResponseWriter, r *http.Request) {
	examID, err := urlID(r, "examID")
	if err != nil {
		http.Error(w, "invalid exam ID", http.StatusBadRequest)
		return
	}
	sid, err := urlID(r, "student")
	if err != nil {
		http.Error(w, "invalid student ID", http.StatusBadRequest)
		return
	}
	d, err := h.assess.StudentExamDuration(examID, sid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"exam":%d,"student":%d,"seconds":%g}`, examID, sid, d.Seconds())
}

// handleTemplateUpdate rewrites the editable template fields and bumps the
// version. Attachments and variations saved afterwards get tagged with the
// new version; existing instances stay pinned to the old one.
func (h *Handler) handleTemplateUpdate(w http.ResponseWriter, r *http.Request) {
	qtID, err := urlID(r, "qtID")
	if err != nil {
		http.Error(w, "invalid template ID", http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	qt, err := h.store.Template(qtID)
	if errors.Is(err, sql.ErrNoRows) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if v := r.PostForm.Get("title"); v != "" {
		qt.Title = v
	}
	if v := r.PostForm.Get("description"); v != "" {
		qt.Description = v
	}
	if v := r.PostForm.Get("embed_id"); v != "" {
		qt.EmbedID = v
	}
	if v := r.PostForm.Get("scoremax"); v != "" {
		max, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "invalid scoremax", http.StatusBadRequest)
			return
		}
		qt.ScoreMax = max
	}
	if err := h.store.UpdateTemplate(qt); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	version, err := h.store.BumpTemplateVersion(qtID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"template":%d,"version":%d}`, qtID, version)
}

func (h *Handler) questionBroken(w http.ResponseWriter, r *http.Request, qid int64, err error) {
	slog.Error("question marking aborted", "question", qid, "error", err)
	http.Error(w, i18n.T(r.Context(), "results.question.broken"), http.StatusInternalServerError)
}
