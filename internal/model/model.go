// Package model holds the domain types shared by the stores and engines.
package model

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Marker selects the scoring strategy for a question template.
// MarkerStandard is the built-in tolerance comparator; any other value
// means the template supplies its own marker script.
const MarkerStandard = 1

// Question instance status values.
const (
	QStatusUnseen   = 1
	QStatusAnswered = 2
	QStatusMarked   = 3
)

// ExamStatus is the per-student state of one exam attempt.
type ExamStatus int

const (
	// ExamNoRecord means no attempt row exists yet.
	ExamNoRecord ExamStatus = -1

	ExamUnseen         ExamStatus = 1
	ExamStarted        ExamStatus = 2
	ExamOutOfTime      ExamStatus = 3
	ExamSubmitted      ExamStatus = 4
	ExamMarkedPrelim   ExamStatus = 5
	ExamMarkedOfficial ExamStatus = 6
	ExamBroken         ExamStatus = 7
)

// QTemplate is an author-owned, versioned question definition.
// Editing a template bumps Version; attachments and variations are tagged
// with the version they were saved under and are never overwritten.
type QTemplate struct {
	ID          int64
	Owner       int64
	Title       string
	Description string
	Marker      int
	ScoreMax    float64
	Version     int
	Status      int
	EmbedID     string
}

// Variation is one randomized data bag a template can be instantiated with.
// Values are numbers or strings; numeric values decode as float64.
//
// Naming conventions: A<n> correct answer for part n, T<n> tolerance percent
// for part n, X<n>/Y<n>/Z<n> image annotation coordinates and label, and any
// other name an author wants to reference with <VAL name>.
type Variation map[string]any

var rePartKey = regexp.MustCompile(`^A([0-9]+)$`)

// PartNumbers returns the sorted part numbers defined by the variation's
// A<n> keys.
func (v Variation) PartNumbers() []int {
	var parts []int
	for name := range v {
		m := rePartKey.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		parts = append(parts, n)
	}
	sort.Ints(parts)
	return parts
}

// StringVal renders a variation value the way it appears in HTML and
// comments. Floats that hold whole numbers print without the trailing ".0".
func (v Variation) StringVal(name string) string {
	val, ok := v[name]
	if !ok {
		return ""
	}
	return FormatValue(val)
}

// FormatValue renders any variation/script value as display text.
func FormatValue(val any) string {
	switch t := val.(type) {
	case nil:
		return "None"
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		if t {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(t)
	}
}

// Attachment is a named blob belonging to a template version, or to one
// variation of it when Variation > 0 (an instance-level override).
type Attachment struct {
	QTemplate int64
	Variation int
	Name      string
	MimeType  string
	Data      []byte
	Version   int
}

// Attachment names with special handling.
const (
	AttQTemplateHTML = "qtemplate.html"
	AttImage         = "image.gif"
	AttMarkerScript  = "__marker.py"
	AttMarkerLegacy  = "marker.py"
	AttResultsScript = "__results.py"
)

// EditorType reports which editing UI a template should get, based purely
// on its attachment names.
func EditorType(attNames []string) string {
	for _, name := range attNames {
		if strings.HasSuffix(name, ".oqe") {
			return "OQE"
		}
	}
	return "Raw"
}

// Question is a concrete instance of a template: bound to one student, one
// variation and the template version current at creation time. Variation and
// Version never change afterwards, so the instance keeps rendering and
// marking against the data it was generated from.
type Question struct {
	ID        int64
	QTemplate int64
	Name      string
	Student   int64
	Status    int
	Score     float64
	FirstView *time.Time
	MarkTime  *time.Time
	Variation int
	Version   int
	Exam      int64 // 0 = practice
}

// Guess is one timestamped submitted value for one part of one question.
// Guesses are append-only; history is never rewritten.
type Guess struct {
	QuestionID int64
	Part       int
	Value      string
	Created    time.Time
}

// Exam is an ordered, timed collection of question positions.
type Exam struct {
	ID         int64
	Course     int64
	Owner      int64
	Title      string
	Start      time.Time
	End        time.Time
	Duration   int // minutes
	MarkStatus int
	Archived   int
}

// UserExam is the per-student state of one exam attempt.
type UserExam struct {
	Exam       int64
	Student    int64
	Status     ExamStatus
	Score      float64
	SubmitTime *time.Time
	LastChange *time.Time
}
