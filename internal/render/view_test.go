package render

import (
	"strings"
	"testing"

	"github.com/openassess/openassess/internal/model"
)

type fakeSource struct {
	question model.Question
	html     []byte
	guesses  map[int]string
}

func (f *fakeSource) Question(id int64) (model.Question, error) {
	return f.question, nil
}

func (f *fakeSource) ResolveAttachment(qtID int64, variation, version int, name string) (*model.Attachment, error) {
	if f.html == nil {
		return nil, nil
	}
	return &model.Attachment{
		QTemplate: qtID, Variation: variation, Version: version,
		Name: name, MimeType: "text/html", Data: f.html,
	}, nil
}

func (f *fakeSource) Guesses(questionID int64) (map[int]string, error) {
	return f.guesses, nil
}

func viewSource() *fakeSource {
	return &fakeSource{
		question: model.Question{ID: 9, QTemplate: 3, Variation: 2, Version: 5},
		html: []byte(`<INPUT TYPE='text' NAME='ANS_1' VALUE="VAL_1"/>` +
			`<INPUT TYPE='radio' NAME='ANS_2' VALUE='1' QCHK_2_1>` +
			`<INPUT TYPE='radio' NAME='ANS_2' VALUE='2' QCHK_2_2>` +
			`<SELECT NAME='ANS_3'><OPTION VALUE='1' QSEL_3_1>x</OPTION></SELECT>` +
			`<IMG SRC="$IMAGES$image.gif" /><A HREF="$STATIC$notes.pdf">notes</A>`),
	}
}

func TestQuestionFillsGuesses(t *testing.T) {
	src := viewSource()
	src.guesses = map[int]string{1: `3 < 4 & "x"`, 2: "2.0", 3: "1"}

	out, err := Question(src, 9, false)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, `VALUE="3 &lt; 4 &amp; &#34;x&#34;"`) {
		t.Errorf("text guess not escaped into input:\n%s", out)
	}
	if !strings.Contains(out, `VALUE='2' CHECKED`) {
		t.Errorf("radio guess 2.0 not checked:\n%s", out)
	}
	if strings.Contains(out, `VALUE='1' CHECKED`) {
		t.Errorf("unguessed radio option checked:\n%s", out)
	}
	if !strings.Contains(out, `VALUE='1' SELECTED`) {
		t.Errorf("select guess not selected:\n%s", out)
	}
}

func TestQuestionBlanksUnansweredPlaceholders(t *testing.T) {
	out, err := Question(viewSource(), 9, false)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, leftover := range []string{"VAL_", "QCHK_", "QSEL_"} {
		if strings.Contains(out, leftover) {
			t.Errorf("placeholder %s leaked into view html:\n%s", leftover, out)
		}
	}
}

func TestQuestionNamespacesAndPaths(t *testing.T) {
	out, err := Question(viewSource(), 9, false)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "NAME='Q_9_ANS_1'") {
		t.Errorf("input names not namespaced by question id:\n%s", out)
	}
	if !strings.Contains(out, `SRC="/att/qatt/3/5/2/image.gif"`) {
		t.Errorf("image path not rewritten:\n%s", out)
	}
	if !strings.Contains(out, `HREF="/att/qtatt/3/5/2/notes.pdf"`) {
		t.Errorf("static path not rewritten:\n%s", out)
	}
}

func TestQuestionReadonly(t *testing.T) {
	out, err := Question(viewSource(), 9, true)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "<INPUT READONLY ") {
		t.Errorf("inputs not readonly:\n%s", out)
	}
	if !strings.Contains(out, "<SELECT DISABLED ") {
		t.Errorf("selects not disabled:\n%s", out)
	}
}

func TestQuestionMissingHTML(t *testing.T) {
	src := viewSource()
	src.html = nil
	out, err := Question(src, 9, false)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != ErrorHTML {
		t.Errorf("got %q, want %q for a question with no html", out, ErrorHTML)
	}
}
