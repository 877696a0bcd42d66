// Package render expands the question template macro language into live
// HTML: answer-input tags, multiple-choice widgets, and variation value
// substitution at instantiation time; guess fill-in, path rewriting and
// read-only rendering at view time.
package render

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/openassess/openassess/internal/i18n"
	"github.com/openassess/openassess/internal/model"
)

// Tag handling limits. Answer parts are numbered 1..48; guess fill-in
// covers parts 1..25 and option indexes 1..50, matching the stored
// templates this engine has to keep rendering.
const (
	maxParts     = 48
	maxFillParts = 25
	maxOptions   = 50
)

var (
	reAnswerSized = regexp.MustCompile(`<ANSWER([0-9]+) ([0-9]+)>`)
	reAnswerBare  = regexp.MustCompile(`<ANSWER([0-9]+)>`)
	reAnswerText  = regexp.MustCompile(`<ANSWER([0-9]+) TEXT>`)
)

// Instantiate binds raw author HTML to one variation, producing the
// per-instance qtemplate.html. The passes run in a fixed order so later
// passes never re-match text produced by earlier ones: the image sentinel,
// then the input tags, then the choice widgets, then value substitution.
// Guesses are filled in later, at view time.
func Instantiate(ctx context.Context, qvars model.Variation, html []byte) []byte {
	out := string(html)

	out = strings.ReplaceAll(out, "<IMG SRC>", `<IMG SRC="$IMAGES$image.gif" />`)

	out = reAnswerSized.ReplaceAllString(out,
		`<INPUT class='auto_save' TYPE='text' NAME='ANS_$1' SIZE='$2' VALUE="VAL_$1"/>`)
	out = reAnswerText.ReplaceAllString(out,
		`<TEXTAREA class='auto_save' NAME='ANS_$1' ROWS=6 COLS=100>VAL_$1</TEXTAREA>`)
	out = reAnswerBare.ReplaceAllString(out,
		`<INPUT class='auto_save' TYPE='text' NAME='ANS_$1' VALUE="VAL_$1"/>`)

	out = expandWidgets(ctx, out, qvars, handleMultiF)
	out = expandWidgets(ctx, out, qvars, handleMulti)
	out = expandWidgets(ctx, out, qvars, handleMultiV)
	out = expandWidgets(ctx, out, qvars, handleListbox)

	for name := range qvars {
		val := qvars.StringVal(name)
		out = strings.ReplaceAll(out, fmt.Sprintf("<VAL %s>", name), val)
		out = strings.ReplaceAll(out, fmt.Sprintf("<IMG SRC %s>", name),
			fmt.Sprintf(`<IMG SRC="$STATIC$%s" />`, val))
		out = strings.ReplaceAll(out, fmt.Sprintf("<ATT SRC %s>", name),
			fmt.Sprintf(`<A HREF="$STATIC$%s" TARGET="_new">%s (%s)</a>`,
				val, val, i18n.T(ctx, "render.view.new.window")))
	}
	return []byte(out)
}

// widgetFunc locates one choice-widget tag for a part and returns the tag
// text plus its replacement, or "" when the part has no such tag.
type widgetFunc func(context.Context, string, int, model.Variation) (string, string)

func expandWidgets(ctx context.Context, html string, qvars model.Variation, fn widgetFunc) string {
	for part := 1; part <= maxParts; part++ {
		match, repl := fn(ctx, html, part, qvars)
		if match == "" {
			continue
		}
		html = strings.Replace(html, match, repl, 1)
	}
	return html
}

// findTag locates "<ANSWERn KIND a,b,c>" in html and returns the whole tag
// plus its comma-separated parameter list.
func findTag(html string, part int, kind string) (string, []string) {
	prefix := fmt.Sprintf("<ANSWER%d %s ", part, kind)
	start := strings.Index(html, prefix)
	if start < 0 {
		return "", nil
	}
	end := strings.Index(html[start:], ">")
	if end < 0 {
		return "", nil
	}
	end += start + 1
	params := strings.Split(html[start+len(prefix):end-1], ",")
	for i := range params {
		params[i] = strings.TrimSpace(params[i])
	}
	return html[start:end], params
}

// radioOption emits one radio-button cell. An option name missing from the
// variation renders as a visible error marker instead of being dropped, so
// authors see broken data and option numbering stays stable for scoring.
func radioOption(ctx context.Context, qvars model.Variation, part, idx int, name string) string {
	if _, ok := qvars[name]; !ok {
		return fmt.Sprintf(`<FONT COLOR="red">%s</FONT>`, i18n.T(ctx, "render.data.error"))
	}
	return fmt.Sprintf(
		"<td CLASS='multichoicecell'>"+
			"<INPUT class='auto_save' TYPE='radio' NAME='ANS_%d' VALUE='%d' QCHK_%d_%d> %s</td>",
		part, idx, part, idx, qvars.StringVal(name))
}

// handleMultiF converts <ANSWERn MULTIF a,b,c> into radio buttons kept in
// the author's original order.
func handleMultiF(ctx context.Context, html string, part int, qvars model.Variation) (string, string) {
	match, params := findTag(html, part, "MULTIF")
	if match == "" {
		return "", ""
	}
	cells := make([]string, 0, len(params))
	for i, param := range params {
		cells = append(cells, radioOption(ctx, qvars, part, i+1, param))
	}
	ret := fmt.Sprintf("<table border=0><tr><td>%s</td>", i18n.T(ctx, "render.choose.one")) +
		strings.Join(cells, "") +
		"</tr></table><br />\n"
	return match, ret
}

// handleMulti converts <ANSWERn MULTI a,b,c> into radio buttons with the
// option order shuffled. The order is not persisted; each render may
// shuffle differently.
func handleMulti(ctx context.Context, html string, part int, qvars model.Variation) (string, string) {
	match, params := findTag(html, part, "MULTI")
	if match == "" {
		return "", ""
	}
	cells := make([]string, 0, len(params))
	for i, param := range params {
		cells = append(cells, radioOption(ctx, qvars, part, i+1, param))
	}
	rand.Shuffle(len(cells), func(i, j int) { cells[i], cells[j] = cells[j], cells[i] })
	ret := fmt.Sprintf("<table border=0><tr><th>%s</th>", i18n.T(ctx, "render.choose.one")) +
		strings.Join(cells, "") +
		"</tr></table><br />\n"
	return match, ret
}

// handleMultiV converts <ANSWERn MULTIV a,b,c> into a vertical list of
// radio buttons, lettered and kept in the author's order (for ordinal or
// Likert-style options).
func handleMultiV(ctx context.Context, html string, part int, qvars model.Variation) (string, string) {
	match, params := findTag(html, part, "MULTIV")
	if match == "" {
		return "", ""
	}
	const letters = "abcdefghijklmnopqrstuvwxyz"
	var rows []string
	for i, param := range params {
		letter := byte('?')
		if i < len(letters) {
			letter = letters[i]
		}
		if _, ok := qvars[param]; !ok {
			rows = append(rows, fmt.Sprintf(
				`<tr><td>&nbsp;</td><td><FONT COLOR="red">%s</FONT></td></tr>`,
				i18n.T(ctx, "render.data.error")))
			continue
		}
		rows = append(rows, fmt.Sprintf(
			"<tr><th>%c)</th><td>"+
				"<INPUT class='auto_save' TYPE='radio' NAME='ANS_%d' VALUE='%d' QCHK_%d_%d>"+
				"</td><td CLASS='multichoicecell'> %s</td></tr>",
			letter, part, i+1, part, i+1, qvars.StringVal(param)))
	}
	ret := fmt.Sprintf("<table border=0><tr><th>%s</th></tr>", i18n.T(ctx, "render.choose.one")) +
		strings.Join(rows, "") +
		"</table><br />\n"
	return match, ret
}

// handleListbox converts <ANSWERn SELECT a,b,c> into a drop-down with a
// sentinel first option and shuffled real options.
func handleListbox(ctx context.Context, html string, part int, qvars model.Variation) (string, string) {
	match, params := findTag(html, part, "SELECT")
	if match == "" {
		return "", ""
	}
	opts := make([]string, 0, len(params))
	for i, param := range params {
		if _, ok := qvars[param]; !ok {
			opts = append(opts, fmt.Sprintf(
				`<OPTION><FONT COLOR="red">%s</FONT></OPTION>`,
				i18n.T(ctx, "render.data.error")))
			continue
		}
		opts = append(opts, fmt.Sprintf("<OPTION VALUE='%d' QSEL_%d_%d>%s</OPTION>",
			i+1, part, i+1, qvars.StringVal(param)))
	}
	rand.Shuffle(len(opts), func(i, j int) { opts[i], opts[j] = opts[j], opts[i] })
	ret := fmt.Sprintf("<SELECT class='auto_save' NAME='ANS_%d'>", part) +
		fmt.Sprintf("<OPTION VALUE='None'>%s</OPTION>", i18n.T(ctx, "render.choose.placeholder")) +
		strings.Join(opts, "") +
		"</SELECT>\n"
	return match, ret
}
