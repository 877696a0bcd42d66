// Package annotate stamps variation-specific text labels onto a question
// template's base image, producing the per-variation image.gif.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"log/slog"
	"regexp"
	"sort"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/openassess/openassess/internal/model"
)

// Mark is one label to draw: text anchored at pixel (X, Y).
type Mark struct {
	X, Y int
	Text string
}

var reMarkKey = regexp.MustCompile(`^X([0-9]+)$`)

// FromVariation extracts the image marks a variation defines through its
// X<n>/Y<n>/Z<n> keys. Marks with a negative coordinate are authoring
// placeholders and are skipped.
func FromVariation(qvars model.Variation) []Mark {
	var idxs []int
	for name := range qvars {
		m := reMarkKey.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		idxs = append(idxs, n)
	}
	sort.Ints(idxs)

	var marks []Mark
	for _, n := range idxs {
		x, okX := coord(qvars[fmt.Sprintf("X%d", n)])
		y, okY := coord(qvars[fmt.Sprintf("Y%d", n)])
		if !okX || !okY {
			slog.Warn("image mark has non-numeric coordinates", "mark", n)
			continue
		}
		if x < 0 || y < 0 {
			continue
		}
		marks = append(marks, Mark{X: x, Y: y, Text: qvars.StringVal(fmt.Sprintf("Z%d", n))})
	}
	return marks
}

func coord(val any) (int, bool) {
	switch t := val.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Annotate draws the marks onto the base image and re-encodes it as a GIF.
// A mark outside the image bounds is logged and skipped rather than failing
// the whole render.
func Annotate(base []byte, marks []Mark) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(base))
	if err != nil {
		return nil, fmt.Errorf("decode base image: %w", err)
	}

	bounds := src.Bounds()
	img := image.NewRGBA(bounds)
	draw.Draw(img, bounds, src, bounds.Min, draw.Src)

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
	}
	for _, mark := range marks {
		if mark.Text == "" {
			continue
		}
		if !image.Pt(mark.X, mark.Y).In(bounds) {
			slog.Warn("image mark outside bounds", "x", mark.X, "y", mark.Y, "text", mark.Text)
			continue
		}
		drawer.Dot = fixed.P(mark.X, mark.Y)
		drawer.DrawString(mark.Text)
	}

	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		return nil, fmt.Errorf("encode annotated image: %w", err)
	}
	return buf.Bytes(), nil
}
