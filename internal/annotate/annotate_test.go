package annotate

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"testing"

	"github.com/openassess/openassess/internal/model"
)

func baseGIF(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, w, h),
		color.Palette{color.White, color.Black})
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode base gif: %v", err)
	}
	return buf.Bytes()
}

func TestFromVariation(t *testing.T) {
	qvars := model.Variation{
		"X1": 10.0, "Y1": 20.0, "Z1": "R1 = 4700",
		"X2": -1.0, "Y2": 5.0, "Z2": "hidden",
		"X3": 30.0, "Y3": 40.0, "Z3": 12.0,
		"A1": 42.0,
	}
	marks := FromVariation(qvars)
	if len(marks) != 2 {
		t.Fatalf("got %d marks, want 2: %+v", len(marks), marks)
	}
	if marks[0].X != 10 || marks[0].Y != 20 || marks[0].Text != "R1 = 4700" {
		t.Errorf("unexpected first mark: %+v", marks[0])
	}
	if marks[1].Text != "12" {
		t.Errorf("numeric label not formatted: %+v", marks[1])
	}
}

func TestAnnotateDrawsText(t *testing.T) {
	base := baseGIF(t, 80, 40)
	out, err := Annotate(base, []Mark{{X: 5, Y: 20, Text: "hello"}})
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	img, err := gif.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode annotated gif: %v", err)
	}
	changed := false
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y && !changed; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if r == 0 && g == 0 && b == 0 {
				changed = true
				break
			}
		}
	}
	if !changed {
		t.Error("annotated image has no drawn pixels")
	}
}

func TestAnnotateSkipsOutOfBounds(t *testing.T) {
	base := baseGIF(t, 20, 20)
	out, err := Annotate(base, []Mark{{X: 500, Y: 500, Text: "off"}})
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if _, err := gif.Decode(bytes.NewReader(out)); err != nil {
		t.Fatalf("decode annotated gif: %v", err)
	}
}

func TestAnnotateBadImage(t *testing.T) {
	if _, err := Annotate([]byte("not an image"), nil); err == nil {
		t.Error("expected an error for undecodable image data")
	}
}
