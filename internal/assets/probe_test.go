package assets

import (
	"bytes"
	"image"
	"image/png"
	"testing"
)

func TestProbeDimensionsPNG(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 640, 480))); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	dims, ok := ProbeDimensions(buf.Bytes())
	if !ok {
		t.Fatal("expected png to probe successfully")
	}
	if dims.Width != 640 || dims.Height != 480 {
		t.Fatalf("expected 640x480, got %dx%d", dims.Width, dims.Height)
	}
}

func TestProbeDimensionsRejectsNonImage(t *testing.T) {
	if _, ok := ProbeDimensions([]byte("not an image at all")); ok {
		t.Fatal("expected probe to fail for non-image payload")
	}
}
