package codec

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"catalogpipe/internal/mediatypes"
)

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	return img
}

func TestResizeNeverUpscales(t *testing.T) {
	img := solidImage(100, 50)
	out := Resize(img, 1000, 1000)
	if out.Bounds().Dx() != 100 || out.Bounds().Dy() != 50 {
		t.Fatalf("Resize upscaled: got %dx%d, want 100x50", out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestResizeFitsInsidePreservingAspect(t *testing.T) {
	img := solidImage(2000, 1000)
	out := Resize(img, 300, 300)
	if out.Bounds().Dx() > 300 || out.Bounds().Dy() > 300 {
		t.Fatalf("Resize exceeded bounds: got %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
	}
	if out.Bounds().Dx() != 300 {
		t.Fatalf("expected width-constrained fit at 300, got %d", out.Bounds().Dx())
	}
}

func TestEncodeJPEG(t *testing.T) {
	img := solidImage(64, 64)
	var buf bytes.Buffer
	if err := Encode(&buf, img, mediatypes.Preset{Format: "jpeg", Quality: 80}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected non-empty encoded output")
	}
}

func TestEncodePNG(t *testing.T) {
	img := solidImage(32, 32)
	var buf bytes.Buffer
	if err := Encode(&buf, img, mediatypes.Preset{Format: "png"}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected non-empty encoded output")
	}
}

func TestDecodeImageRoundTrip(t *testing.T) {
	img := solidImage(16, 16)
	var buf bytes.Buffer
	if err := Encode(&buf, img, mediatypes.Preset{Format: "png"}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := DecodeImage(&buf)
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	if decoded.Bounds().Dx() != 16 || decoded.Bounds().Dy() != 16 {
		t.Fatalf("decoded dims = %dx%d, want 16x16", decoded.Bounds().Dx(), decoded.Bounds().Dy())
	}
}

func TestDecodeImageCorruptSource(t *testing.T) {
	if _, err := DecodeImage(bytes.NewReader([]byte("not an image"))); err == nil {
		t.Fatal("expected error decoding garbage bytes")
	}
}

func TestFormatSeekTime(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00.000"},
		{1.5, "00:00:01.500"},
		{61, "00:01:01.000"},
		{3661, "01:01:01.000"},
	}
	for _, tt := range tests {
		if got := formatSeekTime(tt.seconds); got != tt.want {
			t.Errorf("formatSeekTime(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}
