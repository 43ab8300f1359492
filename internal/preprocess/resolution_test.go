package preprocess

import (
	"testing"

	"gocv.io/x/gocv"
)

func TestNormalizeIdempotentAtTarget(t *testing.T) {
	// 3300px wide at an assumed 11in page is exactly 300 DPI.
	src := staffImage(3300, 2550, 0)
	defer src.Close()

	out, scaled := Normalize(src, 300, 0)
	defer out.Close()

	if scaled {
		t.Fatalf("expected no-op for raster already at target DPI")
	}
	if out.Cols() != src.Cols() || out.Rows() != src.Rows() {
		t.Fatalf("no-op changed dimensions: %dx%d", out.Cols(), out.Rows())
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(src, out, &diff)
	if gocv.CountNonZero(diff) != 0 {
		t.Fatalf("no-op normalization altered pixels")
	}
}

func TestNormalizeUpscalesLowResolution(t *testing.T) {
	src := staffImage(1650, 1275, 0) // ~150 DPI
	defer src.Close()

	out, scaled := Normalize(src, 300, 0)
	defer out.Close()

	if !scaled {
		t.Fatalf("expected upscale for 150 DPI raster")
	}
	if out.Cols() < 3290 {
		t.Fatalf("upscale fell short of target: width %d", out.Cols())
	}
}

func TestNormalizeNeverDownscales(t *testing.T) {
	src := staffImage(6600, 5100, 0) // ~600 DPI
	defer src.Close()

	out, scaled := Normalize(src, 300, 0)
	defer out.Close()

	if scaled || out.Cols() != 6600 {
		t.Fatalf("high-resolution raster was modified: scaled=%v width=%d", scaled, out.Cols())
	}
}

func TestNormalizeHonorsMetadataDPI(t *testing.T) {
	// Small in pixels, but metadata says 400 DPI: already above the target.
	src := staffImage(800, 600, 0)
	defer src.Close()

	out, scaled := Normalize(src, 300, 400)
	defer out.Close()

	if scaled {
		t.Fatalf("metadata DPI above target must be a no-op")
	}
}

func TestEffectiveDPI(t *testing.T) {
	src := staffImage(3300, 2550, 0)
	defer src.Close()

	if got := EffectiveDPI(src, 0); got != 300 {
		t.Fatalf("expected 300 DPI from pixel model, got %.1f", got)
	}
	if got := EffectiveDPI(src, 72); got != 72 {
		t.Fatalf("metadata DPI must win, got %.1f", got)
	}
}
