package preprocess

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeImage(t *testing.T, m gocv.Mat) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.png")
	if ok := gocv.IMWrite(path, m); !ok {
		t.Fatalf("failed to write test image")
	}
	return path
}

func TestRunCleanUprightScan(t *testing.T) {
	src := staffImage(3300, 2550, 0)
	defer src.Close()
	input := writeImage(t, src)
	output := filepath.Join(t.TempDir(), "out.png")

	res := New(testLogger(), nil).Run(input, output, DefaultConfig())
	if !res.OK {
		t.Fatalf("pipeline failed on clean scan: %s", res.Err)
	}

	out := gocv.IMRead(output, gocv.IMReadGrayScale)
	defer out.Close()
	if out.Empty() {
		t.Fatalf("output not decodable")
	}
	if out.Cols() < 3300 {
		t.Fatalf("resolution dropped below input: width %d", out.Cols())
	}
	if est := EstimateSkew(out); est.Valid && math.Abs(est.AngleDegrees) > SkewSignificanceDeg {
		t.Fatalf("clean scan came out skewed: %.2f", est.AngleDegrees)
	}

	data, err := out.DataPtrUint8()
	if err != nil {
		t.Fatalf("read output data: %v", err)
	}
	for i, v := range data {
		if v != 0 && v != 255 {
			t.Fatalf("expected bi-level output, pixel %d is %d", i, v)
		}
	}
}

func TestRunRotatedLowResolutionPhoto(t *testing.T) {
	src := staffImage(1650, 1275, 7.0) // ~150 DPI, 7 degrees of skew
	sprinkleNoise(&src)
	defer src.Close()
	input := writeImage(t, src)
	output := filepath.Join(t.TempDir(), "out.png")

	res := New(testLogger(), nil).Run(input, output, DefaultConfig())
	if !res.OK {
		t.Fatalf("pipeline failed: %s", res.Err)
	}

	out := gocv.IMRead(output, gocv.IMReadGrayScale)
	defer out.Close()
	if out.Cols() < 3290 {
		t.Fatalf("output below target DPI: width %d", out.Cols())
	}
	if est := EstimateSkew(out); est.Valid && math.Abs(est.AngleDegrees) > SkewSignificanceDeg {
		t.Fatalf("residual skew after pipeline: %.2f", est.AngleDegrees)
	}
}

// sprinkleNoise flips scattered pixels to simulate sensor noise. Deterministic
// so the test is reproducible.
func sprinkleNoise(m *gocv.Mat) {
	state := uint32(12345)
	for i := 0; i < m.Cols()*m.Rows()/200; i++ {
		state = state*1664525 + 1013904223
		x := int(state % uint32(m.Cols()))
		state = state*1664525 + 1013904223
		y := int(state % uint32(m.Rows()))
		if (x+y)%2 == 0 {
			m.SetUCharAt(y, x, 0)
		} else {
			m.SetUCharAt(y, x, 200)
		}
	}
}

func TestRunCorruptInput(t *testing.T) {
	input := filepath.Join(t.TempDir(), "corrupt.png")
	if err := os.WriteFile(input, []byte("this is not an image"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	output := filepath.Join(t.TempDir(), "out.png")

	res := New(testLogger(), nil).Run(input, output, DefaultConfig())
	if res.OK {
		t.Fatalf("expected failure for corrupt input")
	}
	if res.Err == "" {
		t.Fatalf("expected a failure reason")
	}
}

func TestRunMissingInput(t *testing.T) {
	res := New(testLogger(), nil).Run("/nonexistent/score.png", filepath.Join(t.TempDir(), "out.png"), DefaultConfig())
	if res.OK {
		t.Fatalf("expected failure for missing input")
	}
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetDPI = -1
	res := New(testLogger(), nil).Run("whatever.png", "out.png", cfg)
	if res.OK || res.Err == "" {
		t.Fatalf("expected validation failure, got %+v", res)
	}
}

// Any single stage failing, with an error or a panic, must not fail the run:
// the stage is skipped and the raster from before it is kept.
func TestStageFailuresDegradeGracefully(t *testing.T) {
	src := staffImage(900, 700, 2.0)
	defer src.Close()
	input := writeImage(t, src)

	base := New(testLogger(), nil)
	for i := range base.stages {
		for _, mode := range []string{"error", "panic"} {
			p := New(testLogger(), nil)
			idx := i
			if mode == "error" {
				p.stages[idx].apply = func(gocv.Mat, *runState) (*gocv.Mat, error) {
					return nil, errors.New("injected failure")
				}
			} else {
				p.stages[idx].apply = func(gocv.Mat, *runState) (*gocv.Mat, error) {
					panic("injected panic")
				}
			}

			output := filepath.Join(t.TempDir(), "out.png")
			res := p.Run(input, output, DefaultConfig())
			if !res.OK {
				t.Fatalf("stage %q %s aborted the pipeline: %s", base.stages[idx].name, mode, res.Err)
			}
			out := gocv.IMRead(output, gocv.IMReadGrayScale)
			if out.Empty() {
				t.Fatalf("stage %q %s produced no decodable output", base.stages[idx].name, mode)
			}
			out.Close()
		}
	}
}

func TestDeskewGatingPreservesGeometry(t *testing.T) {
	src := staffImage(3300, 2550, 5.0)
	defer src.Close()
	input := writeImage(t, src)
	output := filepath.Join(t.TempDir(), "out.png")

	cfg := Config{
		TargetDPI:             300,
		Deskew:                false,
		PerspectiveCorrection: false,
		Denoise:               false,
		Binarize:              true,
	}
	res := New(testLogger(), nil).Run(input, output, cfg)
	if !res.OK {
		t.Fatalf("pipeline failed: %s", res.Err)
	}

	out := gocv.IMRead(output, gocv.IMReadGrayScale)
	defer out.Close()
	if out.Cols() != 3300 || out.Rows() != 2550 {
		t.Fatalf("geometry changed with deskew disabled: %dx%d", out.Cols(), out.Rows())
	}
	if est := EstimateSkew(out); !est.Valid || math.Abs(est.AngleDegrees) < 4.0 {
		t.Fatalf("skew was corrected despite deskew being disabled: %+v", est)
	}
}

func TestRunUsesMetadataDPIProbe(t *testing.T) {
	src := staffImage(800, 600, 0)
	defer src.Close()
	input := writeImage(t, src)
	output := filepath.Join(t.TempDir(), "out.png")

	probe := func(string) float64 { return 400 }
	res := New(testLogger(), probe).Run(input, output, DefaultConfig())
	if !res.OK {
		t.Fatalf("pipeline failed: %s", res.Err)
	}

	out := gocv.IMRead(output, gocv.IMReadGrayScale)
	defer out.Close()
	if out.Cols() != 800 {
		t.Fatalf("metadata DPI above target must suppress upscaling, got width %d", out.Cols())
	}
}
