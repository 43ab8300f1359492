package preprocess

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

// Result is the outcome of a pipeline run. Failure is a value, never a panic:
// callers decide whether to fall back to the unprocessed input.
type Result struct {
	OK         bool
	OutputPath string
	Err        string
}

func failure(format string, args ...any) Result {
	return Result{Err: fmt.Sprintf(format, args...)}
}

// DPIProbe reads resolution metadata for an image file, returning 0 when none
// is present.
type DPIProbe func(path string) float64

type runState struct {
	cfg     Config
	metaDPI float64
}

type stage struct {
	name    string
	enabled func(Config) bool
	apply   func(cur gocv.Mat, st *runState) (*gocv.Mat, error)
}

// Pipeline composes the preprocessing stages in their fixed order. A stage
// failure discards only that stage's effect; the run continues with the raster
// state from before it. Only a failure to decode the input at all fails the
// whole run.
type Pipeline struct {
	log      *slog.Logger
	probeDPI DPIProbe
	stages   []stage
}

// New builds a pipeline. probe may be nil, in which case effective DPI is
// estimated from pixel dimensions alone.
func New(logger *slog.Logger, probe DPIProbe) *Pipeline {
	p := &Pipeline{log: logger, probeDPI: probe}
	always := func(Config) bool { return true }
	p.stages = []stage{
		{name: "grayscale", enabled: always, apply: p.applyGrayscale},
		{name: "denoise", enabled: func(c Config) bool { return c.Denoise }, apply: p.applyDenoise},
		{name: "deskew", enabled: func(c Config) bool { return c.Deskew }, apply: p.applyDeskew},
		{name: "perspective", enabled: func(c Config) bool { return c.PerspectiveCorrection }, apply: p.applyPerspective},
		{name: "contrast", enabled: always, apply: p.applyContrast},
		{name: "binarize", enabled: func(c Config) bool { return c.Binarize }, apply: p.applyBinarize},
		{name: "normalize", enabled: always, apply: p.applyNormalize},
	}
	return p
}

// Run decodes inputPath, applies the configured stages and writes the result
// to outputPath.
func (p *Pipeline) Run(inputPath, outputPath string, cfg Config) Result {
	if err := cfg.Validate(); err != nil {
		return failure("invalid preprocessing config: %v", err)
	}

	img := gocv.IMRead(inputPath, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return failure("failed to decode image: %s", inputPath)
	}

	st := &runState{cfg: cfg}
	if p.probeDPI != nil {
		st.metaDPI = p.probeDPI(inputPath)
	}

	cur := img
	defer func() { cur.Close() }()

	for _, s := range p.stages {
		if !s.enabled(cfg) {
			continue
		}
		next, err := p.runStage(s, cur, st)
		if err != nil {
			p.log.Warn("preprocessing stage failed, skipping",
				"stage", s.name, "input", inputPath, "error", err)
			continue
		}
		if next != nil {
			cur.Close()
			cur = *next
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return failure("failed to create output directory: %v", err)
	}
	if ok := gocv.IMWrite(outputPath, cur); !ok {
		return failure("failed to write preprocessed image: %s", outputPath)
	}

	p.log.Debug("preprocessing complete",
		"input", inputPath, "output", outputPath,
		"width", cur.Cols(), "height", cur.Rows())
	return Result{OK: true, OutputPath: outputPath}
}

// runStage isolates a stage so that neither its error nor a panic inside the
// underlying CV library can abort the run.
func (p *Pipeline) runStage(s stage, cur gocv.Mat, st *runState) (next *gocv.Mat, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = nil
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()
	return s.apply(cur, st)
}

func (p *Pipeline) applyGrayscale(cur gocv.Mat, _ *runState) (*gocv.Mat, error) {
	gray, err := ToGrayscale(cur)
	if err != nil {
		return nil, err
	}
	return &gray, nil
}

func (p *Pipeline) applyDenoise(cur gocv.Mat, _ *runState) (*gocv.Mat, error) {
	denoised, err := Denoise(cur)
	if err != nil {
		return nil, err
	}
	return &denoised, nil
}

func (p *Pipeline) applyDeskew(cur gocv.Mat, _ *runState) (*gocv.Mat, error) {
	est := EstimateSkew(cur)
	if !est.Valid || math.Abs(est.AngleDegrees) < SkewSignificanceDeg {
		return nil, nil
	}
	p.log.Debug("correcting skew", "angle_deg", est.AngleDegrees, "lines", est.LineCount)
	rotated := Rotate(cur, est.AngleDegrees)
	return &rotated, nil
}

func (p *Pipeline) applyPerspective(cur gocv.Mat, _ *runState) (*gocv.Mat, error) {
	quad, found := EstimateDocumentQuad(cur)
	if !found {
		return nil, nil
	}
	p.log.Debug("correcting perspective", "quad", fmt.Sprintf("%+v", quad))
	warped := WarpToQuad(cur, quad)
	return &warped, nil
}

func (p *Pipeline) applyContrast(cur gocv.Mat, _ *runState) (*gocv.Mat, error) {
	enhanced, err := EnhanceContrast(cur)
	if err != nil {
		return nil, err
	}
	return &enhanced, nil
}

func (p *Pipeline) applyBinarize(cur gocv.Mat, _ *runState) (*gocv.Mat, error) {
	binary, err := Binarize(cur)
	if err != nil {
		return nil, err
	}
	return &binary, nil
}

func (p *Pipeline) applyNormalize(cur gocv.Mat, st *runState) (*gocv.Mat, error) {
	normalized, scaled := Normalize(cur, st.cfg.TargetDPI, st.metaDPI)
	if scaled {
		p.log.Debug("upscaled raster", "target_dpi", st.cfg.TargetDPI,
			"width", normalized.Cols(), "height", normalized.Rows())
	}
	return &normalized, nil
}
