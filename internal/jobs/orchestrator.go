package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"scorepipe/internal/config"
	"scorepipe/internal/fsutil"
	"scorepipe/internal/logging"
	"scorepipe/internal/omr"
	"scorepipe/internal/preprocess"
	"scorepipe/internal/transpose"
)

// Preprocessor cleans up a scanned raster before recognition.
type Preprocessor interface {
	Run(inputPath, outputPath string, cfg preprocess.Config) preprocess.Result
}

// Recognizer turns a raster into a notation document.
type Recognizer interface {
	Recognize(ctx context.Context, req omr.Request) (omr.Result, error)
}

// Transposer rewrites a notation document by interval or key.
type Transposer interface {
	BySemitones(inPath, outPath string, semitones int) error
	ByKey(inPath, outPath, fromKey, toKey string) error
}

// Renderer converts a notation document to PDF.
type Renderer interface {
	Render(ctx context.Context, inputPath, outputPath string) error
}

// Store persists job progress. *storage.Store satisfies it.
type Store interface {
	SetProgress(id, status string, progress int) error
	SetMusicXMLPath(id, path string) error
	Complete(id, pdfPath string) error
	Fail(id, message string) error
}

// XMLTransposer adapts the transpose package to the Transposer interface.
type XMLTransposer struct{}

func (XMLTransposer) BySemitones(inPath, outPath string, semitones int) error {
	return transpose.BySemitones(inPath, outPath, semitones)
}

func (XMLTransposer) ByKey(inPath, outPath, fromKey, toKey string) error {
	return transpose.ByKey(inPath, outPath, fromKey, toKey)
}

// Orchestrator executes the conversion sequence for a single job:
// preprocess, recognize, optionally transpose, render. Preprocessing failure
// falls back to the raw upload; any later step failure fails the job.
type Orchestrator struct {
	log   *slog.Logger
	cfg   *config.Config
	pre   Preprocessor
	rec   Recognizer
	trans Transposer
	rend  Renderer
	store Store
}

func NewOrchestrator(log *slog.Logger, cfg *config.Config, pre Preprocessor, rec Recognizer, trans Transposer, rend Renderer, store Store) *Orchestrator {
	return &Orchestrator{log: log, cfg: cfg, pre: pre, rec: rec, trans: trans, rend: rend, store: store}
}

// Process runs the full sequence for job. It always returns a Result; the
// returned error mirrors Result.Error for failed jobs.
func (o *Orchestrator) Process(ctx context.Context, job Job) Result {
	o.store.SetProgress(job.ID, string(StatusProcessing), 0)

	tempDir := filepath.Join(o.cfg.Processing.TempDir, job.ID)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return o.fail(job, fmt.Errorf("create job workspace: %w", err))
	}
	defer os.RemoveAll(tempDir)

	o.store.SetProgress(job.ID, string(StatusProcessing), 10)
	scoreInput := o.preprocessUpload(job, tempDir)

	// Recognition (10-50%).
	omrDir := filepath.Join(tempDir, "omr")
	recResult, err := o.rec.Recognize(ctx, omr.Request{InputPath: scoreInput, OutputDir: omrDir})
	if err != nil {
		return o.fail(job, fmt.Errorf("Score recognition failed: %w", err))
	}

	musicxmlPath := filepath.Join(o.cfg.Storage.MusicXML(), job.ID+".musicxml")
	if err := os.MkdirAll(filepath.Dir(musicxmlPath), 0o755); err != nil {
		return o.fail(job, fmt.Errorf("store notation document: %w", err))
	}
	if err := moveFile(recResult.DocumentPath, musicxmlPath); err != nil {
		return o.fail(job, fmt.Errorf("store notation document: %w", err))
	}
	o.store.SetMusicXMLPath(job.ID, musicxmlPath)
	o.store.SetProgress(job.ID, string(StatusProcessing), 50)
	logging.LogProcessingStep(o.log, job.ID, "recognition", "completed", map[string]any{
		"document": musicxmlPath,
	})

	// Transposition (50-70%), in place over the stored document.
	if job.Transpose.Requested() {
		o.store.SetProgress(job.ID, string(StatusProcessing), 55)
		if err := o.transposeDocument(job, musicxmlPath); err != nil {
			return o.fail(job, fmt.Errorf("Transposition failed: %w", err))
		}
		logging.LogProcessingStep(o.log, job.ID, "transposition", "completed", nil)
	}
	o.store.SetProgress(job.ID, string(StatusProcessing), 70)

	// Rendering (70-100%).
	o.store.SetProgress(job.ID, string(StatusProcessing), 75)
	pdfPath := filepath.Join(o.cfg.Storage.PDF(), job.ID+".pdf")
	if err := o.rend.Render(ctx, musicxmlPath, pdfPath); err != nil {
		return o.fail(job, fmt.Errorf("PDF conversion failed: %w", err))
	}
	logging.LogProcessingStep(o.log, job.ID, "rendering", "completed", map[string]any{
		"pdf": pdfPath,
	})

	o.store.Complete(job.ID, pdfPath)
	return Result{
		Job:          job,
		Status:       StatusCompleted,
		MusicXMLPath: musicxmlPath,
		PDFPath:      pdfPath,
	}
}

// preprocessUpload runs the raster cleanup and returns the path recognition
// should consume. On any preprocessing failure the raw upload is used; the
// job never fails here.
func (o *Orchestrator) preprocessUpload(job Job, tempDir string) string {
	preCfg := preprocess.Config{
		TargetDPI:             o.cfg.Preprocess.TargetDPI,
		Deskew:                o.cfg.Preprocess.Deskew,
		PerspectiveCorrection: o.cfg.Preprocess.PerspectiveCorrection,
		Denoise:               o.cfg.Preprocess.Denoise,
		Binarize:              o.cfg.Preprocess.Binarize,
	}
	outPath := filepath.Join(tempDir, "preprocessed.png")
	res := o.pre.Run(job.UploadPath, outPath, preCfg)
	if !res.OK {
		o.log.Warn("preprocessing failed, falling back to original upload",
			"job_id", job.ID, "error", res.Err)
		logging.LogProcessingStep(o.log, job.ID, "preprocess", "fallback", map[string]any{
			"error": res.Err,
		})
		return job.UploadPath
	}
	logging.LogProcessingStep(o.log, job.ID, "preprocess", "completed", map[string]any{
		"output": res.OutputPath,
	})
	return res.OutputPath
}

func (o *Orchestrator) transposeDocument(job Job, musicxmlPath string) error {
	if job.Transpose.Semitones != nil {
		return o.trans.BySemitones(musicxmlPath, musicxmlPath, *job.Transpose.Semitones)
	}
	return o.trans.ByKey(musicxmlPath, musicxmlPath, job.Transpose.FromKey, job.Transpose.ToKey)
}

func (o *Orchestrator) fail(job Job, err error) Result {
	o.store.Fail(job.ID, err.Error())
	return Result{Job: job, Status: StatusFailed, Error: err}
}

// moveFile renames when possible and copies across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := fsutil.CopyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}
