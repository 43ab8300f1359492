// Package cli wires the scorepipe commands: one-shot conversion, standalone
// preprocessing and transposition, the HTTP server and job inspection.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scorepipe/internal/config"
	"scorepipe/internal/fsutil"
	"scorepipe/internal/imaging"
	"scorepipe/internal/jobs"
	"scorepipe/internal/logging"
	"scorepipe/internal/omr"
	"scorepipe/internal/preprocess"
	"scorepipe/internal/render"
	"scorepipe/internal/server"
	"scorepipe/internal/storage"
	"scorepipe/internal/transpose"
	"scorepipe/internal/watcher"
)

// Root holds shared dependencies for all commands. The processor factory is
// swapped out by tests.
type Root struct {
	cfg   *config.Config
	log   *slog.Logger
	store *storage.Store

	newProcessor func() jobs.Processor
}

// NewRoot constructs the command dependencies.
func NewRoot(cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	r := &Root{cfg: cfg, log: logger, store: store}
	r.newProcessor = r.buildOrchestrator
	return r
}

func (r *Root) buildOrchestrator() jobs.Processor {
	tools := r.cfg.Tools
	return jobs.NewOrchestrator(
		r.log,
		r.cfg,
		preprocess.New(r.log, imaging.ProbeDPI),
		omr.New(tools.AudiverisPath, time.Duration(tools.OMRTimeoutSec)*time.Second, r.log),
		jobs.XMLTransposer{},
		render.New(tools.MuseScorePath, time.Duration(tools.RenderTimeoutSec)*time.Second, r.log),
		r.store,
	)
}

// NewRootCmd creates the root Cobra command.
func NewRootCmd(cfg *config.Config, logger *slog.Logger, store *storage.Store) *cobra.Command {
	root := NewRoot(cfg, logger, store)

	rootCmd := &cobra.Command{
		Use:   "scorepipe",
		Short: "Scorepipe converts scanned sheet music to MusicXML and PDF",
		Long: `Scorepipe runs scanned or photographed scores through image preprocessing,
optical music recognition and PDF engraving, with optional transposition.`,
	}

	rootCmd.AddCommand(newConvertCmd(root))
	rootCmd.AddCommand(newPreprocessCmd(root))
	rootCmd.AddCommand(newTransposeCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newJobsCmd(root))
	rootCmd.AddCommand(newToolsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newConvertCmd(root *Root) *cobra.Command {
	var (
		semitones int
		fromKey   string
		toKey     string
	)

	cmd := &cobra.Command{
		Use:   "convert <score-image>",
		Short: "Convert a score image to MusicXML and PDF",
		Long: `Run the full conversion for a single file and wait for the result.

Examples:
  scorepipe convert scan.png
  scorepipe convert scan.png --semitones 2
  scorepipe convert scan.png --from-key Bb --to-key C`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			if !fsutil.IsScoreFile(input) {
				return fmt.Errorf("unsupported score file: %s", input)
			}
			if (fromKey == "") != (toKey == "") {
				return fmt.Errorf("--from-key and --to-key must be given together")
			}
			if cmd.Flags().Changed("semitones") &&
				(semitones < transpose.MinSemitones || semitones > transpose.MaxSemitones) {
				return fmt.Errorf("--semitones must be between %d and %d",
					transpose.MinSemitones, transpose.MaxSemitones)
			}

			job := jobs.Job{
				ID:               jobs.NewID(),
				OriginalFilename: filepath.Base(input),
				UploadPath:       input,
			}
			if cmd.Flags().Changed("semitones") {
				job.Transpose.Semitones = &semitones
			}
			job.Transpose.FromKey = fromKey
			job.Transpose.ToKey = toKey

			if err := root.store.CreateJob(storage.JobRecord{
				ID:                 job.ID,
				OriginalFilename:   job.OriginalFilename,
				UploadPath:         input,
				TransposeSemitones: job.Transpose.Semitones,
				TransposeFromKey:   fromKey,
				TransposeToKey:     toKey,
			}); err != nil {
				return fmt.Errorf("record job: %w", err)
			}

			res := root.newProcessor().Process(cmd.Context(), job)
			if res.Error != nil {
				return res.Error
			}
			cmd.Printf("MusicXML: %s\n", res.MusicXMLPath)
			cmd.Printf("PDF:      %s\n", res.PDFPath)
			return nil
		},
	}

	cmd.Flags().IntVarP(&semitones, "semitones", "s", 0, "transpose by semitones (-12..12)")
	cmd.Flags().StringVar(&fromKey, "from-key", "", "source key for key-to-key transposition (e.g. Bb, Em)")
	cmd.Flags().StringVar(&toKey, "to-key", "", "target key for key-to-key transposition")
	return cmd
}

func newPreprocessCmd(root *Root) *cobra.Command {
	var (
		targetDPI     int
		noDeskew      bool
		noPerspective bool
		noDenoise     bool
		noBinarize    bool
	)

	cmd := &cobra.Command{
		Use:   "preprocess <input> <output>",
		Short: "Clean up a score raster without running recognition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := preprocess.Config{
				TargetDPI:             targetDPI,
				Deskew:                !noDeskew,
				PerspectiveCorrection: !noPerspective,
				Denoise:               !noDenoise,
				Binarize:              !noBinarize,
			}
			p := preprocess.New(root.log, imaging.ProbeDPI)
			res := p.Run(args[0], args[1], cfg)
			if !res.OK {
				return fmt.Errorf("preprocessing failed: %s", res.Err)
			}
			cmd.Printf("Wrote %s\n", res.OutputPath)
			return nil
		},
	}

	cmd.Flags().IntVar(&targetDPI, "target-dpi", preprocess.DefaultTargetDPI, "minimum output resolution")
	cmd.Flags().BoolVar(&noDeskew, "no-deskew", false, "skip rotation correction")
	cmd.Flags().BoolVar(&noPerspective, "no-perspective", false, "skip perspective correction")
	cmd.Flags().BoolVar(&noDenoise, "no-denoise", false, "skip denoising")
	cmd.Flags().BoolVar(&noBinarize, "no-binarize", false, "skip binarization")
	return cmd
}

func newTransposeCmd(root *Root) *cobra.Command {
	var (
		semitones int
		fromKey   string
		toKey     string
	)

	cmd := &cobra.Command{
		Use:   "transpose <input.musicxml> <output.musicxml>",
		Short: "Transpose a MusicXML document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromKey != "" || toKey != "" {
				if fromKey == "" || toKey == "" {
					return fmt.Errorf("--from-key and --to-key must be given together")
				}
				return transpose.ByKey(args[0], args[1], fromKey, toKey)
			}
			if !cmd.Flags().Changed("semitones") {
				return fmt.Errorf("either --semitones or --from-key/--to-key is required")
			}
			return transpose.BySemitones(args[0], args[1], semitones)
		},
	}

	cmd.Flags().IntVarP(&semitones, "semitones", "s", 0, "transpose by semitones (-12..12)")
	cmd.Flags().StringVar(&fromKey, "from-key", "", "source key")
	cmd.Flags().StringVar(&toKey, "to-key", "", "target key")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr       string
		watchPaths []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the conversion service",
		Long: `Start the HTTP API and worker pool. Directories given with --watch are
monitored for new score files, which are submitted automatically.

Examples:
  scorepipe serve --addr :8080
  scorepipe serve --addr :8080 --watch /data/scores/inbox`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				root.cfg.Server.Addr = addr
			}
			if len(watchPaths) > 0 {
				root.cfg.Server.WatchPaths = watchPaths
			}
			if err := root.cfg.Storage.EnsureDirs(); err != nil {
				return fmt.Errorf("prepare storage: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pool := jobs.NewPool(ctx, root.cfg.Processing.ParallelJobs, root.log, root.newProcessor())
			defer pool.Stop()

			if len(root.cfg.Server.WatchPaths) > 0 {
				w, err := watcher.New(root.cfg.Server.WatchPaths, watcher.DefaultSettle, func(path string) error {
					return submitWatchedFile(root, pool, path)
				}, root.log)
				if err != nil {
					return fmt.Errorf("create watcher: %w", err)
				}
				if err := w.Start(); err != nil {
					return fmt.Errorf("start watcher: %w", err)
				}
				defer w.Stop()
			}

			srv := server.New(root.cfg, root.store, pool, root.log)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringSliceVar(&watchPaths, "watch", nil, "directories to monitor for new scores")
	return cmd
}

// submitWatchedFile copies a settled file into upload storage and queues it.
func submitWatchedFile(root *Root, pool *jobs.Pool, path string) error {
	job := jobs.Job{
		ID:               jobs.NewID(),
		OriginalFilename: filepath.Base(path),
	}
	uploadPath := filepath.Join(root.cfg.Storage.Uploads(), job.ID+filepath.Ext(path))
	if err := fsutil.CopyFile(path, uploadPath); err != nil {
		return fmt.Errorf("copy watched file: %w", err)
	}
	job.UploadPath = uploadPath

	if err := root.store.CreateJob(storage.JobRecord{
		ID:               job.ID,
		OriginalFilename: job.OriginalFilename,
		UploadPath:       uploadPath,
	}); err != nil {
		return fmt.Errorf("record job: %w", err)
	}
	return pool.Submit(job)
}

func newJobsCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent conversion jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := root.store.RecentJobs(limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				cmd.Println("No jobs recorded")
				return nil
			}
			for _, rec := range recs {
				line := fmt.Sprintf("%s  %-10s %3d%%  %s", rec.ID, rec.Status, rec.Progress, rec.OriginalFilename)
				if rec.Error != "" {
					line += "  (" + rec.Error + ")"
				}
				cmd.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of jobs to list")
	return cmd
}

func newToolsCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Report availability of the external engines",
		RunE: func(cmd *cobra.Command, args []string) error {
			tools := root.cfg.Tools
			engine := omr.New(tools.AudiverisPath, 0, root.log)
			renderer := render.New(tools.MuseScorePath, 0, root.log)

			report := func(name, path string, ok bool) {
				status := "missing"
				if ok {
					status = "ok"
				}
				cmd.Printf("%-10s %-8s %s\n", name, status, path)
			}
			report("audiveris", tools.AudiverisPath, engine.IsAvailable())
			report("musescore", tools.MuseScorePath, renderer.IsAvailable())
			return nil
		},
	}
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			cmd.Printf("Storage Root:   %s\n", cfg.Storage.Root)
			cmd.Printf("Database Path:  %s\n", cfg.Storage.DatabasePath)
			cmd.Printf("Temp Directory: %s\n", cfg.Processing.TempDir)
			cmd.Printf("Parallel Jobs:  %d\n", cfg.Processing.ParallelJobs)
			cmd.Printf("Target DPI:     %d\n", cfg.Preprocess.TargetDPI)
			cmd.Printf("Audiveris:      %s\n", cfg.Tools.AudiverisPath)
			cmd.Printf("MuseScore:      %s\n", cfg.Tools.MuseScorePath)
			cmd.Printf("Log Level:      %s\n", cfg.Logging.Level)
			cmd.Printf("Log Format:     %s\n", cfg.Logging.Format)
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			pc := preprocess.Config{
				TargetDPI:             root.cfg.Preprocess.TargetDPI,
				Deskew:                root.cfg.Preprocess.Deskew,
				PerspectiveCorrection: root.cfg.Preprocess.PerspectiveCorrection,
				Denoise:               root.cfg.Preprocess.Denoise,
				Binarize:              root.cfg.Preprocess.Binarize,
			}
			if err := pc.Validate(); err != nil {
				return fmt.Errorf("preprocess config: %w", err)
			}
			cmd.Println("Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("scorepipe v1.0.0")
		},
	}
}

// Run loads config, sets up logging and storage, and executes the CLI.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}

	store, err := storage.New(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("open job database: %w", err)
	}
	defer store.Close()

	rootCmd := NewRootCmd(cfg, logger, store)
	return rootCmd.ExecuteContext(ctx)
}
