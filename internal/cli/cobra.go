// Package cli wires the engine into a cobra command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"microstack/internal/align"
	"microstack/internal/config"
	"microstack/internal/fingerprint"
	"microstack/internal/fsutil"
	"microstack/internal/imageio"
	"microstack/internal/pipeline"
	"microstack/internal/server"
	"microstack/internal/storage"
	"microstack/internal/watch"
)

// Root carries the shared dependencies of every subcommand.
type Root struct {
	cfg *config.Config
	log *slog.Logger
}

// NewRootCmd creates the root cobra command.
func NewRootCmd(cfg *config.Config, log *slog.Logger) *cobra.Command {
	root := &Root{cfg: cfg, log: log}

	rootCmd := &cobra.Command{
		Use:   "microstack",
		Short: "Live microscope drift tracking and focus stacking",
		Long: `Microstack estimates frame-to-frame drift from an uncalibrated microscope
camera and composites focus-bracketed captures into a single in-focus image.`,
	}

	rootCmd.AddCommand(newStackCmd(root))
	rootCmd.AddCommand(newAlignCmd(root))
	rootCmd.AddCommand(newFingerprintCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newStackCmd(root *Root) *cobra.Command {
	var (
		output      string
		debug       bool
		threshold   float64
		sensitivity float64
	)

	cmd := &cobra.Command{
		Use:   "stack <input_directory> [output_path]",
		Short: "Focus-stack a directory of bracketed captures",
		Long: `Process an ordered directory of focus-bracketed captures into a single
composite keeping the sharpest pixel at each location.

Examples:
  microstack stack /captures/slide-07/ composite.png
  microstack stack /captures/slide-07/ --debug --output focus-debug.png`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			if len(args) > 1 {
				output = args[1]
			}
			if output == "" {
				output = "composite.png"
			}

			settings := root.cfg.Settings
			if threshold > 0 {
				settings.SharpnessThreshold = threshold
			}
			if sensitivity >= 0 {
				settings.MergeSensitivity = sensitivity
			}

			files, err := fsutil.ListImages(input)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no images found in %s", input)
			}

			imageio.Init()
			defer imageio.Terminate()

			bar := progressbar.Default(int64(len(files)), "stacking")
			summary, err := pipeline.StackFiles(cmd.Context(), pipeline.StackRequest{
				Settings: settings,
				Log:      root.log,
				Files:    files,
				Output:   output,
				Debug:    debug,
				Read:     imageio.ReadFrame,
				Write:    imageio.WriteFrame,
				Progress: func(done, total int) { _ = bar.Set(done) },
			})
			if err != nil {
				return err
			}
			fmt.Printf("\nStacked %d frames into %s (stage drift %.1f, %.1f px)\n",
				summary.Captured, summary.Output, summary.StageX, summary.StageY)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "composite output path")
	cmd.Flags().BoolVar(&debug, "debug", false, "render in-focus regions as magenta markers")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "override sharpness threshold")
	cmd.Flags().Float64Var(&sensitivity, "sensitivity", -1, "override merge sensitivity")
	return cmd
}

func newAlignCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "align <input_directory>",
		Short: "Report pairwise drift across a capture sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := fsutil.ListImages(args[0])
			if err != nil {
				return err
			}
			if len(files) < 2 {
				return fmt.Errorf("need at least two images, found %d", len(files))
			}

			imageio.Init()
			defer imageio.Terminate()

			est := align.New(root.cfg.Settings)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FILE\tDX\tDY\tCONFIDENCE")

			prev, err := imageio.ReadFrame(files[0])
			if err != nil {
				return err
			}
			var stageX, stageY float64
			for _, path := range files[1:] {
				curr, err := imageio.ReadFrame(path)
				if err != nil {
					return err
				}
				res, err := est.Align(prev, curr)
				if err != nil {
					return err
				}
				stageX += res.DX
				stageY += res.DY
				fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.3f\n", path, res.DX, res.DY, res.Confidence)
				prev = curr
			}
			w.Flush()
			fmt.Printf("accumulated stage position: %.2f, %.2f px\n", stageX, stageY)
			return nil
		},
	}
	return cmd
}

func newFingerprintCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fingerprint <image_a> <image_b>",
		Short: "Compare two captures by grayscale fingerprint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			imageio.Init()
			defer imageio.Terminate()

			settings := root.cfg.Settings
			a, err := imageio.ReadFrame(args[0])
			if err != nil {
				return err
			}
			b, err := imageio.ReadFrame(args[1])
			if err != nil {
				return err
			}
			fpA, err := fingerprint.Compute(a, settings.FingerprintSize, settings.CropRatio)
			if err != nil {
				return err
			}
			fpB, err := fingerprint.Compute(b, settings.FingerprintSize, settings.CropRatio)
			if err != nil {
				return err
			}
			score, err := fingerprint.Similarity(fpA, fpB)
			if err != nil {
				return err
			}
			fmt.Printf("similarity: %.4f\n", score)
			return nil
		},
	}
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr    string
		dbPath  string
		workers int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/WebSocket capture server",
		Long: `Start an HTTP server exposing job history, result streaming, and a
WebSocket capture surface for live drift tracking and compositing.

Examples:
  microstack serve --addr :8750
  microstack serve --addr :8750 --db /var/lib/microstack/jobs.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if addr == "" {
				addr = root.cfg.Server.Addr
			}
			if dbPath == "" {
				dbPath = root.cfg.Paths.DatabasePath
			}

			imageio.Init()
			defer imageio.Terminate()

			store, err := storage.New(dbPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			pipe := pipeline.New(ctx, workers, root.log, store, root.cfg.Settings)
			defer pipe.Stop()

			srv := server.New(addr, root.cfg.Settings, store, pipe, root.log)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&dbPath, "db", "", "job database path (default from config)")
	cmd.Flags().IntVar(&workers, "workers", 2, "pipeline worker count")
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		output string
		debug  bool
	)

	cmd := &cobra.Command{
		Use:   "watch <directory> [directory...]",
		Short: "Treat dropped image files as live capture frames",
		Long: `Watch directories for new image files; each file is tracked for drift and
merged into a running focus composite written after every capture.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if output == "" {
				output = "composite.png"
			}

			imageio.Init()
			defer imageio.Terminate()

			w, err := watch.New(args, output, debug, root.cfg.Settings, root.log,
				imageio.ReadFrame, imageio.WriteFrame)
			if err != nil {
				return err
			}
			err = w.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "composite output path")
	cmd.Flags().BoolVar(&debug, "debug", false, "render in-focus regions as magenta markers")
	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := root.cfg.Settings
			fmt.Printf("Config file: %s\n\n", config.DefaultPath())
			fmt.Printf("Settings:\n")
			fmt.Printf("  align_width:         %d\n", s.AlignWidth)
			fmt.Printf("  search_window:       %d\n", s.SearchWindow)
			fmt.Printf("  sharpness_threshold: %g\n", s.SharpnessThreshold)
			fmt.Printf("  crop_ratio:          %g\n", s.CropRatio)
			fmt.Printf("  drift_deadband:      %g\n", s.DriftDeadband)
			fmt.Printf("  fingerprint_size:    %d\n", s.FingerprintSize)
			fmt.Printf("  merge_sensitivity:   %g\n", s.MergeSensitivity)
			fmt.Printf("\nServer addr: %s\n", root.cfg.Server.Addr)
			fmt.Printf("Database:    %s\n", root.cfg.Paths.DatabasePath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultPath()
			if err := config.Default().Save(path); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	})

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("Microstack v0.3.0")
		},
	}
}
