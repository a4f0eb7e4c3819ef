package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abworrall/luckystack/pkg/elog"
	"github.com/abworrall/luckystack/pkg/lucky"
	"github.com/abworrall/luckystack/pkg/qcache"
)

var (
	log *zap.SugaredLogger

	fConfigFile string
	fVerbose    bool
	fLogFile    string
	fCache      string
	fTop        int

	// Values for the flags that mirror config fields; they only
	// override the config if they were set on the command line.
	fCfg = lucky.NewConfig()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "luckystack",
		Short: "luckystack stacks the sharpest frames of a planetary video",
		Long: `luckystack ranks every frame of a capture by sharpness, then aligns and
averages the best of them, optionally with per-region (alignment point)
correction and up-sampling. Inputs can be image files, directories of
them, SER videos, and a .yaml config file.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log = elog.NewLogger(fVerbose, fLogFile)
			lucky.SetLogger(log)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Sync()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&fConfigFile, "config", "", "base config file (yaml)")
	pf.BoolVarP(&fVerbose, "verbose", "v", false, "debug logging on the console")
	pf.StringVar(&fLogFile, "log-file", "", "also log (as JSON) into this file, rotated")
	pf.StringVar(&fCache, "cache", "", "sqlite file to cache frame scores in")

	rootCmd.AddCommand(newRankCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newStackCmd())
	rootCmd.AddCommand(newConfigCmd())
	return rootCmd
}

func addConfigFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&fCfg.OutputWidth, "width", fCfg.OutputWidth, "output width in native pixels (0: frame width)")
	f.IntVar(&fCfg.OutputHeight, "height", fCfg.OutputHeight, "output height in native pixels (0: frame height)")
	f.Float64Var(&fCfg.Upsample, "upsample", fCfg.Upsample, "drizzle factor, >= 1.0")
	f.BoolVar(&fCfg.LocalAlign, "local", fCfg.LocalAlign, "align each alignment point separately")
	f.IntVar(&fCfg.APSize, "apsize", fCfg.APSize, "alignment point size, in native pixels")
	f.StringVar(&fCfg.Placement, "placement", fCfg.Placement, "alignment point placement (uniform|features)")
	f.Float64Var(&fCfg.GlobalMinResponse, "minresponse", fCfg.GlobalMinResponse, "ignore global shifts with a weaker correlation than this")
	f.Float64Var(&fCfg.LocalMinResponse, "localminresponse", fCfg.LocalMinResponse, "ignore local shifts with a weaker correlation than this")
	f.StringVar(&fCfg.Weighting, "weighting", fCfg.Weighting, "frame weights (quality|uniform)")
	f.IntSliceVarP(&fCfg.Percentages, "percent", "p", fCfg.Percentages, "stack the best N% of frames (repeatable)")
	f.IntVar(&fCfg.NumWorkers, "workers", fCfg.NumWorkers, "worker goroutines (0: NumCPU-2)")
	f.IntVar(&fCfg.BlockSize, "blocksize", fCfg.BlockSize, "frames decoded per block, for videos")
	f.StringVarP(&fCfg.OutputDir, "outdir", "o", fCfg.OutputDir, "where to write output files")
	f.StringSliceVar(&fCfg.Formats, "format", fCfg.Formats, "output formats (tif|hdr|png)")
	f.StringVar(&fCfg.Tonemapper, "tonemapper", fCfg.Tonemapper, "tonemapper for png output: "+lucky.ListTonemappers())
}

// loadConfig layers the config: defaults, then --config, then any
// yaml among the inputs, then whichever flags were actually set.
func loadConfig(cmd *cobra.Command, in *lucky.Inputs) (lucky.Config, error) {
	cfg := lucky.NewConfig()
	if fConfigFile != "" {
		if err := cfg.UpdateFromFile(fConfigFile); err != nil {
			return cfg, err
		}
	}
	if in != nil && in.ConfigFile != "" {
		if err := cfg.UpdateFromFile(in.ConfigFile); err != nil {
			return cfg, err
		}
	}

	overrides := map[string]func(){
		"width":            func() { cfg.OutputWidth = fCfg.OutputWidth },
		"height":           func() { cfg.OutputHeight = fCfg.OutputHeight },
		"upsample":         func() { cfg.Upsample = fCfg.Upsample },
		"local":            func() { cfg.LocalAlign = fCfg.LocalAlign },
		"apsize":           func() { cfg.APSize = fCfg.APSize },
		"placement":        func() { cfg.Placement = fCfg.Placement },
		"minresponse":      func() { cfg.GlobalMinResponse = fCfg.GlobalMinResponse },
		"localminresponse": func() { cfg.LocalMinResponse = fCfg.LocalMinResponse },
		"weighting":        func() { cfg.Weighting = fCfg.Weighting },
		"percent":          func() { cfg.Percentages = fCfg.Percentages },
		"workers":          func() { cfg.NumWorkers = fCfg.NumWorkers },
		"blocksize":        func() { cfg.BlockSize = fCfg.BlockSize },
		"outdir":           func() { cfg.OutputDir = fCfg.OutputDir },
		"format":           func() { cfg.Formats = fCfg.Formats },
		"tonemapper":       func() { cfg.Tonemapper = fCfg.Tonemapper },
	}
	for name, apply := range overrides {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			apply()
		}
	}
	if fVerbose {
		cfg.Verbosity = 1
	}

	return cfg, cfg.Finalize()
}

// setup loads the inputs and config, and builds a coordinator. The
// returned func releases everything.
func setup(cmd *cobra.Command, args []string) (*lucky.Coordinator, *qcache.Store, func(), error) {
	in := &lucky.Inputs{}
	if err := in.LoadFilesAndDirs(args...); err != nil {
		return nil, nil, nil, err
	}
	cfg, err := loadConfig(cmd, in)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Verbosity > 0 {
		log.Debugf("Final configuration:-\n\n%s", cfg.AsYaml())
	}

	src, err := in.Source(cfg.BlockSize)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("inputs %v: %w", args, err)
	}
	log.Infof("Loaded %d frames (%d image files, %d videos)", src.FrameCount(), len(in.Images), len(in.Videos))

	c := &lucky.Coordinator{Source: src, Config: cfg, Progress: newProgressLogger()}
	cleanup := func() { src.Close() }

	var store *qcache.Store
	if fCache != "" {
		if store, err = qcache.New(fCache); err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("cache %s: %v", fCache, err)
		}
		c.Cache = store
		cleanup = func() { src.Close(); store.Close() }
	}

	return c, store, cleanup, nil
}

// newProgressLogger logs every tenth of the way through a phase.
func newProgressLogger() lucky.ProgressFunc {
	var lastDecile atomic.Int64
	return func(done, total int) {
		decile := int64(10 * done / total)
		if done == 1 {
			lastDecile.Store(0)
		}
		if prev := lastDecile.Load(); decile > prev && lastDecile.CompareAndSwap(prev, decile) {
			log.Infof("... %d/%d (%d%%)", done, total, 10*decile)
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func newRankCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rank <inputs...>",
		Short: "Score every frame by sharpness, and list the best",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, cleanup, err := setup(cmd, args)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := signalContext()
			defer cancel()

			ranked, err := c.ScoreFrames(ctx)
			if err != nil {
				return err
			}

			cutoff := lucky.SelectionSize(len(ranked), c.Config.Percentages[0])
			hdr := color.New(color.FgCyan, color.Bold)
			hdr.Printf("%d frames, best %d%% is %d frames\n", len(ranked), c.Config.Percentages[0], cutoff)
			for i, r := range ranked {
				if fTop > 0 && i >= fTop {
					break
				}
				clr := color.New(color.FgGreen)
				if i >= cutoff {
					clr = color.New(color.FgHiBlack)
				}
				clr.Printf("%5d  frame %5d  %.4f\n", i+1, r.Index, r.Score)
			}
			return nil
		},
	}
	addConfigFlags(cmd)
	cmd.Flags().IntVarP(&fTop, "top", "n", 20, "how many frames to list (0: all)")
	return cmd
}

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <inputs...>",
		Short: "Place alignment points on the best frame, and draw them into aps.png",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, cleanup, err := setup(cmd, args)
			if err != nil {
				return err
			}
			defer cleanup()
			c.Config.LocalAlign = true

			ctx, cancel := signalContext()
			defer cancel()

			ranked, err := c.ScoreFrames(ctx)
			if err != nil {
				return err
			}
			ref, aps, err := c.Plan(ranked)
			if err != nil {
				return err
			}

			filename := filepath.Join(c.Config.OutputDir, "aps.png")
			title := fmt.Sprintf("%s, size %d", c.Config.Placement, c.Config.APSize)
			if err := lucky.DrawAlignmentPoints(ref, aps, title, filename); err != nil {
				return err
			}
			color.New(color.FgGreen).Printf("%d alignment points, drawn into %s\n", len(aps), filename)
			return nil
		},
	}
	addConfigFlags(cmd)
	return cmd
}

func newStackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stack <inputs...>",
		Short: "Rank, align and stack the best frames",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, store, cleanup, err := setup(cmd, args)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := os.MkdirAll(c.Config.OutputDir, 0o755); err != nil {
				return fmt.Errorf("outdir %s: %v", c.Config.OutputDir, err)
			}

			ctx, cancel := signalContext()
			defer cancel()

			results, err := c.Run(ctx, c.Config.Percentages)
			now := time.Now()
			for _, res := range results {
				files, saveErr := res.Save(c.Config.OutputDir, c.Config.Formats, c.Config.Tonemapper, now)
				if saveErr != nil {
					return saveErr
				}
				summarize(res, files)

				if store != nil {
					rec := qcache.RunRecord{ID: res.Stats.RunID, Percentage: res.Percentage, Frames: res.Stats.Added,
						Skipped: res.Stats.Skipped, APs: res.Stats.APs, Outputs: strings.Join(files, ",")}
					if _, err := store.RecordRun(rec); err != nil {
						log.Warnf("Recording run: %v", err)
					}
				}
			}
			return err
		},
	}
	addConfigFlags(cmd)
	return cmd
}

func summarize(res lucky.Result, files []string) {
	s := res.Stats
	hdr := color.New(color.FgCyan, color.Bold)
	hdr.Printf("%d%% stack: %s\n", res.Percentage, res.Composite)

	clr := color.New(color.FgGreen)
	if s.Skipped > 0 || s.LowResponse() > 0 {
		clr = color.New(color.FgYellow)
	}
	clr.Printf("  %d/%d frames added, %d skipped, %d low-response, %d APs\n", s.Added, s.Selected, s.Skipped, s.LowResponse(), s.APs)
	p50, p99 := s.AddLatency()
	color.New(color.FgHiBlack).Printf("  add p50 %s, p99 %s, took %s\n", p50, p99, s.Elapsed.Round(time.Millisecond))
	for _, f := range files {
		color.New(color.FgWhite).Printf("  wrote %s\n", f)
	}
	log.Debugf("Score histogram for %s: %s", s.RunID, s.ScoreHistogram())
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config [config.yaml]",
		Short: "Print the effective configuration as yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := &lucky.Inputs{}
			if err := in.LoadFilesAndDirs(args...); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, in)
			if err != nil {
				return err
			}
			fmt.Print(cfg.AsYaml())
			return nil
		},
	}
	addConfigFlags(cmd)
	return cmd
}
