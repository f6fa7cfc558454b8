package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aellingwood/fluidimg/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch <document|directory>",
	Short: "Re-run transform when the document or its images change",
	Long: "Watch runs transform once, then again every time the document or a file " +
		"below the asset directory changes. Generated variants and the cache are ignored.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, flagOverrides(cmd))
		if err != nil {
			return err
		}
		opts, err := runOptionsFromFlags(cmd, args[0])
		if err != nil {
			return err
		}
		info, err := os.Stat(opts.input)
		if err != nil {
			return err
		}
		if opts.output == "" && !info.IsDir() {
			// Writing to stdout on every change would interleave trees.
			opts.output = outputPath(opts.input, opts.format)
		}

		debounce, _ := cmd.Flags().GetDuration("debounce")
		logger := loggerFromContext(cmd.Context())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		run := func() {
			prog := newProgress(logger)
			stats, err := runTransform(ctx, cfg, opts, cmd.OutOrStdout(), logger)
			if err != nil {
				logger.Error("transform failed", "err", err)
				return
			}
			prog.done("Transformed "+opts.input, "rewritten", stats.Rewritten)
		}
		run()

		paths := []string{opts.input}
		switch {
		case opts.assetsDir != "":
			paths = append(paths, opts.assetsDir)
		case !info.IsDir():
			paths = append(paths, filepath.Dir(opts.input))
		}
		var ignore []string
		if opts.output != "" {
			ignore = append(ignore, opts.output)
		}
		if cfg.Images.OutputDir != "" {
			ignore = append(ignore, cfg.Images.OutputDir)
		}
		if cfg.Images.CacheDir != "" {
			ignore = append(ignore, cfg.Images.CacheDir)
		}

		w := watch.New(paths, debounce, func(changed []string) {
			logger.Info("Change detected", "files", len(changed))
			logger.Debug("changed", "paths", changed)
			run()
		}, watch.WithLogger(logger), watch.WithIgnore(ignore...), watch.WithSkip(isGeneratedTree))

		logger.Info("Watching for changes", "paths", paths)
		return w.Run(ctx)
	},
}

// isGeneratedTree reports whether path is a tree written by a previous run.
func isGeneratedTree(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".fluid.json") || strings.HasSuffix(base, ".fluid.yaml")
}

func init() {
	addRunFlags(watchCmd)
	watchCmd.Flags().Duration("debounce", 200*time.Millisecond, "quiet period before re-running")
	rootCmd.AddCommand(watchCmd)
}
