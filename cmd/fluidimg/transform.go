package main

import (
	"github.com/spf13/cobra"

	"github.com/aellingwood/fluidimg/internal/errors"
)

var transformCmd = &cobra.Command{
	Use:   "transform <document|directory>",
	Short: "Rewrite the images of a document",
	Long: "Transform reads a markdown file or an mdast JSON tree, generates responsive " +
		"variants for every local image it references, and writes the rewritten tree. " +
		"Given a directory, every markdown document below it is transformed and each " +
		"tree is written next to its source as name.fluid.json.",
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

		logger := loggerFromContext(cmd.Context())
		prog := newProgress(logger)
		stats, err := runTransform(cmd.Context(), cfg, opts, cmd.OutOrStdout(), logger)
		if err != nil {
			if code := errors.GetCode(err); code != "" {
				logger.Debug("transform failed", "code", code, "cause", errors.UserMessage(err))
			}
			return err
		}
		prog.done("Transformed "+opts.input,
			"images", stats.Images, "tags", stats.Tags, "rewritten", stats.Rewritten, "demoted", stats.Demoted)
		return nil
	},
}

// addRunFlags registers the flags shared by transform and watch.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("assets", "", "directory to index for images (default: the document's directory)")
	cmd.Flags().String("format", "json", "output format (json, yaml)")
	cmd.Flags().StringP("output", "o", "", "write the rewritten tree to this file instead of stdout (a directory in directory mode)")
	cmd.Flags().String("element-name", "", "tag name of the rewritten image element")
	cmd.Flags().Int("max-width", 0, "maximum presentation width in pixels")
	cmd.Flags().Int("quality", 0, "encoder quality (1-100)")
	cmd.Flags().Bool("webp", false, "also generate WebP variants")
	cmd.Flags().Bool("no-base64", false, "omit the inline placeholder")
	cmd.Flags().Bool("demote-parents", false, "turn the parents of rewritten images into generic containers")
	cmd.Flags().Int("concurrency", 0, "maximum images processed at once (default: number of CPUs)")
	cmd.Flags().String("image-dir", "", "directory generated variants are written to")
	cmd.Flags().String("cache-dir", "", "directory of the variant cache")
	cmd.Flags().IntP("jobs", "j", 0, "documents transformed at once in directory mode (default: number of CPUs)")
}

// flagOverrides collects the config overrides of the flags the user set.
func flagOverrides(cmd *cobra.Command) map[string]any {
	overrides := make(map[string]any)
	f := cmd.Flags()
	if f.Changed("element-name") {
		v, _ := f.GetString("element-name")
		overrides["elementName"] = v
	}
	if f.Changed("max-width") {
		v, _ := f.GetInt("max-width")
		overrides["maxWidth"] = v
	}
	if f.Changed("quality") {
		v, _ := f.GetInt("quality")
		overrides["quality"] = v
	}
	if f.Changed("webp") {
		v, _ := f.GetBool("webp")
		overrides["withWebp"] = v
	}
	if f.Changed("no-base64") {
		v, _ := f.GetBool("no-base64")
		overrides["base64"] = !v
	}
	if f.Changed("demote-parents") {
		v, _ := f.GetBool("demote-parents")
		overrides["replaceMarkdownImageParent"] = v
	}
	if f.Changed("concurrency") {
		v, _ := f.GetInt("concurrency")
		overrides["concurrency"] = v
	}
	if f.Changed("image-dir") {
		v, _ := f.GetString("image-dir")
		overrides["outputDir"] = v
	}
	if f.Changed("cache-dir") {
		v, _ := f.GetString("cache-dir")
		overrides["cacheDir"] = v
	}
	return overrides
}

func runOptionsFromFlags(cmd *cobra.Command, input string) (runOptions, error) {
	opts := runOptions{input: input}
	var err error
	if opts.assetsDir, err = cmd.Flags().GetString("assets"); err != nil {
		return opts, err
	}
	if opts.format, err = cmd.Flags().GetString("format"); err != nil {
		return opts, err
	}
	if opts.output, err = cmd.Flags().GetString("output"); err != nil {
		return opts, err
	}
	if opts.jobs, err = cmd.Flags().GetInt("jobs"); err != nil {
		return opts, err
	}
	return opts, nil
}

func init() {
	addRunFlags(transformCmd)
	rootCmd.AddCommand(transformCmd)
}
