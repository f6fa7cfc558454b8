package image

import (
	"context"

	"github.com/aellingwood/fluidimg/internal/assets"
	"github.com/aellingwood/fluidimg/internal/config"
	"github.com/aellingwood/fluidimg/internal/errors"
)

// FluidProcessor produces responsive variants of a single image file.
// Implementations must be safe for concurrent use.
type FluidProcessor interface {
	Fluid(ctx context.Context, file *assets.File, args config.FluidArgs) (*FluidResult, error)
}

// Metadata is the derived image result embedded into rewritten markup. Field
// order is the serialization order.
type Metadata struct {
	AspectRatio          float64 `json:"aspectRatio"                    yaml:"aspectRatio"`
	PrimarySourceURL     string  `json:"primarySourceUrl"               yaml:"primarySourceUrl"`
	SourceSet            string  `json:"sourceSet"                      yaml:"sourceSet"`
	Base64               string  `json:"base64,omitempty"               yaml:"base64,omitempty"`
	PresentationWidth    int     `json:"presentationWidth,omitempty"    yaml:"presentationWidth,omitempty"`
	PresentationHeight   int     `json:"presentationHeight,omitempty"   yaml:"presentationHeight,omitempty"`
	PrimarySourceURLWebp string  `json:"primarySourceUrlWebp,omitempty" yaml:"primarySourceUrlWebp,omitempty"`
	SourceSetWebp        string  `json:"sourceSetWebp,omitempty"        yaml:"sourceSetWebp,omitempty"`
}

// Generator turns a resolved file and an effective configuration into
// Metadata by calling a FluidProcessor.
type Generator struct {
	processor FluidProcessor
}

// NewGenerator creates a Generator backed by processor.
func NewGenerator(processor FluidProcessor) *Generator {
	return &Generator{processor: processor}
}

// Generate returns the metadata for file under cfg. A nil file, the result of
// a failed resolution, yields nil metadata and no error. The processor is
// called once, plus a second time with toFormat "webp" when the output layer
// asks for webp sources. Base64 and presentation size are only copied when
// the output layer enables them.
//
// Processor failures are returned as ErrCodeProcessing unless the processor
// already attached a code.
func (g *Generator) Generate(ctx context.Context, file *assets.File, cfg config.Config) (*Metadata, error) {
	if file == nil {
		return nil, nil
	}

	args, err := cfg.FluidArgs()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidOptions, err, "sizing options for %s", file.AbsolutePath)
	}
	flags, err := cfg.OutputFlags()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidOptions, err, "output options for %s", file.AbsolutePath)
	}

	res, err := g.processor.Fluid(ctx, file, args)
	if err != nil {
		return nil, processingError(err, file)
	}

	md := &Metadata{
		AspectRatio:      res.AspectRatio,
		PrimarySourceURL: res.Src,
		SourceSet:        res.SrcSet,
	}
	if flags.Base64 {
		md.Base64 = res.Base64
	}
	if flags.LimitPresentationSize {
		md.PresentationWidth = res.PresentationWidth
		md.PresentationHeight = res.PresentationHeight
	}

	if flags.WithWebp {
		webpArgs := args
		webpArgs.ToFormat = "webp"
		webpRes, err := g.processor.Fluid(ctx, file, webpArgs)
		if err != nil {
			return nil, processingError(err, file)
		}
		md.PrimarySourceURLWebp = webpRes.Src
		md.SourceSetWebp = webpRes.SrcSet
	}

	return md, nil
}

func processingError(err error, file *assets.File) error {
	if errors.GetCode(err) != "" {
		return err
	}
	return errors.Wrap(errors.ErrCodeProcessing, err, "processing %s", file.AbsolutePath)
}
