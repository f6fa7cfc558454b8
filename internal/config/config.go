// Package config builds the effective configuration for a fluidimg transform.
//
// Configuration is layered. Built-in defaults sit at the bottom, invocation
// options (config file, CLI flags, document front matter) sit above them, and
// per-image inline options sit on top. Each layer is merged shallowly: a key
// supplied by a higher layer replaces the same key below it, and keys that are
// not supplied keep their lower-layer values. Keys compare case-insensitively
// because viper folds config file keys to lower case.
package config

import (
	"fmt"
	"maps"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Values is one layer of loosely typed options such as the fluid sizing knobs.
// Unknown keys are carried through untouched.
type Values map[string]any

// Config is the effective configuration for one transform invocation. It is
// built once by Merge and treated as immutable afterwards.
type Config struct {
	ElementName                string      `yaml:"elementName"                mapstructure:"elementName"                json:"elementName"`
	MetadataAttribute          string      `yaml:"metadataAttribute"          mapstructure:"metadataAttribute"          json:"metadataAttribute"`
	ReplaceMarkdownImageParent bool        `yaml:"replaceMarkdownImageParent" mapstructure:"replaceMarkdownImageParent" json:"replaceMarkdownImageParent"`
	Concurrency                int         `yaml:"concurrency"                mapstructure:"concurrency"                json:"concurrency"`
	Fluid                      Values      `yaml:"fluid"                      mapstructure:"fluid"                      json:"fluid"`
	Output                     Values      `yaml:"output"                     mapstructure:"output"                     json:"output"`
	Images                     ImageConfig `yaml:"images"                     mapstructure:"images"                     json:"images"`
}

// ImageConfig controls where the default image processor writes variants.
type ImageConfig struct {
	OutputDir string `yaml:"outputDir" mapstructure:"outputDir" json:"outputDir"`
	URLPrefix string `yaml:"urlPrefix" mapstructure:"urlPrefix" json:"urlPrefix"`
	CacheDir  string `yaml:"cacheDir"  mapstructure:"cacheDir"  json:"cacheDir"`
}

// Layer is a partially supplied configuration. Nil pointers and nil maps mean
// "not supplied" and leave the lower layer alone.
type Layer struct {
	ElementName                *string `yaml:"elementName"                mapstructure:"elementName"`
	MetadataAttribute          *string `yaml:"metadataAttribute"          mapstructure:"metadataAttribute"`
	ReplaceMarkdownImageParent *bool   `yaml:"replaceMarkdownImageParent" mapstructure:"replaceMarkdownImageParent"`
	Fluid                      Values  `yaml:"fluid"                      mapstructure:"fluid"`
	Output                     Values  `yaml:"output"                     mapstructure:"output"`
}

// FluidArgs is the typed view of the fluid sizing layer handed to the image
// processor. Keys the processor does not know about land in Extra.
type FluidArgs struct {
	MaxWidth          int            `mapstructure:"maxWidth"          json:"maxWidth,omitempty"`
	MaxHeight         int            `mapstructure:"maxHeight"         json:"maxHeight,omitempty"`
	Quality           int            `mapstructure:"quality"           json:"quality,omitempty"`
	ToFormat          string         `mapstructure:"toFormat"          json:"toFormat,omitempty"`
	SrcSetBreakpoints []int          `mapstructure:"srcSetBreakpoints" json:"srcSetBreakpoints,omitempty"`
	Extra             map[string]any `mapstructure:",remain"           json:"extra,omitempty"`
}

// OutputFlags is the typed view of the output shaping layer.
type OutputFlags struct {
	Base64                bool `mapstructure:"base64"                json:"base64"`
	WithWebp              bool `mapstructure:"withWebp"              json:"withWebp"`
	LimitPresentationSize bool `mapstructure:"limitPresentationSize" json:"limitPresentationSize"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		ElementName:                "Img",
		MetadataAttribute:          "metadata",
		ReplaceMarkdownImageParent: true,
		Fluid: Values{
			"maxWidth": 800,
			"quality":  80,
		},
		Output: Values{
			"base64":                true,
			"withWebp":              false,
			"limitPresentationSize": false,
		},
		Images: ImageConfig{
			OutputDir: filepath.Join("public", "static"),
			URLPrefix: "/static",
			CacheDir:  filepath.Join(".fluidimg", "cache"),
		},
	}
}

// Merge returns a new Config with each layer applied over base in order.
// base is not modified and the result shares no maps with base or the layers.
func Merge(base Config, layers ...Layer) Config {
	out := base
	out.Fluid = mergeValues(nil, base.Fluid)
	out.Output = mergeValues(nil, base.Output)
	for _, l := range layers {
		if l.ElementName != nil {
			out.ElementName = *l.ElementName
		}
		if l.MetadataAttribute != nil {
			out.MetadataAttribute = *l.MetadataAttribute
		}
		if l.ReplaceMarkdownImageParent != nil {
			out.ReplaceMarkdownImageParent = *l.ReplaceMarkdownImageParent
		}
		out.Fluid = mergeValues(out.Fluid, l.Fluid)
		out.Output = mergeValues(out.Output, l.Output)
	}
	return out
}

// mergeValues copies dst and overlays src on the copy. A src key replaces any
// dst key that matches it case-insensitively.
func mergeValues(dst, src Values) Values {
	out := make(Values, len(dst)+len(src))
	maps.Copy(out, dst)
	for k, v := range src {
		for existing := range out {
			if existing != k && strings.EqualFold(existing, k) {
				delete(out, existing)
			}
		}
		out[k] = v
	}
	return out
}

// FluidArgs decodes the fluid layer into typed processor arguments.
func (c Config) FluidArgs() (FluidArgs, error) {
	var args FluidArgs
	if err := decode(c.Fluid, &args); err != nil {
		return FluidArgs{}, fmt.Errorf("decoding fluid options: %w", err)
	}
	return args, nil
}

// OutputFlags decodes the output layer into typed flags.
func (c Config) OutputFlags() (OutputFlags, error) {
	var flags OutputFlags
	if err := decode(c.Output, &flags); err != nil {
		return OutputFlags{}, fmt.Errorf("decoding output options: %w", err)
	}
	return flags, nil
}

func decode(in Values, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(in))
}

// fileConfig is the shape of a config file on disk. Everything is optional.
type fileConfig struct {
	Layer       `mapstructure:",squash"`
	Concurrency *int         `mapstructure:"concurrency"`
	Images      *ImageConfig `mapstructure:"images"`
}

// Load reads a configuration file from configPath (YAML or TOML) and returns
// a Config with the defaults applied first and file values overlaid on top.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Determine format from extension.
	ext := strings.TrimPrefix(filepath.Ext(configPath), ".")
	switch ext {
	case "yaml", "yml":
		v.SetConfigType("yaml")
	case "toml":
		v.SetConfigType("toml")
	default:
		// Default to yaml if unrecognised.
		v.SetConfigType("yaml")
	}

	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := Merge(*Default(), fc.Layer)
	if fc.Concurrency != nil {
		cfg.Concurrency = *fc.Concurrency
	}
	if fc.Images != nil {
		if fc.Images.OutputDir != "" {
			cfg.Images.OutputDir = fc.Images.OutputDir
		}
		if fc.Images.URLPrefix != "" {
			cfg.Images.URLPrefix = fc.Images.URLPrefix
		}
		if fc.Images.CacheDir != "" {
			cfg.Images.CacheDir = fc.Images.CacheDir
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// elementNameRe matches tag names usable both in HTML and JSX, including
// member expressions such as Gallery.Img.
var elementNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.\-]*$`)

// Validate checks the Config for common errors.
// It returns a descriptive error if:
//   - ElementName is not a valid tag name
//   - MetadataAttribute is empty or contains whitespace
//   - Concurrency is negative
//   - the fluid or output layer cannot be decoded
func (c *Config) Validate() error {
	if !elementNameRe.MatchString(c.ElementName) {
		return fmt.Errorf("config: elementName %q is not a valid tag name", c.ElementName)
	}
	if strings.TrimSpace(c.MetadataAttribute) == "" || strings.ContainsAny(c.MetadataAttribute, " \t\n=<>\"'") {
		return fmt.Errorf("config: metadataAttribute %q is not a valid attribute name", c.MetadataAttribute)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("config: concurrency must not be negative (got %d)", c.Concurrency)
	}
	if _, err := c.FluidArgs(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.OutputFlags(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// WithOverrides applies CLI flag overrides to the config. Known keys are
// mapped to their corresponding fields; sizing and output keys go through
// Merge so they obey the same precedence rules as every other layer. The
// modified config is returned for convenient chaining.
func (c *Config) WithOverrides(overrides map[string]any) *Config {
	var layer Layer
	for key, val := range overrides {
		switch key {
		case "elementName":
			if s, ok := val.(string); ok {
				layer.ElementName = &s
			}
		case "metadataAttribute":
			if s, ok := val.(string); ok {
				layer.MetadataAttribute = &s
			}
		case "replaceMarkdownImageParent":
			if b, ok := val.(bool); ok {
				layer.ReplaceMarkdownImageParent = &b
			}
		case "concurrency":
			if n, ok := val.(int); ok {
				c.Concurrency = n
			}
		case "maxWidth", "quality", "toFormat":
			if layer.Fluid == nil {
				layer.Fluid = Values{}
			}
			layer.Fluid[key] = val
		case "base64", "withWebp", "limitPresentationSize":
			if b, ok := val.(bool); ok {
				if layer.Output == nil {
					layer.Output = Values{}
				}
				layer.Output[key] = b
			}
		case "outputDir":
			if s, ok := val.(string); ok {
				c.Images.OutputDir = s
			}
		case "urlPrefix":
			if s, ok := val.(string); ok {
				c.Images.URLPrefix = s
			}
		case "cacheDir":
			if s, ok := val.(string); ok {
				c.Images.CacheDir = s
			}
		}
	}
	*c = Merge(*c, layer)
	return c
}

// LayerFromMap builds a Layer from a loosely typed map such as document front
// matter. Only the keys a Layer knows about are read.
func LayerFromMap(m map[string]any) (Layer, error) {
	var l Layer
	if len(m) == 0 {
		return l, nil
	}
	if err := decode(m, &l); err != nil {
		return Layer{}, fmt.Errorf("decoding options: %w", err)
	}
	return l, nil
}
