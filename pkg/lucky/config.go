package lucky

import (
	"fmt"
	"os"
	"runtime"
	"slices"

	"gopkg.in/yaml.v2"
)

/* Example config file ...

outputwidth: 640
outputheight: 480
upsample: 1.5
localalign: true
apsize: 64
placement: uniform
globalminresponse: 0.35
percentages: [10, 25, 50]
formats: [tif, hdr]
outputdir: ./stacked

*/

type Config struct {
	Verbosity int

	OutputWidth  int     // 0 means use the frame size
	OutputHeight int     //
	Upsample     float64 // "drizzle" factor, >= 1.0

	LocalAlign bool   // if false, global alignment only
	APSize     int    // side of an alignment point, in native pixels
	Placement  string // "uniform" or "features"

	GlobalMinResponse float64 // weaker global shifts are treated as zero
	LocalMinResponse  float64 // same, for alignment points

	Weighting   string // "quality" or "uniform"
	Percentages []int  // one stack per entry: the best N% of frames

	NumWorkers int // 0 means NumCPU-2
	BlockSize  int // frames decoded per block, for sequential (video) sources

	OutputDir  string
	Formats    []string // any of tif, hdr, png
	Tonemapper string   // used to render png previews
}

func NewConfig() Config {
	return Config{
		Upsample:          1.0,
		APSize:            64,
		Placement:         Uniform.String(),
		GlobalMinResponse: 0.35,
		LocalMinResponse:  0.0,
		Weighting:         "quality",
		Percentages:       []int{25},
		BlockSize:         32,
		OutputDir:         ".",
		Formats:           []string{"tif"},
		Tonemapper:        "linear",
	}
}

func NewConfigFromYaml(b []byte) (Config, error) {
	c := NewConfig()
	err := c.UpdateFromYaml(b)
	return c, err
}

func LoadConfig(filename string) (Config, error) {
	c := NewConfig()
	err := c.UpdateFromFile(filename)
	return c, err
}

// UpdateFromYaml overwrites just the fields the yaml mentions, so
// config files can be layered on top of each other.
func (c *Config) UpdateFromYaml(b []byte) error {
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config: %v", err)
	}
	return c.Finalize()
}

func (c *Config) UpdateFromFile(filename string) error {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("config read %s: %v", filename, err)
	}
	return c.UpdateFromYaml(contents)
}

func (c Config) AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("# can't marshal config yaml: %v\n", err)
	}
	return string(b)
}

// Finalize does sanity checks and fills in derived values.
func (c *Config) Finalize() error {
	if c.Upsample == 0 {
		c.Upsample = 1.0
	}
	if c.Upsample < 1.0 {
		return fmt.Errorf("upsample %.2f < 1.0: %w", c.Upsample, ErrBadConfig)
	}
	if c.APSize <= 0 {
		return fmt.Errorf("apsize %d <= 0: %w", c.APSize, ErrBadConfig)
	}
	if _, err := ParsePlacement(c.Placement); err != nil {
		return err
	}
	if c.OutputWidth < 0 || c.OutputHeight < 0 {
		return fmt.Errorf("output size %dx%d: %w", c.OutputWidth, c.OutputHeight, ErrBadConfig)
	}

	switch c.Weighting {
	case "":
		c.Weighting = "quality"
	case "quality", "uniform":
	default:
		return fmt.Errorf("no weighting named '%s': %w", c.Weighting, ErrBadConfig)
	}

	if len(c.Percentages) == 0 {
		c.Percentages = []int{25}
	}
	for _, p := range c.Percentages {
		if p < 1 || p > 100 {
			return fmt.Errorf("percentage %d not in [1,100]: %w", p, ErrBadConfig)
		}
	}

	if len(c.Formats) == 0 {
		c.Formats = []string{"tif"}
	}
	for _, f := range c.Formats {
		switch f {
		case "tif", "hdr", "png":
		default:
			return fmt.Errorf("no output format '%s': %w", f, ErrBadConfig)
		}
	}

	if c.Tonemapper == "" {
		c.Tonemapper = "linear"
	}
	if !slices.Contains(Tonemappers, c.Tonemapper) {
		return fmt.Errorf("tonemapper '%s' not one of %s: %w", c.Tonemapper, ListTonemappers(), ErrBadConfig)
	}

	if c.BlockSize <= 0 {
		c.BlockSize = 32
	}
	if c.NumWorkers < 0 {
		c.NumWorkers = 0
	}
	return nil
}

// Workers is the size of the worker pool: all the cores bar two (one
// for the caller, one for frame decoding), and at least one.
func (c Config) Workers() int {
	if c.NumWorkers > 0 {
		return c.NumWorkers
	}
	if n := runtime.NumCPU() - 2; n > 1 {
		return n
	}
	return 1
}

func (c Config) GetPlacement() Placement {
	p, _ := ParsePlacement(c.Placement)
	return p
}

// EngineConfig builds the per-run stacker config; the alignment points
// get filled in once the reference is known.
func (c Config) EngineConfig() EngineConfig {
	return EngineConfig{
		OutputWidth:       c.OutputWidth,
		OutputHeight:      c.OutputHeight,
		Upsample:          c.Upsample,
		GlobalMinResponse: c.GlobalMinResponse,
		LocalMinResponse:  c.LocalMinResponse,
	}
}
