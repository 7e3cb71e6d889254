// Package config resolves a RunConfig record the way the teacher's
// internal/config package resolves an OsnapBaseConfig: a YAML file decoded
// with strict known-fields checking, validated, and defaulted. Per spec.md
// §1 the CLI argument parser itself is an external collaborator — this
// package only produces the fully-resolved record the runner consumes.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/corestories/storyrunner/internal/model"
	"gopkg.in/yaml.v3"
)

// ViewportRef decodes either a bare name ("desktop") or an inline
// {width,height[,name]} object, mirroring the flexible-union decoding the
// teacher's Sizes type uses for per-story viewport declarations.
type ViewportRef struct {
	Name   string
	Width  int
	Height int
	isSize bool
}

func (v *ViewportRef) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err == nil && name != "" {
		v.Name = name
		return nil
	}

	var sz model.Viewport
	if err := value.Decode(&sz); err == nil && (sz.Width != 0 || sz.Height != 0) {
		v.Width, v.Height, v.Name, v.isSize = sz.Width, sz.Height, sz.Name, true
		return nil
	}

	return fmt.Errorf("unsupported viewport format: expected a name string or {width,height}")
}

// PerStoryOverride is the `perStory[id]` entry of spec.md §3.
type PerStoryOverride struct {
	Viewport *ViewportRef `yaml:"viewport,omitempty"`
}

// FixDate decodes the three accepted shapes from spec.md §4.4: bare bool,
// ISO-8601 string, or numeric timestamp (seconds below the year-2000
// threshold, otherwise milliseconds).
type FixDate struct {
	Enabled bool
	Time    time.Time
}

const year2000UnixMillis = 946684800000

func (f *FixDate) UnmarshalYAML(value *yaml.Node) error {
	var asBool bool
	if err := value.Decode(&asBool); err == nil {
		f.Enabled = asBool
		if asBool {
			f.Time = DefaultFixedClock()
		}
		return nil
	}

	// Numbers are tried before strings: yaml.v3 also decodes a numeric
	// scalar into a string, which would send it to the ISO-8601 parser.
	var asNumber float64
	if err := value.Decode(&asNumber); err == nil {
		f.Enabled = true
		f.Time = timestampFromHeuristic(asNumber)
		return nil
	}

	var asString string
	if err := value.Decode(&asString); err == nil {
		t, err := time.Parse(time.RFC3339, asString)
		if err != nil {
			return fmt.Errorf("invalid fixDate ISO-8601 string %q: %w", asString, err)
		}
		f.Enabled = true
		f.Time = t
		return nil
	}

	return fmt.Errorf("unsupported fixDate format: expected bool, ISO-8601 string, or number")
}

// timestampFromHeuristic applies spec.md §4.4's heuristic: values below the
// year-2000 threshold are seconds, otherwise milliseconds.
func timestampFromHeuristic(v float64) time.Time {
	if v < year2000UnixMillis/1000 {
		return time.UnixMilli(int64(v * 1000)).UTC()
	}
	return time.UnixMilli(int64(v)).UTC()
}

// DefaultFixedClock is the default pinned timestamp T0 from spec.md §4.4.
func DefaultFixedClock() time.Time {
	t, _ := time.Parse(time.RFC3339, "2024-02-02T10:00:00Z")
	return t.UTC()
}

// RunConfig is the fully-resolved, immutable-during-a-run record of
// spec.md §3.
type RunConfig struct {
	URL               string                      `yaml:"url"`
	SnapshotPath      string                      `yaml:"snapshotPath"`
	ResultsPath       string                      `yaml:"resultsPath"`
	Threshold         float64                     `yaml:"threshold"`
	FullPage          bool                        `yaml:"fullPage"`
	Update            bool                        `yaml:"update"`
	Clean             bool                        `yaml:"clean"`
	MissingOnly       bool                        `yaml:"missingOnly"`
	FailedOnly        bool                        `yaml:"failedOnly"`
	Include           []string                    `yaml:"include"`
	Exclude           []string                    `yaml:"exclude"`
	Grep              string                      `yaml:"grep"`
	Retries           int                         `yaml:"retries"`
	MaxFailures       *int                        `yaml:"maxFailures,omitempty"`
	Workers           *int                        `yaml:"workers,omitempty"`
	TestTimeoutMs     int                         `yaml:"testTimeout"`
	StoryLoadDelayMs  int                          `yaml:"storyLoadDelay"`
	DisableAnimations bool                        `yaml:"disableAnimations"`
	FixDate           FixDate                     `yaml:"fixDate"`
	ViewportSizes     []model.Viewport            `yaml:"viewportSizes"`
	DefaultViewport   string                      `yaml:"defaultViewport"`
	LogLevel          string                      `yaml:"logLevel"`
	Quiet             bool                        `yaml:"quiet"`
	ShowProgress      bool                        `yaml:"showProgress"`
	Summary           bool                        `yaml:"summary"`
	PerStory          map[string]PerStoryOverride `yaml:"perStory"`
	ChromeArgs        []string                    `yaml:"chromeArgs"`
	BrowserInstances  int                          `yaml:"browserInstances"`
}

// TestTimeout returns the configured capture timeout, defaulted to 60s per
// spec.md §4.6 when unset.
func (c *RunConfig) TestTimeout() time.Duration {
	if c.TestTimeoutMs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TestTimeoutMs) * time.Millisecond
}

// StoryLoadDelay returns the configured post-settle fixed delay.
func (c *RunConfig) StoryLoadDelay() time.Duration {
	return time.Duration(c.StoryLoadDelayMs) * time.Millisecond
}

func ensureEOF(dec *yaml.Decoder) error {
	var dummy any
	if err := dec.Decode(&dummy); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return fmt.Errorf("expected EOF, but found extra data")
}

// Load reads and validates a RunConfig from a YAML file at path, the way
// the teacher's NewOsnapBaseConfig reads osnap.config.yaml.
func Load(path string) (*RunConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	cfg := &RunConfig{}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decoding config file %q: %w", path, err)
		}
	} else if err := ensureEOF(dec); err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *RunConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if len(cfg.ViewportSizes) == 0 {
		cfg.ViewportSizes = []model.Viewport{{Name: "desktop", Width: 1280, Height: 800}}
	}
	if cfg.DefaultViewport == "" {
		cfg.DefaultViewport = cfg.ViewportSizes[0].Name
	}
	if cfg.BrowserInstances <= 0 {
		cfg.BrowserInstances = 4
	}
}

func validate(cfg *RunConfig) error {
	if cfg.URL == "" {
		return errors.New("url must be specified")
	}
	if cfg.SnapshotPath == "" {
		return errors.New("snapshotPath must be specified")
	}
	if cfg.ResultsPath == "" {
		return errors.New("resultsPath must be specified")
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %v", cfg.Threshold)
	}
	if cfg.Retries < 0 {
		return fmt.Errorf("retries must be non-negative, got %d", cfg.Retries)
	}
	if cfg.MaxFailures != nil && *cfg.MaxFailures < 1 {
		return fmt.Errorf("maxFailures must be >= 1 when set, got %d", *cfg.MaxFailures)
	}
	if cfg.Workers != nil && *cfg.Workers < 1 {
		return fmt.Errorf("workers must be >= 1 when set, got %d", *cfg.Workers)
	}
	for i, v := range cfg.ViewportSizes {
		if v.Width <= 0 || v.Height <= 0 {
			return fmt.Errorf("invalid viewport size at index %d: width and height must be positive", i)
		}
	}
	return nil
}

// ResolvePerStoryViewport returns the perStory viewport override for
// storyID: an inline size is returned as given, a bare name is looked up in
// ViewportSizes. It returns nil when there is no override or the name
// matches no registered size.
func (c *RunConfig) ResolvePerStoryViewport(storyID string) *model.Viewport {
	ov, ok := c.PerStory[storyID]
	if !ok || ov.Viewport == nil {
		return nil
	}
	if ov.Viewport.isSize {
		return &model.Viewport{Name: ov.Viewport.Name, Width: ov.Viewport.Width, Height: ov.Viewport.Height}
	}
	for _, v := range c.ViewportSizes {
		if v.Name == ov.Viewport.Name {
			vv := v
			return &vv
		}
	}
	return nil
}

// ParseNumericEnv returns the integer value of the environment variable
// name, or fallback when it is unset or not an integer.
func ParseNumericEnv(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
