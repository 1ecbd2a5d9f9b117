package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/laneguard/internal/aggregate"
	"github.com/banshee-data/laneguard/internal/engine"
	"github.com/banshee-data/laneguard/internal/lanes"
	"github.com/banshee-data/laneguard/internal/timeutil"
	"github.com/banshee-data/laneguard/internal/tracking"
)

// DefaultConfigPath is the canonical defaults file for a camera deployment.
const DefaultConfigPath = "config/laneguard.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Time bases accepted by time_base.
const (
	TimeBaseSynthetic = "synthetic"
	TimeBaseClock     = "clock"
	TimeBaseFrameRate = "frame_rate"
)

// SyntheticLayout is the accepted layout for synthetic_start besides RFC 3339.
const SyntheticLayout = "2006-01-02 15:04:05"

// PointConfig is an image-space point.
type PointConfig struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

func (p PointConfig) point() lanes.Point { return lanes.Point{X: p.X, Y: p.Y} }

// ROIConfig is the region of interest rectangle.
type ROIConfig struct {
	Min PointConfig `json:"min" yaml:"min"`
	Max PointConfig `json:"max" yaml:"max"`
}

// BoundaryConfig is one lane divider, bottom endpoint first.
type BoundaryConfig struct {
	Bottom PointConfig `json:"bottom" yaml:"bottom"`
	Top    PointConfig `json:"top" yaml:"top"`
}

// SpanConfig overrides the vertical range used to interpolate boundaries.
type SpanConfig struct {
	Top    float64 `json:"top" yaml:"top"`
	Bottom float64 `json:"bottom" yaml:"bottom"`
}

// RunConfig describes one camera deployment and the processing options of
// a run. Every field is optional; Get* methods supply the defaults of the
// Olaya Road installation.
type RunConfig struct {
	// Geometry
	ROI        *ROIConfig       `json:"roi,omitempty" yaml:"roi,omitempty"`
	Boundaries []BoundaryConfig `json:"boundaries,omitempty" yaml:"boundaries,omitempty"`
	Span       *SpanConfig      `json:"span,omitempty" yaml:"span,omitempty"`

	// Location metadata
	StreetName *string  `json:"street_name,omitempty" yaml:"street_name,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	Timezone   *string  `json:"timezone,omitempty" yaml:"timezone,omitempty"` // IANA name, e.g. "Asia/Riyadh"

	// Time base
	TimeBase       *string  `json:"time_base,omitempty" yaml:"time_base,omitempty"`
	SyntheticStart *string  `json:"synthetic_start,omitempty" yaml:"synthetic_start,omitempty"`
	SyntheticStep  *string  `json:"synthetic_step,omitempty" yaml:"synthetic_step,omitempty"` // duration string like "2m"
	FPS            *float64 `json:"fps,omitempty" yaml:"fps,omitempty"`

	// Tracking and detection filtering
	IdentityTTL   *int     `json:"identity_ttl,omitempty" yaml:"identity_ttl,omitempty"` // frames, 0 = never evict
	MinConfidence *float64 `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty"`
	Classes       []string `json:"classes,omitempty" yaml:"classes,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Load reads a RunConfig from a .json, .yaml or .yml file of at most 1MB
// and validates it.
func Load(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &RunConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", strings.TrimPrefix(ext, "."), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory
// or a parent. Panics if the file cannot be found; intended for tests.
func MustLoadDefaultConfig() *RunConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks field ranges and that the geometry yields a usable layout.
func (c *RunConfig) Validate() error {
	if _, err := c.Layout(); err != nil {
		return err
	}

	if c.Latitude != nil && (math.IsNaN(*c.Latitude) || *c.Latitude < -90 || *c.Latitude > 90) {
		return fmt.Errorf("latitude must be between -90 and 90, got %f", *c.Latitude)
	}
	if c.Longitude != nil && (math.IsNaN(*c.Longitude) || *c.Longitude < -180 || *c.Longitude > 180) {
		return fmt.Errorf("longitude must be between -180 and 180, got %f", *c.Longitude)
	}
	if c.Timezone != nil && *c.Timezone != "" {
		if _, err := time.LoadLocation(*c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", *c.Timezone, err)
		}
	}

	switch c.GetTimeBase() {
	case TimeBaseSynthetic, TimeBaseClock:
	case TimeBaseFrameRate:
		if c.GetFPS() <= 0 {
			return fmt.Errorf("fps must be positive for time_base %q", TimeBaseFrameRate)
		}
	default:
		return fmt.Errorf("unknown time_base %q", c.GetTimeBase())
	}
	if c.SyntheticStart != nil && *c.SyntheticStart != "" {
		if _, err := parseStart(*c.SyntheticStart); err != nil {
			return fmt.Errorf("invalid synthetic_start '%s': %w", *c.SyntheticStart, err)
		}
	}
	if c.SyntheticStep != nil && *c.SyntheticStep != "" {
		d, err := time.ParseDuration(*c.SyntheticStep)
		if err != nil {
			return fmt.Errorf("invalid synthetic_step '%s': %w", *c.SyntheticStep, err)
		}
		if d <= 0 {
			return fmt.Errorf("synthetic_step must be positive, got %s", d)
		}
	}

	if c.IdentityTTL != nil && *c.IdentityTTL < 0 {
		return fmt.Errorf("identity_ttl must be non-negative, got %d", *c.IdentityTTL)
	}
	if c.MinConfidence != nil && (*c.MinConfidence < 0 || *c.MinConfidence > 1) {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %f", *c.MinConfidence)
	}
	return nil
}

func parseStart(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(SyntheticLayout, s)
}

// GetROI returns the ROI or the deployment default (250,200)-(1670,1000).
func (c *RunConfig) GetROI() lanes.ROI {
	if c.ROI == nil {
		return lanes.ROI{Min: lanes.Point{X: 250, Y: 200}, Max: lanes.Point{X: 1670, Y: 1000}}
	}
	return lanes.ROI{Min: c.ROI.Min.point(), Max: c.ROI.Max.point()}
}

// GetBoundaries returns the lane dividers. A nil list selects the four
// Olaya Road dividers; an explicit empty list means a single lane.
func (c *RunConfig) GetBoundaries() []lanes.Boundary {
	if c.Boundaries == nil {
		return []lanes.Boundary{
			{Bottom: lanes.Point{X: 370, Y: 1000}, Top: lanes.Point{X: 860, Y: 250}},
			{Bottom: lanes.Point{X: 697, Y: 1000}, Top: lanes.Point{X: 955, Y: 250}},
			{Bottom: lanes.Point{X: 1050, Y: 1000}, Top: lanes.Point{X: 1050, Y: 250}},
			{Bottom: lanes.Point{X: 1415, Y: 1000}, Top: lanes.Point{X: 1140, Y: 250}},
		}
	}
	out := make([]lanes.Boundary, len(c.Boundaries))
	for i, b := range c.Boundaries {
		out[i] = lanes.Boundary{Bottom: b.Bottom.point(), Top: b.Top.point()}
	}
	return out
}

// Layout builds the lane layout. Without a span override boundaries are
// interpolated over the ROI's vertical extent.
func (c *RunConfig) Layout() (*lanes.Layout, error) {
	if c.Span == nil {
		return lanes.NewLayout(c.GetROI(), c.GetBoundaries())
	}
	return lanes.NewLayoutWithSpan(c.GetROI(), c.GetBoundaries(), lanes.Span{Top: c.Span.Top, Bottom: c.Span.Bottom})
}

// GetStreetName returns the street name or "Olaya Road".
func (c *RunConfig) GetStreetName() string {
	if c.StreetName == nil {
		return "Olaya Road"
	}
	return *c.StreetName
}

// GetLatitude returns the latitude or the default.
func (c *RunConfig) GetLatitude() float64 {
	if c.Latitude == nil {
		return 24.7136
	}
	return *c.Latitude
}

// GetLongitude returns the longitude or the default.
func (c *RunConfig) GetLongitude() float64 {
	if c.Longitude == nil {
		return 46.6753
	}
	return *c.Longitude
}

// GetTimezone returns the configured location, or nil to keep timestamps in
// the time base's own zone.
func (c *RunConfig) GetTimezone() *time.Location {
	if c.Timezone == nil || *c.Timezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(*c.Timezone)
	if err != nil {
		return nil
	}
	return loc
}

// Location returns the record metadata.
func (c *RunConfig) Location() aggregate.Location {
	return aggregate.Location{
		StreetName: c.GetStreetName(),
		Latitude:   c.GetLatitude(),
		Longitude:  c.GetLongitude(),
		TZ:         c.GetTimezone(),
	}
}

// GetTimeBase returns time_base or "synthetic".
func (c *RunConfig) GetTimeBase() string {
	if c.TimeBase == nil || *c.TimeBase == "" {
		return TimeBaseSynthetic
	}
	return *c.TimeBase
}

// GetSyntheticStart returns the synthetic start or 2023-01-01 08:00 UTC.
func (c *RunConfig) GetSyntheticStart() time.Time {
	def := aggregate.DefaultSynthetic().Start
	if c.SyntheticStart == nil || *c.SyntheticStart == "" {
		return def
	}
	t, err := parseStart(*c.SyntheticStart)
	if err != nil {
		return def
	}
	return t
}

// GetSyntheticStep returns the synthetic step or two minutes.
func (c *RunConfig) GetSyntheticStep() time.Duration {
	def := aggregate.DefaultSynthetic().Step
	if c.SyntheticStep == nil || *c.SyntheticStep == "" {
		return def
	}
	d, err := time.ParseDuration(*c.SyntheticStep)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetFPS returns the source frame rate or 30.
func (c *RunConfig) GetFPS() float64 {
	if c.FPS == nil {
		return 30
	}
	return *c.FPS
}

// Timestamper returns the time base for records. clock may be nil.
func (c *RunConfig) Timestamper(clock timeutil.Clock) aggregate.Timestamper {
	switch c.GetTimeBase() {
	case TimeBaseClock:
		return aggregate.ClockTimestamper{Clock: clock}
	case TimeBaseFrameRate:
		start := c.GetSyntheticStart()
		if c.SyntheticStart == nil && clock != nil {
			start = clock.Now()
		}
		return aggregate.FrameRate{Start: start, FPS: c.GetFPS()}
	default:
		return aggregate.Synthetic{Start: c.GetSyntheticStart(), Step: c.GetSyntheticStep()}
	}
}

// GetIdentityTTL returns identity_ttl or 0.
func (c *RunConfig) GetIdentityTTL() int {
	if c.IdentityTTL == nil {
		return 0
	}
	return *c.IdentityTTL
}

// GetMinConfidence returns min_confidence or 0.
func (c *RunConfig) GetMinConfidence() float64 {
	if c.MinConfidence == nil {
		return 0
	}
	return *c.MinConfidence
}

// EngineConfig assembles the session configuration.
func (c *RunConfig) EngineConfig(clock timeutil.Clock) (engine.Config, error) {
	layout, err := c.Layout()
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Layout:        layout,
		Tracker:       tracking.TrackerConfig{IdentityTTL: c.GetIdentityTTL()},
		Location:      c.Location(),
		Timestamper:   c.Timestamper(clock),
		MinConfidence: c.GetMinConfidence(),
		Classes:       append([]string(nil), c.Classes...),
	}, nil
}

// Resolved returns a copy with every field set to its effective value, as
// stored alongside a run and served by the API.
func (c *RunConfig) Resolved() *RunConfig {
	roi := c.GetROI()
	out := &RunConfig{
		ROI:            &ROIConfig{Min: PointConfig{roi.Min.X, roi.Min.Y}, Max: PointConfig{roi.Max.X, roi.Max.Y}},
		StreetName:     ptrString(c.GetStreetName()),
		Latitude:       ptrFloat64(c.GetLatitude()),
		Longitude:      ptrFloat64(c.GetLongitude()),
		TimeBase:       ptrString(c.GetTimeBase()),
		SyntheticStart: ptrString(c.GetSyntheticStart().Format(time.RFC3339)),
		SyntheticStep:  ptrString(c.GetSyntheticStep().String()),
		FPS:            ptrFloat64(c.GetFPS()),
		IdentityTTL:    ptrInt(c.GetIdentityTTL()),
		MinConfidence:  ptrFloat64(c.GetMinConfidence()),
		Classes:        append([]string(nil), c.Classes...),
	}
	out.Boundaries = []BoundaryConfig{}
	for _, b := range c.GetBoundaries() {
		out.Boundaries = append(out.Boundaries, BoundaryConfig{
			Bottom: PointConfig{b.Bottom.X, b.Bottom.Y},
			Top:    PointConfig{b.Top.X, b.Top.Y},
		})
	}
	if c.Span != nil {
		sp := *c.Span
		out.Span = &sp
	}
	if c.Timezone != nil {
		out.Timezone = ptrString(*c.Timezone)
	}
	return out
}

// JSON returns the resolved configuration as indented JSON.
func (c *RunConfig) JSON() ([]byte, error) {
	return json.MarshalIndent(c.Resolved(), "", "  ")
}
