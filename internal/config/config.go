// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


// Package config holds the rig calibration and the stitching options,
// loaded from a YAML file and overridden from the command line.
package config

import (
	"fmt"
	"io/ioutil"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/mlnoga/panostitch/internal/status"
)

/* Example config file ...

rig:
  yaw: 0
  pitch: 0
  roll: 0

grid:
  rows: 1
  cols: 2

cameras:
  - name: left
    lens: rectilinear
    hfov: 100
    yaw: -45
    width: 1280
    height: 720
  - name: right
    lens: rectilinear
    hfov: 100
    yaw: 45
    width: 1280
    height: 720

options:
  outputwidth: 4096
  blend: multiband
  blendlevels: 5

*/

// Orientation of the whole rig, in degrees, or as explicit row-major 3x3 matrix
type Rig struct {
	Yaw    float64   `yaml:"yaw"`
	Pitch  float64   `yaml:"pitch"`
	Roll   float64   `yaml:"roll"`
	Matrix []float64 `yaml:"matrix,omitempty"`
}

// Tiling of several cameras into one source buffer
type Grid struct {
	Rows int `yaml:"rows"`
	Cols int `yaml:"cols"`
}

// Precomputed intrinsics and extrinsics of one camera
type Camera struct {
	Name   string    `yaml:"name"`
	Lens   string    `yaml:"lens"`   // rectilinear or fisheye
	HFOV   float64   `yaml:"hfov"`   // Horizontal field of view in degrees
	K1     float64   `yaml:"k1"`     // Radial distortion coefficients
	K2     float64   `yaml:"k2"`
	K3     float64   `yaml:"k3"`
	CX     float64   `yaml:"cx"`     // Principal point offset from the image center, in pixels
	CY     float64   `yaml:"cy"`
	Yaw    float64   `yaml:"yaw"`
	Pitch  float64   `yaml:"pitch"`
	Roll   float64   `yaml:"roll"`
	Width  int       `yaml:"width"`
	Height int       `yaml:"height"`
	Crop   []int     `yaml:"crop,omitempty"`   // Optional x0,y0,x1,y1 valid source area
	Format string    `yaml:"format,omitempty"` // Raw pixel format, for headerless input buffers
	Gain   float32   `yaml:"gain,omitempty"`   // Manual exposure gain
}

// Stitching options
type Options struct {
	OutputWidth      int     `yaml:"outputwidth"`      // Panorama width. Height is half of it
	WarpMethod       string  `yaml:"warpmethod"`       // bilinear or nearest
	LumaMode         string  `yaml:"lumamode"`         // rec709 or lab
	ExpCompMode      string  `yaml:"expcompmode"`      // off, gain, rgb or manual
	ExpCompEvery     int     `yaml:"expcompevery"`     // Solve gains every n frames
	GainAlpha        float64 `yaml:"gainalpha"`        // Penalty for gain deviation from unity
	GainBeta         float64 `yaml:"gainbeta"`         // Weight of overlap consistency
	SceneThreshold   float64 `yaml:"scenethreshold"`   // Block luma difference above which seams are recomputed
	ScenePercentile  float64 `yaml:"scenepercentile"`  // Percentile over block differences, 50 is the median
	SeamRefreshEvery int     `yaml:"seamrefreshevery"` // Force a re-seam every n frames, 0 disables
	SeamSmoothWidth  int     `yaml:"seamsmoothwidth"`  // Width of the linear transition band around seams, 0 is a hard cut
	SeamMedian       bool    `yaml:"seammedian"`       // Apply a 3x3 median to luma before seam cost generation
	Blend            string  `yaml:"blend"`            // multiband or merge
	BlendLevels      int     `yaml:"blendlevels"`      // Number of pyramid levels
	MaxThreads       int     `yaml:"maxthreads"`       // Limit on concurrently running stages
	MemoryMB         int     `yaml:"memorymb"`         // Memory budget for pyramid storage
	Overlay          string  `yaml:"overlay,omitempty"`     // Optional RGBA PNG composited over the panorama
	SeamOverlay      string  `yaml:"seamoverlay,omitempty"` // Optional PNG file to render seams into
}

// Complete stitching configuration
type Config struct {
	Rig     Rig      `yaml:"rig"`
	Grid    Grid     `yaml:"grid"`
	Cameras []Camera `yaml:"cameras"`
	Options Options  `yaml:"options"`
}

// Returns the default options
func DefaultOptions() Options {
	return Options{
		OutputWidth:      2048,
		WarpMethod:       "bilinear",
		LumaMode:         "rec709",
		ExpCompMode:      "gain",
		ExpCompEvery:     1,
		GainAlpha:        100,
		GainBeta:         0.01,
		SceneThreshold:   0.04,
		ScenePercentile:  50,
		SeamRefreshEvery: 0,
		SeamSmoothWidth:  8,
		SeamMedian:       false,
		Blend:            "multiband",
		BlendLevels:      4,
		MaxThreads:       runtime.NumCPU(),
		MemoryMB:         0,
	}
}

// Returns a configuration with default options and no cameras
func Defaults() *Config {
	return &Config{
		Grid:    Grid{Rows: 1, Cols: 1},
		Options: DefaultOptions(),
	}
}

// Parses a configuration from YAML. Unset options keep their defaults
func Parse(b []byte) (*Config, error) {
	c := Defaults()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, errors.Wrapf(status.ErrInvalidParameters, "parsing config: %v", err)
	}
	return c, nil
}

// Loads and validates a configuration from the given YAML file
func Load(fileName string) (*Config, error) {
	b, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", fileName)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", fileName)
	}
	return c, c.Validate()
}

// Returns the configuration as YAML
func (c *Config) AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("# cannot marshal config: %v\n", err)
	}
	return string(b)
}

func invalid(option string, format string, args ...interface{}) error {
	return errors.Wrapf(status.ErrInvalidParameters, "option %s: %s", option, fmt.Sprintf(format, args...))
}

// Validates the configuration. Returns an error wrapping status.ErrInvalidParameters naming the first offending option
func (c *Config) Validate() error {
	if len(c.Cameras) == 0 {
		return invalid("cameras", "at least one camera required")
	}
	if len(c.Cameras) > 254 {
		return invalid("cameras", "at most 254 cameras supported, have %d", len(c.Cameras))
	}
	if c.Grid.Rows < 1 || c.Grid.Cols < 1 {
		return invalid("grid", "rows and cols must be positive, have %dx%d", c.Grid.Rows, c.Grid.Cols)
	}
	if c.Grid.Rows*c.Grid.Cols > 1 && c.Grid.Rows*c.Grid.Cols != len(c.Cameras) {
		return invalid("grid", "%dx%d tiles do not match %d cameras", c.Grid.Rows, c.Grid.Cols, len(c.Cameras))
	}
	for i, cam := range c.Cameras {
		if cam.Crop != nil && len(cam.Crop) != 4 {
			return invalid("crop", "camera %d needs four crop values, have %d", i, len(cam.Crop))
		}
	}
	return c.Options.Validate()
}

// Validates the options
func (o *Options) Validate() error {
	if o.OutputWidth < 2 || o.OutputWidth%2 != 0 {
		return invalid("outputwidth", "must be even and positive, have %d", o.OutputWidth)
	}
	switch o.WarpMethod {
	case "bilinear", "nearest":
	default:
		return invalid("warpmethod", "unknown method %q", o.WarpMethod)
	}
	switch o.LumaMode {
	case "rec709", "lab":
	default:
		return invalid("lumamode", "unknown mode %q", o.LumaMode)
	}
	switch o.ExpCompMode {
	case "off", "gain", "rgb", "manual":
	default:
		return invalid("expcompmode", "unknown mode %q", o.ExpCompMode)
	}
	if o.ExpCompEvery < 1 {
		return invalid("expcompevery", "must be at least 1, have %d", o.ExpCompEvery)
	}
	if o.GainAlpha <= 0 {
		return invalid("gainalpha", "must be positive, have %g", o.GainAlpha)
	}
	if o.GainBeta < 0 {
		return invalid("gainbeta", "must not be negative, have %g", o.GainBeta)
	}
	if o.SceneThreshold < 0 {
		return invalid("scenethreshold", "must not be negative, have %g", o.SceneThreshold)
	}
	if o.ScenePercentile <= 0 || o.ScenePercentile > 100 {
		return invalid("scenepercentile", "must be in (0,100], have %g", o.ScenePercentile)
	}
	if o.SeamRefreshEvery < 0 {
		return invalid("seamrefreshevery", "must not be negative, have %d", o.SeamRefreshEvery)
	}
	if o.SeamSmoothWidth < 0 {
		return invalid("seamsmoothwidth", "must not be negative, have %d", o.SeamSmoothWidth)
	}
	switch o.Blend {
	case "multiband", "merge":
	default:
		return invalid("blend", "unknown blender %q", o.Blend)
	}
	if o.BlendLevels < 1 || o.BlendLevels > 16 {
		return invalid("blendlevels", "must be in [1,16], have %d", o.BlendLevels)
	}
	if o.MaxThreads < 1 {
		return invalid("maxthreads", "must be at least 1, have %d", o.MaxThreads)
	}
	if o.MemoryMB < 0 {
		return invalid("memorymb", "must not be negative, have %d", o.MemoryMB)
	}
	return nil
}
