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


package config

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/panostitch/internal/status"
)

const twoCameras = `
rig:
  yaw: 10
cameras:
  - name: left
    lens: rectilinear
    hfov: 100
    yaw: -45
    width: 640
    height: 480
  - name: right
    lens: fisheye
    hfov: 180
    yaw: 45
    width: 640
    height: 480
    crop: [10, 10, 630, 470]
options:
  outputwidth: 1024
  blendlevels: 3
`

func TestParseKeepsDefaults(t *testing.T) {
	c, err := Parse([]byte(twoCameras))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, 10.0, c.Rig.Yaw)
	require.Len(t, c.Cameras, 2)
	assert.Equal(t, "fisheye", c.Cameras[1].Lens)
	assert.Equal(t, []int{10, 10, 630, 470}, c.Cameras[1].Crop)
	assert.Equal(t, 1024, c.Options.OutputWidth)
	assert.Equal(t, 3, c.Options.BlendLevels)

	def := DefaultOptions()
	assert.Equal(t, def.WarpMethod, c.Options.WarpMethod)
	assert.Equal(t, def.GainAlpha, c.Options.GainAlpha)
	assert.Equal(t, def.ScenePercentile, c.Options.ScenePercentile)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("cameras: [[[\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrInvalidParameters))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		valid  bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"no cameras", func(c *Config) { c.Cameras = nil }, false},
		{"odd width", func(c *Config) { c.Options.OutputWidth = 1023 }, false},
		{"warp method", func(c *Config) { c.Options.WarpMethod = "bicubic" }, false},
		{"luma mode", func(c *Config) { c.Options.LumaMode = "lab" }, true},
		{"expcomp mode", func(c *Config) { c.Options.ExpCompMode = "histogram" }, false},
		{"expcomp every", func(c *Config) { c.Options.ExpCompEvery = 0 }, false},
		{"alpha", func(c *Config) { c.Options.GainAlpha = 0 }, false},
		{"percentile", func(c *Config) { c.Options.ScenePercentile = 101 }, false},
		{"blend", func(c *Config) { c.Options.Blend = "feather" }, false},
		{"merge", func(c *Config) { c.Options.Blend = "merge" }, true},
		{"levels", func(c *Config) { c.Options.BlendLevels = 0 }, false},
		{"threads", func(c *Config) { c.Options.MaxThreads = 0 }, false},
		{"grid", func(c *Config) { c.Grid = Grid{Rows: 1, Cols: 3} }, false},
		{"grid match", func(c *Config) { c.Grid = Grid{Rows: 1, Cols: 2} }, true},
		{"crop", func(c *Config) { c.Cameras[0].Crop = []int{1, 2} }, false},
	}
	for _, test := range tests {
		c, err := Parse([]byte(twoCameras))
		require.NoError(t, err)
		test.mutate(c)
		err = c.Validate()
		if test.valid {
			assert.NoError(t, err, test.name)
		} else {
			assert.True(t, errors.Is(err, status.ErrInvalidParameters), "%s: got %v", test.name, err)
		}
	}
}

func TestAsYamlRoundTrip(t *testing.T) {
	c, err := Parse([]byte(twoCameras))
	require.NoError(t, err)
	c2, err := Parse([]byte(c.AsYaml()))
	require.NoError(t, err)
	assert.Equal(t, c, c2)
}
