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



package pipeline

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/status"
)

func TestGlobAndLoadFrames(t *testing.T) {
	dir:=t.TempDir()
	for i, v:=range []float32{0.25, 0.75} {
		img:=frame.NewFilledImage(8, 4, 3, v)
		require.NoError(t, img.WritePNGToFile(filepath.Join(dir, []string{"cam0.png", "cam1.png"}[i]), 0, 1, 1))
	}

	files, err:=GlobFiles([]string{filepath.Join(dir, "cam*.png")}, ioutil.Discard)
	require.NoError(t, err)
	require.Len(t, files, 2)

	frames, err:=LoadFrames(files, 2, ioutil.Discard)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	for i, want:=range []float32{0.25, 0.75} {
		assert.Equal(t, i, frames[i].ID)
		assert.NoError(t, frames[i].Check(8, 4, 3))
		assert.InDelta(t, want, frames[i].Data[0], 1.0/255)
	}
}

func TestGlobFilesErrors(t *testing.T) {
	_, err:=GlobFiles(nil, ioutil.Discard)
	assert.True(t, errors.Is(err, status.ErrInvalidParameters))

	_, err=GlobFiles([]string{filepath.Join(t.TempDir(), "*.png")}, ioutil.Discard)
	assert.True(t, errors.Is(err, status.ErrInvalidParameters))

	_, err=GlobFiles([]string{"[malformed"}, ioutil.Discard)
	assert.True(t, errors.Is(err, status.ErrInvalidParameters))
}

func TestLoadFramesMissingFile(t *testing.T) {
	_, err:=LoadFrames([]string{filepath.Join(t.TempDir(), "missing.png")}, 1, ioutil.Discard)
	assert.Error(t, err)
}

func TestSavePanoramaFrameNumber(t *testing.T) {
	dir:=t.TempDir()
	img:=frame.NewFilledImage(8, 4, 3, 0.5)
	require.NoError(t, SavePanorama(img, filepath.Join(dir, "pano%d.png"), 7, 1, 95, ioutil.Discard))
	_, err:=os.Stat(filepath.Join(dir, "pano7.png"))
	assert.NoError(t, err)

	err=SavePanorama(img, filepath.Join(dir, "pano.xyz"), 0, 1, 95, ioutil.Discard)
	assert.True(t, errors.Is(err, status.ErrNotSupported))
}

func TestFilesPerSet(t *testing.T) {
	cfg:=testConfig(t, "")
	assert.Equal(t, 2, FilesPerSet(cfg))
	cfg=testConfig(t, "grid:\n  rows: 1\n  cols: 2\n")
	assert.Equal(t, 1, FilesPerSet(cfg))
}
