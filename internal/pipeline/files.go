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
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/mlnoga/panostitch/internal/config"
	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/ops"
	"github.com/mlnoga/panostitch/internal/status"
)

// Expands file name patterns into the list of matching files, in pattern order
func GlobFiles(patterns []string, logWriter io.Writer) ([]string, error) {
	if len(patterns)<1 { return nil, errors.Wrap(status.ErrInvalidParameters, "no frames to process") }
	var files []string
	for _, pattern:=range patterns {
		matches, err:=filepath.Glob(pattern)
		if err!=nil { return nil, errors.Wrapf(status.ErrInvalidParameters, "pattern %s: %v", pattern, err) }
		files=append(files, matches...)
	}
	fmt.Fprintf(logWriter, "Found %d files:\n", len(files))
	for i, f:=range files {
		fmt.Fprintf(logWriter, "%d: %s\n", i, f)
	}
	if len(files)==0 { return nil, errors.Wrap(status.ErrInvalidParameters, "no files match") }
	return files, nil
}

// Loads camera frames concurrently. Frame IDs follow the file order
func LoadFrames(files []string, maxThreads int, logWriter io.Writer) ([]*frame.Image, error) {
	frames:=make([]*frame.Image, len(files))
	err:=ops.ParallelFor(len(files), maxThreads, func(i int) (err error) {
		frames[i], err=frame.NewImageFromFile(files[i], i, logWriter)
		return err
	})
	if err!=nil { return nil, err }
	return frames, nil
}

// Writes a panorama. A %d in the file name is replaced with the frame number
func SavePanorama(img *frame.Image, pattern string, frameNo int, gamma float32, quality int, logWriter io.Writer) error {
	fileName:=pattern
	if strings.Contains(fileName, "%d") {
		fileName=fmt.Sprintf(pattern, frameNo)
	}
	fmt.Fprintf(logWriter, "frame %d: writing %s to %s\n", frameNo, img.DimensionsToString(), fileName)
	return img.WriteFile(fileName, gamma, quality)
}

// Number of input files per frame set: one per camera, or a single tiled file if a grid is configured
func FilesPerSet(cfg *config.Config) int {
	if cfg.Grid.Rows*cfg.Grid.Cols>1 { return 1 }
	return len(cfg.Cameras)
}
