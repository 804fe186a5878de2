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

// Package status holds the error taxonomy shared by all stitching stages.
// Call sites wrap these sentinels with github.com/pkg/errors, callers test with errors.Is.
package status

import (
	"github.com/pkg/errors"
)

var (
	// Rig or camera parameters are degenerate. Fatal, the pipeline cannot be built
	ErrInvalidCalibration = errors.New("invalid calibration")

	// A stage received a malformed or missing buffer, or a configuration option is out of range
	ErrInvalidParameters = errors.New("invalid parameters")

	// Requested stage or pixel format is unknown
	ErrNotSupported = errors.New("not supported")

	// Resource exhaustion. Propagated, never retried
	ErrNoMemory = errors.New("no memory")

	// Numeric solve did not converge. Recoverable, callers fall back to defaults
	ErrNotConverged = errors.New("not converged")

	// A frame cycle did not publish its final artifact, e.g. after cancellation
	ErrFrameSkipped = errors.New("frame skipped")
)

// Returns true if the error is fatal for pipeline construction
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidCalibration) || errors.Is(err, ErrNotSupported) || errors.Is(err, ErrNoMemory)
}

// Returns true if the error only affects the current frame cycle
func IsFrameLocal(err error) bool {
	return errors.Is(err, ErrFrameSkipped) || errors.Is(err, ErrNotConverged)
}
