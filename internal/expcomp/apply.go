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


package expcomp

import (
	"github.com/pkg/errors"

	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/status"
)

// Applies gain and offset of the given camera to a copy of the image: out = in*gain + offset per channel.
// NaN pixels stay NaN
func ApplyGains(img *frame.Image, camera int, gv *GainVector) (*frame.Image, error) {
	if gv==nil || camera<0 || camera>=gv.N() {
		return nil, errors.Wrapf(status.ErrInvalidParameters, "%d: no gains for camera", camera)
	}
	out:=img.Clone()
	for c:=0; c<out.Channels(); c++ {
		gain, offset:=gv.For(camera, c)
		if gain==1 && offset==0 { continue }
		out.ApplyScaleOffsetToChannel(c, gain, offset)
	}
	return out, nil
}

// Decides per frame whether gains are solved, or the previous ones re-published
type Cadence struct {
	Every int
	last  *GainVector
}

// Returns true if gains need solving on the given frame
func (c *Cadence) Due(frame int) bool {
	return c.last==nil || c.Every<=1 || frame%c.Every==0
}

// Remembers freshly solved gains
func (c *Cadence) Solved(gv *GainVector) { c.last=gv }

// Returns the last solved gains marked as stale, or nil if none
func (c *Cadence) Stale() *GainVector {
	if c.last==nil { return nil }
	return c.last.AsStale()
}

// Creates gains from configured per camera values. Zero values select unity
func ManualGains(gains []float32) *GainVector {
	gv:=NewUnityGains(len(gains), 1)
	for i, g:=range gains {
		if g>0 { gv.Gain[i]=g }
	}
	return gv
}
