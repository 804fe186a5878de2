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


// Package merge combines warped camera images into the panorama without pyramids,
// and composites overlays on top of it.
package merge

import (
	"math"

	"github.com/pkg/errors"

	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/ops"
	"github.com/mlnoga/panostitch/internal/remap"
	"github.com/mlnoga/panostitch/internal/status"
)

// Merges warped RGB images per pixel from the first and second contributing camera, weighted by the
// normalized blend weights of both. Pixels without a contributing camera are NaN
func Merge(imgs []*frame.Image, groups *remap.Groups, weights [][]float32, maxThreads int) (*frame.Image, error) {
	if len(imgs)==0 || len(weights)!=len(imgs) || groups==nil {
		return nil, errors.Wrapf(status.ErrInvalidParameters, "merging %d images with %d weight planes", len(imgs), len(weights))
	}
	w, h:=imgs[0].Width(), imgs[0].Height()
	size:=w*h
	for i, img:=range imgs {
		if err:=img.Check(w, h, 3); err!=nil { return nil, err }
		if len(weights[i])!=size {
			return nil, errors.Wrapf(status.ErrInvalidParameters, "camera %d has %d weights for %d pixels", i, len(weights[i]), size)
		}
	}
	if len(groups.First)!=size || len(groups.Second)!=size {
		return nil, errors.Wrapf(status.ErrInvalidParameters, "group maps of size %d for %d pixels", len(groups.First), size)
	}

	out:=frame.NewFilledImage(w, h, 3, float32(math.NaN()))
	ops.ParallelFor(h, maxThreads, func(y int) error {
		for i:=y*w; i<(y+1)*w; i++ {
			cams:=[2]uint8{groups.First[i], groups.Second[i]}
			var acc, plain [3]float32
			wsum, k:=float32(0), 0
			for _,c:=range cams {
				if c==remap.NoCamera || int(c)>=len(imgs) { continue }
				data:=imgs[c].Data
				if math.IsNaN(float64(data[i])) { continue }
				wc:=weights[c][i]
				wsum+=wc
				k++
				for ch:=0; ch<3; ch++ {
					v:=data[ch*size+i]
					acc[ch]+=wc*v
					plain[ch]+=v
				}
			}
			if k==0 { continue }
			for ch:=0; ch<3; ch++ {
				if wsum>0 {
					out.Data[ch*size+i]=acc[ch]/wsum
				} else {
					out.Data[ch*size+i]=plain[ch]/float32(k)
				}
			}
		}
		return nil
	})
	return out, nil
}
