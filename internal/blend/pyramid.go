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


package blend

import (
	"math"

	"github.com/pkg/errors"

	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/ops"
	"github.com/mlnoga/panostitch/internal/status"
)

// Binomial 5-tap kernel [1 4 6 4 1]/16
var kernel=[5]float64{1.0/16, 4.0/16, 6.0/16, 4.0/16, 1.0/16}

// Mirrors an index into [0,n) without repeating the border pixel
func reflect(i, n int) int {
	if n==1 { return 0 }
	for i<0 || i>=n {
		if i<0 { i=-i }
		if i>=n { i=2*n-2-i }
	}
	return i
}

// Maps a column index into [0,n). Wraps around for panoramas closed in x, mirrors otherwise
func column(i, n int, wrap bool) int {
	if !wrap { return reflect(i, n) }
	i%=n
	if i<0 { i+=n }
	return i
}

// Multi-band blender for a fixed panorama size, camera count and pyramid depth.
// Buffers are allocated once and reused across frames
type Blender struct {
	Arena   *Arena
	Cameras int
	WrapX   bool  // Columns wrap around, as in a full 360 degree panorama
}

// Camera pyramids of one frame. Read only once built
type Pyramids struct {
	Arena   *Arena
	Cameras int
	WrapX   bool
}

// Blended pyramid of one frame, held in the result slot of the arena
type Blended struct {
	Arena   *Arena
	Slot    int
	WrapX   bool
}

// Creates a blender with one pyramid slot per camera plus one for the result
func NewBlender(width, height, cameras, levels, budgetMB int) (*Blender, error) {
	if cameras<1 {
		return nil, errors.Wrapf(status.ErrInvalidParameters, "blending %d cameras", cameras)
	}
	a, err:=NewArena(width, height, cameras+1, levels, budgetMB)
	if err!=nil { return nil, err }
	return &Blender{Arena: a, Cameras: cameras}, nil
}

// Returns a view of the camera pyramids built so far
func (b *Blender) Pyramids() *Pyramids {
	return &Pyramids{Arena: b.Arena, Cameras: b.Cameras, WrapX: b.WrapX}
}

// Downsamples color and validity of a level by masked blurring and 2x decimation.
// Output pixels without any valid input in their support are invalid
func reduceMasked(dst, dstValid, src, valid []float32, w, h, w2, h2, channels int, wrap bool, maxThreads int) {
	ops.ParallelFor(h2, maxThreads, func(y2 int) error {
		for x2:=0; x2<w2; x2++ {
			o:=y2*w2+x2
			var den float64
			var num [3]float64
			for j:=0; j<5; j++ {
				yy:=reflect(2*y2+j-2, h)
				for i:=0; i<5; i++ {
					xx:=column(2*x2+i-2, w, wrap)
					idx:=yy*w+xx
					if valid[idx]==0 { continue }
					k:=kernel[i]*kernel[j]
					den+=k
					for c:=0; c<channels; c++ {
						num[c]+=k*float64(src[c*w*h+idx])
					}
				}
			}
			if den>0 {
				for c:=0; c<channels; c++ { dst[c*w2*h2+o]=float32(num[c]/den) }
				dstValid[o]=1
			} else {
				for c:=0; c<channels; c++ { dst[c*w2*h2+o]=0 }
				dstValid[o]=0
			}
		}
		return nil
	})
}

// Downsamples a single plane by blurring and 2x decimation
func reduce(dst, src []float32, w, h, w2, h2 int, wrap bool, maxThreads int) {
	ops.ParallelFor(h2, maxThreads, func(y2 int) error {
		for x2:=0; x2<w2; x2++ {
			sum:=0.0
			for j:=0; j<5; j++ {
				yy:=reflect(2*y2+j-2, h)
				for i:=0; i<5; i++ {
					xx:=column(2*x2+i-2, w, wrap)
					sum+=kernel[i]*kernel[j]*float64(src[yy*w+xx])
				}
			}
			dst[y2*w2+x2]=float32(sum)
		}
		return nil
	})
}

// Bilinearly upsamples a coarse plane of size w2 x h2 at fine pixel (x,y)
func upAt(src []float32, w2, h2, x, y int, wrap bool) float64 {
	sx, sy:=float64(x)*0.5, float64(y)*0.5
	x0, y0:=int(sx), int(sy)
	fx, fy:=sx-float64(x0), sy-float64(y0)
	x1, y1:=x0+1, y0+1
	if x1>=w2 {
		if wrap { x1=0 } else { x1=w2-1 }
	}
	if y1>=h2 { y1=h2-1 }
	if x0>=w2 { x0=w2-1 }
	if y0>=h2 { y0=h2-1 }
	top:=float64(src[y0*w2+x0])*(1-fx)+float64(src[y0*w2+x1])*fx
	bot:=float64(src[y1*w2+x0])*(1-fx)+float64(src[y1*w2+x1])*fx
	return top*(1-fy)+bot*fy
}

// Builds the Gaussian and Laplacian pyramids of one camera from its warped RGB image, NaN where invalid,
// and the Gaussian pyramid of its blend weights. Invalid fine pixels are filled from the coarser level,
// so their Laplacian is zero
func (b *Blender) Build(camera int, img *frame.Image, weights []float32, maxThreads int) error {
	a:=b.Arena
	if camera<0 || camera>=b.Cameras {
		return errors.Wrapf(status.ErrInvalidParameters, "camera %d of %d", camera, b.Cameras)
	}
	if err:=img.Check(a.Width, a.Height, 3); err!=nil { return err }
	if len(weights)!=a.Width*a.Height {
		return errors.Wrapf(status.ErrInvalidParameters, "camera %d has %d weights for %dx%d pixels", camera, len(weights), a.Width, a.Height)
	}

	color:=a.slice(Handle{PlaneColor,  camera, 0})
	valid:=a.slice(Handle{PlaneValid,  camera, 0})
	weight:=a.slice(Handle{PlaneWeight, camera, 0})
	copy(weight, weights)
	size:=a.Width*a.Height
	for i:=0; i<size; i++ {
		ok:=true
		for c:=0; c<3; c++ {
			v:=img.Data[c*size+i]
			if math.IsNaN(float64(v)) { ok=false }
			color[c*size+i]=v
		}
		if ok {
			valid[i]=1
		} else {
			valid[i]=0
			for c:=0; c<3; c++ { color[c*size+i]=0 }
		}
	}

	// Gaussian pyramids
	for l:=1; l<a.Levels; l++ {
		w, h:=a.Dims(l-1)
		w2, h2:=a.Dims(l)
		reduceMasked(a.slice(Handle{PlaneColor, camera, l}), a.slice(Handle{PlaneValid, camera, l}),
		             a.slice(Handle{PlaneColor, camera, l-1}), a.slice(Handle{PlaneValid, camera, l-1}),
		             w, h, w2, h2, 3, b.WrapX, maxThreads)
		reduce(a.slice(Handle{PlaneWeight, camera, l}), a.slice(Handle{PlaneWeight, camera, l-1}), w, h, w2, h2, b.WrapX, maxThreads)
	}

	// Laplacian residuals, fine to coarse so the next level is still Gaussian
	for l:=0; l<a.Levels-1; l++ {
		w, h:=a.Dims(l)
		w2, h2:=a.Dims(l+1)
		fine, fineValid:=a.slice(Handle{PlaneColor, camera, l}), a.slice(Handle{PlaneValid, camera, l})
		coarse:=a.slice(Handle{PlaneColor, camera, l+1})
		ops.ParallelFor(h, maxThreads, func(y int) error {
			for x:=0; x<w; x++ {
				i:=y*w+x
				if fineValid[i]==0 {
					for c:=0; c<3; c++ { fine[c*w*h+i]=0 }
					continue
				}
				for c:=0; c<3; c++ {
					up:=upAt(coarse[c*w2*h2:(c+1)*w2*h2], w2, h2, x, y, b.WrapX)
					fine[c*w*h+i]=float32(float64(fine[c*w*h+i])-up)
				}
			}
			return nil
		})
	}
	return nil
}

// Blends the Laplacian pyramids of all cameras level by level into the result slot. Each level is weighted
// by the Gaussian weight pyramid, renormalized over the cameras valid at that pixel. Camera slots are not modified
func (p *Pyramids) Blend(maxThreads int) *Blended {
	a:=p.Arena
	res:=p.Cameras
	for l:=0; l<a.Levels; l++ {
		w, h:=a.Dims(l)
		size:=w*h
		out, outValid:=a.slice(Handle{PlaneColor, res, l}), a.slice(Handle{PlaneValid, res, l})
		colors:=make([][]float32, p.Cameras)
		valids:=make([][]float32, p.Cameras)
		weights:=make([][]float32, p.Cameras)
		for c:=0; c<p.Cameras; c++ {
			colors[c]=a.slice(Handle{PlaneColor, c, l})
			valids[c]=a.slice(Handle{PlaneValid, c, l})
			weights[c]=a.slice(Handle{PlaneWeight, c, l})
		}
		ops.ParallelFor(h, maxThreads, func(y int) error {
			for i:=y*w; i<(y+1)*w; i++ {
				var acc, plain [3]float64
				wsum, k:=0.0, 0
				for c:=0; c<p.Cameras; c++ {
					if valids[c][i]==0 { continue }
					k++
					wc:=float64(weights[c][i])
					wsum+=wc
					for ch:=0; ch<3; ch++ {
						v:=float64(colors[c][ch*size+i])
						acc[ch]+=wc*v
						plain[ch]+=v
					}
				}
				if k==0 {
					for ch:=0; ch<3; ch++ { out[ch*size+i]=0 }
					outValid[i]=0
					continue
				}
				for ch:=0; ch<3; ch++ {
					if wsum>1e-12 {
						out[ch*size+i]=float32(acc[ch]/wsum)
					} else {
						out[ch*size+i]=float32(plain[ch]/float64(k))
					}
				}
				outValid[i]=1
			}
			return nil
		})
	}
	return &Blended{Arena: a, Slot: res, WrapX: p.WrapX}
}

// Collapses the blended pyramid from the coarsest level down, adding upscaled results to the blended residuals.
// Works on fresh buffers, so the blended pyramid stays unchanged. Returns an RGB image, NaN where no camera contributes
func (bl *Blended) Reconstruct(maxThreads int) *frame.Image {
	a:=bl.Arena
	top:=a.Levels-1
	cw, ch:=a.Dims(top)
	cur:=append([]float32(nil), a.slice(Handle{PlaneColor, bl.Slot, top})...)
	for l:=top-1; l>=0; l-- {
		w, h:=a.Dims(l)
		w2, h2, coarse:=cw, ch, cur
		fine:=a.slice(Handle{PlaneColor, bl.Slot, l})
		next:=make([]float32, 3*w*h)
		ops.ParallelFor(h, maxThreads, func(y int) error {
			for x:=0; x<w; x++ {
				i:=y*w+x
				for c:=0; c<3; c++ {
					up:=upAt(coarse[c*w2*h2:(c+1)*w2*h2], w2, h2, x, y, bl.WrapX)
					next[c*w*h+i]=float32(float64(fine[c*w*h+i])+up)
				}
			}
			return nil
		})
		cur, cw, ch = next, w, h
	}

	size:=a.Width*a.Height
	out:=frame.NewFilledImage(a.Width, a.Height, 3, float32(math.NaN()))
	valid:=a.slice(Handle{PlaneValid, bl.Slot, 0})
	for i:=0; i<size; i++ {
		if valid[i]==0 { continue }
		for c:=0; c<3; c++ { out.Data[c*size+i]=cur[c*size+i] }
	}
	return out
}

// Builds, blends and reconstructs in one go
func (b *Blender) Run(imgs []*frame.Image, weights [][]float32, maxThreads int) (*frame.Image, error) {
	if len(imgs)!=b.Cameras || len(weights)!=b.Cameras {
		return nil, errors.Wrapf(status.ErrInvalidParameters, "%d images and %d weight planes for %d cameras", len(imgs), len(weights), b.Cameras)
	}
	err:=ops.ParallelFor(b.Cameras, maxThreads, func(c int) error {
		return b.Build(c, imgs[c], weights[c], 1)
	})
	if err!=nil { return nil, err }
	return b.Pyramids().Blend(maxThreads).Reconstruct(maxThreads), nil
}
