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


package merge

import (
	"bufio"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/remap"
	"github.com/mlnoga/panostitch/internal/seam"
	"github.com/mlnoga/panostitch/internal/status"
)

// Composites an RGBA overlay onto an RGB image: out = rgb*(1-a) + overlay*a.
// Uncovered panorama pixels show the overlay where it is not transparent
func AlphaBlend(rgb, overlay *frame.Image) (*frame.Image, error) {
	if err:=rgb.Check(0, 0, 3); err!=nil { return nil, err }
	if err:=overlay.Check(rgb.Width(), rgb.Height(), 4); err!=nil { return nil, err }

	out:=frame.NewImageFromImage(rgb)
	size:=int(rgb.Pixels)
	alpha:=overlay.Channel(3)
	for i:=0; i<size; i++ {
		a:=alpha[i]
		for c:=0; c<3; c++ {
			v, o:=rgb.Data[c*size+i], overlay.Data[c*size+i]
			switch {
			case a<=0:
				out.Data[c*size+i]=v
			case math.IsNaN(float64(v)):
				out.Data[c*size+i]=o*a
			default:
				out.Data[c*size+i]=v*(1-a)+o*a
			}
		}
	}
	return out, nil
}

// Loads an overlay image from file and scales it bilinearly to the given size
func LoadOverlay(fileName string, width, height int) (*frame.Image, error) {
	f, err:=os.Open(fileName)
	if err!=nil { return nil, err }
	defer f.Close()

	src, _, err:=image.Decode(bufio.NewReader(f))
	if err!=nil {
		return nil, errors.Wrapf(status.ErrNotSupported, "decoding overlay %s: %v", fileName, err)
	}
	return ScaleOverlay(src, width, height), nil
}

// Scales a golang image bilinearly to the given size, and converts it into a four channel image
func ScaleOverlay(src image.Image, width, height int) *frame.Image {
	dst:=image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return frame.NewImageFromGoImage(dst, true)
}

// Renders the seams as colored polylines on a transparent canvas, one hue per camera pair
func SeamOverlay(paths []*seam.Path, width, height int, lineWidth float64) *frame.Image {
	dc:=gg.NewContext(width, height)
	dc.SetLineWidth(lineWidth)
	for k, p:=range paths {
		if p==nil || len(p.Coords)==0 { continue }
		col:=colorful.Hsv(360*float64(k)/float64(len(paths)), 1, 1)
		dc.SetRGBA(col.R, col.G, col.B, 1)
		lastX:=0
		for a, c:=range p.Coords {
			px, py:=int(c), a+p.Rect.Min.Y
			if !p.Vertical {
				px, py=a+p.Rect.Min.X, int(c)
			}
			px=remap.WrapX(px, width)
			x, y:=float64(px)+0.5, float64(py)+0.5
			// restart the line where the seam crosses the meridian
			if a==0 || px-lastX>width/2 || lastX-px>width/2 {
				dc.MoveTo(x, y)
			} else {
				dc.LineTo(x, y)
			}
			lastX=px
		}
		dc.Stroke()
	}
	return frame.NewImageFromGoImage(dc.Image(), true)
}
